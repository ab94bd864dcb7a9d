package cli

import (
	"unicode"

	"github.com/steplee/babus/pkg/babus"
)

// openDomain opens a bus applying the global-flag overrides.
func openDomain(ov overrides, name string) (*babus.ClientDomain, error) {
	return babus.Open(ov.options(name))
}

// formatPayload renders a payload for terminal output: printable text is
// quoted, anything else is summarized.
func formatPayload(p []byte) string {
	const previewLimit = 128

	printable := true

	for _, b := range p {
		if b != 0 && (b > unicode.MaxASCII || !unicode.IsPrint(rune(b)) && b != '\n' && b != '\t') {
			printable = false

			break
		}
	}

	if printable && len(p) <= previewLimit {
		return string(p)
	}

	if printable {
		return string(p[:previewLimit]) + "..."
	}

	return "<binary>"
}
