package babus

import "fmt"

// validateName checks a domain or slot name at open time. Names become
// tmpfs file names and live in fixed 32-byte header buffers: printable
// ASCII only, no '/', no whitespace, at most NameSize-1 bytes.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrBadName)
	}

	if len(name) > NameSize-1 {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrBadName, name, NameSize-1)
	}

	for i := range len(name) {
		c := name[i]

		switch {
		case c == '/':
			return fmt.Errorf("%w: %q contains '/'", ErrBadName, name)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			return fmt.Errorf("%w: %q contains whitespace", ErrBadName, name)
		case c < '!' || c > '~':
			return fmt.Errorf("%w: %q contains byte 0x%02x", ErrBadName, name, c)
		}
	}

	return nil
}
