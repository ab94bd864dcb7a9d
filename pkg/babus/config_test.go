package babus_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/steplee/babus/pkg/babus"
)

// isolatedEnv pins XDG_CONFIG_HOME to an empty temp dir so the runner's
// real config cannot leak into the test, then appends overrides.
func isolatedEnv(t *testing.T, extra ...string) []string {
	t.Helper()

	env := []string{"XDG_CONFIG_HOME=" + t.TempDir()}

	return append(env, extra...)
}

func Test_LoadConfig_Returns_Defaults_Without_Sources(t *testing.T) {
	t.Parallel()

	cfg, err := babus.LoadConfig(isolatedEnv(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if diff := cmp.Diff(babus.DefaultConfig(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_LoadConfig_Environment_Overrides_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := babus.LoadConfig(isolatedEnv(t,
		"BABUS_PREFIX=/tmp/altbus",
		"BABUS_DOMAIN_SIZE=8192",
		"BABUS_SLOT_SIZE=65536",
	))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := babus.Config{Prefix: "/tmp/altbus", DomainSize: 8192, SlotSize: 65536}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_LoadConfig_Reads_Global_JSONC_File(t *testing.T) {
	t.Parallel()

	configHome := t.TempDir()

	dir := filepath.Join(configHome, "babus")

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// JSONC: comments and trailing commas are fine.
	content := `{
  // bus files live here
  "prefix": "/tmp/jsoncbus",
  "slot_size": 32768,
}`

	err = os.WriteFile(filepath.Join(dir, babus.ConfigFileName), []byte(content), 0o600)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := babus.LoadConfig([]string{"XDG_CONFIG_HOME=" + configHome})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := babus.DefaultConfig()
	want.Prefix = "/tmp/jsoncbus"
	want.SlotSize = 32768

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_LoadConfig_Environment_Wins_Over_File(t *testing.T) {
	t.Parallel()

	configHome := t.TempDir()

	dir := filepath.Join(configHome, "babus")

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err = os.WriteFile(filepath.Join(dir, babus.ConfigFileName), []byte(`{"prefix": "/tmp/frombus"}`), 0o600)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := babus.LoadConfig([]string{
		"XDG_CONFIG_HOME=" + configHome,
		"BABUS_PREFIX=/tmp/envbus",
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Prefix != "/tmp/envbus" {
		t.Fatalf("prefix %q, want the environment's", cfg.Prefix)
	}
}

func Test_LoadConfig_Rejects_Invalid_Values(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"non-numeric size": {"BABUS_DOMAIN_SIZE=lots"},
		"tiny domain":      {"BABUS_DOMAIN_SIZE=64"},
		"tiny slot":        {"BABUS_SLOT_SIZE=256"},
	}

	for name, extra := range cases {
		_, err := babus.LoadConfig(isolatedEnv(t, extra...))
		if err == nil {
			t.Errorf("%s: LoadConfig accepted %v", name, extra)
		}
	}
}

func Test_FormatConfig_Round_Trips_Through_JSON(t *testing.T) {
	t.Parallel()

	out, err := babus.FormatConfig(babus.DefaultConfig())
	if err != nil {
		t.Fatalf("FormatConfig: %v", err)
	}

	if out == "" {
		t.Fatal("empty formatted config")
	}
}
