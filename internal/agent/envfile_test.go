package agent

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "agent.env")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadEnvFile(t *testing.T) {
	p := writeEnvFile(t, `# price feed credentials
PRICE_API_KEY="sk-live-123"
export REGION='eus2'

EMPTY=
PRICE_API_KEY=sk-live-456
`)
	ef, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if !slices.Equal(ef.Keys, []string{"PRICE_API_KEY", "REGION", "EMPTY"}) {
		t.Errorf("keys = %v", ef.Keys)
	}
	if ef.Values["PRICE_API_KEY"] != "sk-live-456" || ef.Values["REGION"] != "eus2" {
		t.Errorf("values = %v", ef.Values)
	}

	env := ef.Environ([]string{"PATH=/bin", "REGION=old"})
	want := []string{"PATH=/bin", "PRICE_API_KEY=sk-live-456", "REGION=eus2", "EMPTY="}
	if !slices.Equal(env, want) {
		t.Errorf("Environ = %v, want %v", env, want)
	}

	if got := ef.Secrets([]string{"PRICE_API_KEY", "EMPTY", "MISSING"}); !slices.Equal(got, []string{"sk-live-456"}) {
		t.Errorf("Secrets = %v", got)
	}
}

func TestLoadEnvFileErrors(t *testing.T) {
	if _, err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadEnvFile(writeEnvFile(t, "NOEQUALS\n")); err == nil {
		t.Error("expected error for missing '='")
	}
	if _, err := LoadEnvFile(writeEnvFile(t, "=value\n")); err == nil {
		t.Error("expected error for empty key")
	}
}
