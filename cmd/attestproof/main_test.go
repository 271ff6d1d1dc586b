package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aspect-build/attestproof/internal/testutil"
)

func newIssuer(t *testing.T) *testutil.Issuer {
	t.Helper()
	iss, err := testutil.NewIssuer("K1")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	t.Cleanup(iss.Close)
	return iss
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func trustFlags(iss *testutil.Issuer) []string {
	return []string{"--allow-jku", iss.URL, "--allow-insecure-http", "--log-level", "error"}
}

func mintToken(t *testing.T, iss *testutil.Issuer) string {
	t.Helper()
	raw, err := iss.Mint(testutil.Claims(1734719094))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestVerifyCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	iss := newIssuer(t)
	raw := mintToken(t, iss)

	code, out, stderr := runCLI(t, "", append([]string{"verify", "--token", raw}, trustFlags(iss)...)...)
	if code != 0 {
		t.Fatalf("exit = %d stderr=%s out=%s", code, stderr, out)
	}
	var rep map[string]any
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if rep["verified"] != true || rep["kid"] != "K1" {
		t.Errorf("report = %v", rep)
	}

	code, out, _ = runCLI(t, raw, append([]string{"verify", "--out", "hex"}, trustFlags(iss)...)...)
	if code != 0 || !strings.HasPrefix(out, "0x") {
		t.Fatalf("hex from stdin: exit=%d out=%q", code, out)
	}

	// The hex output decodes back to the same nonce and price.
	code, dec, _ := runCLI(t, "", "decode", strings.TrimSpace(out))
	if code != 0 || !strings.Contains(dec, `"nonce": "n-1"`) || !strings.Contains(dec, `"price": "350050000000"`) {
		t.Fatalf("decode: exit=%d out=%s", code, dec)
	}
}

func TestVerifyCommandFailure(t *testing.T) {
	t.Chdir(t.TempDir())
	iss := newIssuer(t)
	other, err := testutil.Key("cli-other")
	if err != nil {
		t.Fatal(err)
	}
	forged, err := iss.MintWith(testutil.Claims(1734719094), nil, other)
	if err != nil {
		t.Fatal(err)
	}

	code, out, _ := runCLI(t, "", append([]string{"verify", "--token", forged}, trustFlags(iss)...)...)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(out, `"kind": "SignatureInvalid"`) || !strings.Contains(out, `"key_bits": 2048`) {
		t.Errorf("failure report = %s", out)
	}

	// A jku outside the allowlist is rejected before any fetch.
	code, out, _ = runCLI(t, "", "verify", "--token", forged, "--log-level", "error")
	if code != 1 || !strings.Contains(out, "KeySetURLRejected") {
		t.Errorf("default allowlist: exit=%d out=%s", code, out)
	}
	if iss.Hits() != 1 {
		t.Errorf("hits = %d, want 1", iss.Hits())
	}
}

func TestVerifyCommandUsage(t *testing.T) {
	t.Chdir(t.TempDir())
	if code, _, stderr := runCLI(t, "", "verify", "--token", "x", "--out", "yaml"); code != 2 || !strings.Contains(stderr, "--out") {
		t.Errorf("bad --out: exit=%d stderr=%s", code, stderr)
	}
	if code, _, _ := runCLI(t, "", "verify", "--token", "x", "--token-file", "y"); code != 2 {
		t.Errorf("exclusive flags: exit=%d", code)
	}
	if code, _, _ := runCLI(t, "", "verify", "--token", "x", "--log-level", "loud"); code != 2 {
		t.Errorf("bad log level: exit=%d", code)
	}
}

func TestVerifyCommandCacheDB(t *testing.T) {
	t.Chdir(t.TempDir())
	iss := newIssuer(t)
	raw := mintToken(t, iss)
	dbPath := filepath.Join(t.TempDir(), "keys.db")

	for i := 0; i < 2; i++ {
		code, out, _ := runCLI(t, "", append([]string{"verify", "--token", raw, "--cache-db", dbPath}, trustFlags(iss)...)...)
		if code != 0 {
			t.Fatalf("run %d: exit=%d out=%s", i, code, out)
		}
	}
	if iss.Hits() != 1 {
		t.Errorf("hits = %d, want 1 with a persistent cache", iss.Hits())
	}
}

func TestVerifyCommandPolicyFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	iss := newIssuer(t)
	c := testutil.Claims(1734719094)
	c["secureboot"] = false
	raw, err := iss.Mint(c)
	if err != nil {
		t.Fatal(err)
	}

	if code, _, _ := runCLI(t, "", append([]string{"verify", "--token", raw}, trustFlags(iss)...)...); code != 0 {
		t.Fatalf("without policy: exit=%d", code)
	}
	code, out, _ := runCLI(t, "", append([]string{"verify", "--token", raw, "--require-secure-boot"}, trustFlags(iss)...)...)
	if code != 1 || !strings.Contains(out, "PolicyViolation") {
		t.Errorf("with policy: exit=%d out=%s", code, out)
	}
}

func TestKeysCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	iss := newIssuer(t)
	code, out, stderr := runCLI(t, "", append([]string{"keys", iss.URL}, trustFlags(iss)...)...)
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(out, "K1") || !strings.Contains(out, "2048") {
		t.Errorf("keys output = %s", out)
	}
}

func TestInspectCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	iss := newIssuer(t)
	code, out, stderr := runCLI(t, "", "inspect", mintToken(t, iss), "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "UNVERIFIED") {
		t.Errorf("missing warning: %s", stderr)
	}
	if !strings.Contains(out, `"verified": false`) || !strings.Contains(out, `"issuer": "https://sharedeus2.eus2.attest.azure.net"`) {
		t.Errorf("inspect output = %s", out)
	}
	if iss.Hits() != 0 {
		t.Errorf("inspect fetched keys")
	}
}
