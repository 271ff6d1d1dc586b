package keyset

import (
	"errors"
	"testing"
)

func TestAllowlistCheck(t *testing.T) {
	al, err := ParseAllowlist([]string{
		"https://*.attest.azure.net/certs",
		"https://keys.example.com",
		"http://127.0.0.1:8080/jwks",
	}, false)
	if err != nil {
		t.Fatalf("ParseAllowlist: %v", err)
	}

	cases := []struct {
		url  string
		want bool
	}{
		{"https://sharedeus2.eus2.attest.azure.net/certs", true},
		{"https://SHAREDEUS2.eus2.attest.azure.net/certs", true},
		{"https://attest.azure.net/certs", false},
		{"https://sharedeus2.eus2.attest.azure.net/other", false},
		{"https://evil.attest.azure.net.example.org/certs", false},
		{"https://evilattest.azure.net/certs", false},
		{"https://keys.example.com/anything", true},
		{"https://keys.example.com:8443/anything", false},
		{"https://user:pw@keys.example.com/", false},
		{"http://keys.example.com/", false},
		{"http://127.0.0.1:8080/jwks", false},
		{"ftp://keys.example.com/", false},
		{"/relative/path", false},
		{"::not a url", false},
	}
	for _, c := range cases {
		err := al.Check(c.url)
		if c.want && err != nil {
			t.Fatalf("%s: expected allowed, got %v", c.url, err)
		}
		if !c.want && !errors.Is(err, ErrURLNotAllowed) {
			t.Fatalf("%s: expected ErrURLNotAllowed, got %v", c.url, err)
		}
	}
}

func TestAllowlistInsecureHTTP(t *testing.T) {
	al, err := ParseAllowlist([]string{"http://127.0.0.1:8080/jwks"}, true)
	if err != nil {
		t.Fatalf("ParseAllowlist: %v", err)
	}
	if err := al.Check("http://127.0.0.1:8080/jwks"); err != nil {
		t.Fatalf("expected http allowed with insecure flag: %v", err)
	}
	if err := al.Check("http://127.0.0.1:8081/jwks"); !errors.Is(err, ErrURLNotAllowed) {
		t.Fatalf("port must match: %v", err)
	}
}

func TestEmptyAllowlistRejectsEverything(t *testing.T) {
	al, err := ParseAllowlist(nil, true)
	if err != nil {
		t.Fatalf("ParseAllowlist: %v", err)
	}
	if al.Len() != 0 {
		t.Fatalf("expected empty allowlist")
	}
	if err := al.Check("https://sharedeus2.eus2.attest.azure.net/certs"); !errors.Is(err, ErrURLNotAllowed) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestParseAllowlistInvalid(t *testing.T) {
	for _, p := range []string{"keys.example.com", "ftp://keys.example.com", "https://", "https://a.*.example.com"} {
		if _, err := ParseAllowlist([]string{p}, false); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}
