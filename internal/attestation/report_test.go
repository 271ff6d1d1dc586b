package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aspect-build/attestproof/internal/testutil"
)

func TestReportSuccess(t *testing.T) {
	iss := newIssuer(t)
	v := newVerifier(t, iss, nil)
	res, err := v.Verify(context.Background(), mint(t, iss, testutil.Claims(testIssuedAt)))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	rep := res.Report()
	if !rep.Verified || rep.KeyBits != 2048 || rep.SchemaVersion != 1 || len(rep.Digest) != 32 {
		t.Fatalf("report = %+v", rep)
	}
	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"verified":true`, `"schema":"(bytes,bytes,bytes4,`, `"digest":"0x`, `"price":"3500.5"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("report JSON missing %s: %s", want, b)
		}
	}
	if strings.Contains(string(b), `"kind"`) {
		t.Errorf("success report carries a kind: %s", b)
	}
}

func TestFailureReport(t *testing.T) {
	iss := newIssuer(t)
	v := newVerifier(t, iss, nil)
	other, err := testutil.Key("report-other")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := iss.MintWith(testutil.Claims(testIssuedAt), nil, other)
	if err != nil {
		t.Fatal(err)
	}
	_, err = v.Verify(context.Background(), raw)

	rep := FailureReport(err)
	if rep.Verified || rep.Kind != KindSignatureInvalid || rep.Stage != "signature" {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Diagnostic == nil || rep.Diagnostic.SignatureLen != 256 || rep.Diagnostic.KeyBits != 2048 {
		t.Fatalf("diagnostic = %+v", rep.Diagnostic)
	}

	plain := FailureReport(errors.New("boom"))
	if plain.Kind != KindUnknown || plain.Stage != "" || plain.Error != "boom" {
		t.Errorf("plain = %+v", plain)
	}
}

func TestInspect(t *testing.T) {
	iss := newIssuer(t)
	raw := mint(t, iss, testutil.Claims(testIssuedAt))

	in, err := Inspect(raw)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if in.Verified || in.Header.KID != "K1" || in.SignatureLen != 256 {
		t.Fatalf("inspection = %+v", in)
	}
	if iss.Hits() != 0 {
		t.Errorf("Inspect fetched keys")
	}
	if _, err := Inspect("only.two"); Classify(err) != KindMalformedToken {
		t.Errorf("Classify = %s", Classify(err))
	}
}
