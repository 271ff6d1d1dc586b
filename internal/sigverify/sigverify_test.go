package sigverify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"testing"
)

func signTestMessage(t *testing.T, priv *rsa.PrivateKey, msg []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestVerify(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("eyJhbGciOiJSUzI1NiJ9.eyJpc3MiOiJ4In0")
	sig := signTestMessage(t, priv, msg)

	if err := Verify(&priv.PublicKey, msg, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if !Valid(&priv.PublicKey, msg, sig) {
		t.Fatalf("Valid returned false")
	}

	err = Verify(&other.PublicKey, msg, sig)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("wrong key: expected ErrSignatureInvalid, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.SignatureLen != 256 || se.MessageLen != len(msg) || se.KeyBits != 2048 {
		t.Fatalf("unexpected diagnostic: %+v", se.Diagnostic)
	}
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("header.payload")
	sig := signTestMessage(t, priv, msg)

	for _, i := range []int{0, 1, 127, 255} {
		flipped := append([]byte(nil), sig...)
		flipped[i] ^= 0x01
		if Valid(&priv.PublicKey, msg, flipped) {
			t.Fatalf("signature with bit flip at byte %d accepted", i)
		}
	}
	for i := range msg {
		flipped := append([]byte(nil), msg...)
		flipped[i] ^= 0x20
		if Valid(&priv.PublicKey, flipped, sig) {
			t.Fatalf("message with bit flip at byte %d accepted", i)
		}
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("m")
	sig := signTestMessage(t, priv, msg)

	cases := map[string]struct {
		pub *rsa.PublicKey
		sig []byte
	}{
		"nil key":       {nil, sig},
		"empty sig":     {&priv.PublicKey, nil},
		"short sig":     {&priv.PublicKey, sig[:255]},
		"long sig":      {&priv.PublicKey, append(append([]byte(nil), sig...), 0)},
		"leading zeros": {&priv.PublicKey, append([]byte{0}, sig[:255]...)},
	}
	for name, c := range cases {
		if err := Verify(c.pub, msg, c.sig); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("%s: expected ErrSignatureInvalid, got %v", name, err)
		}
	}
}
