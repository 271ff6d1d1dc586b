// Package sigverify checks RSASSA-PKCS1-v1_5 signatures over SHA-256.
package sigverify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

var ErrSignatureInvalid = errors.New("signature invalid")

// Diagnostic carries sizes only. It never includes key or signature bytes.
type Diagnostic struct {
	SignatureLen int `json:"signature_len"`
	MessageLen   int `json:"message_len"`
	KeyBits      int `json:"key_bits"`
}

// Error is returned for every rejected signature.
type Error struct {
	Diagnostic
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (signature=%dB message=%dB key=%dbit)",
		ErrSignatureInvalid, e.Reason, e.SignatureLen, e.MessageLen, e.KeyBits)
}

func (e *Error) Unwrap() error { return ErrSignatureInvalid }

// Verify returns nil only when signature is a valid PKCS#1 v1.5 SHA-256
// signature of message under pub.
func Verify(pub *rsa.PublicKey, message, signature []byte) error {
	d := Diagnostic{SignatureLen: len(signature), MessageLen: len(message)}
	if pub == nil || pub.N == nil {
		return &Error{Diagnostic: d, Reason: "no public key"}
	}
	d.KeyBits = pub.N.BitLen()
	if len(signature) != pub.Size() {
		return &Error{Diagnostic: d, Reason: fmt.Sprintf("signature length must equal modulus length %d", pub.Size())}
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return &Error{Diagnostic: d, Reason: "verification failed"}
	}
	return nil
}

// Valid reports whether Verify succeeds.
func Valid(pub *rsa.PublicKey, message, signature []byte) bool {
	return Verify(pub, message, signature) == nil
}
