//go:build dev

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func init() {
	devCommands = append(devCommands, newSampleCmd())
}

func newSampleCmd() *cobra.Command {
	var (
		outDir string
		jku    string
		kid    string
		price  string
		nonce  string
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "[dev] Generate a signing key, a JWKS document and a matching sample token",
		Long: `Generate a fresh 2048-bit RSA key, write jwks.json and token.txt to the
output directory. Serve jwks.json at --jku and allowlist it to verify the token.

NOTE: This command is only available in dev builds (go build -tags dev).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSample(outDir, jku, kid, price, nonce)
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&jku, "jku", "http://127.0.0.1:8000/certs", "Key-set URL placed in the token header")
	cmd.Flags().StringVar(&kid, "kid", "dev-1", "Key ID")
	cmd.Flags().StringVar(&price, "price", "3500.5", "Client payload price")
	cmd.Flags().StringVar(&nonce, "nonce", "dev-nonce", "Client payload nonce")

	return cmd
}

func writeSample(outDir, jku, kid, price, nonce string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     kid,
		Algorithm: "RS256",
		Use:       "sig",
	}}}
	jwks, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jwks: %w", err)
	}

	now := time.Now().Unix()
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	claims := jwt.MapClaims{
		"iss":                              "https://dev.attest.local",
		"iat":                              now,
		"nbf":                              now,
		"exp":                              now + 8*3600,
		"secureboot":                       true,
		"x-ms-attestation-type":            "azurevm",
		"x-ms-azurevm-debuggersdisabled":   true,
		"x-ms-azurevm-bootdebug-enabled":   false,
		"x-ms-azurevm-kerneldebug-enabled": false,
		"x-ms-isolation-tee": map[string]any{
			"x-ms-attestation-type":       "sevsnpvm",
			"x-ms-compliance-status":      "azure-compliant-cvm",
			"x-ms-sevsnpvm-is-debuggable": false,
			"x-ms-sevsnpvm-vmpl":          0,
		},
		"x-ms-runtime": map[string]any{
			"client-payload": map[string]any{
				"price":     b64(price),
				"timestamp": b64(fmt.Sprint(now)),
				"nonce":     b64(nonce),
			},
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["jku"] = jku
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "jwks.json"), jwks, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "token.txt"), []byte(signed+"\n"), 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %s and %s\n", filepath.Join(outDir, "jwks.json"), filepath.Join(outDir, "token.txt"))
	fmt.Printf("jku=%s kid=%s\n", jku, kid)
	return nil
}
