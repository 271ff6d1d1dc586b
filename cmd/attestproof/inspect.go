package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/canonical"
	"github.com/aspect-build/attestproof/internal/claims"
)

func (c *cli) inspectCmd() *cobra.Command {
	var tokenFile string
	cmd := &cobra.Command{
		Use:   "inspect [token]",
		Short: "Print header and claims WITHOUT verifying the signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src attestation.Collector = attestation.FileCollector{Path: "-", Stdin: cmd.InOrStdin()}
			if len(args) == 1 {
				src = attestation.StaticCollector(args[0])
			} else if tokenFile != "" {
				src = attestation.FileCollector{Path: tokenFile, Stdin: cmd.InOrStdin()}
			}
			raw, err := src.Collect(cmd.Context())
			if err != nil {
				return err
			}
			in, err := attestation.Inspect(raw)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: UNVERIFIED token contents; signature not checked")
			out := struct {
				*attestation.Inspection
				Claims      *claims.Claims `json:"claims,omitempty"`
				ClaimsError string         `json:"claims_error,omitempty"`
			}{Inspection: in}
			if cl, err := claims.Extract(in.Payload); err != nil {
				out.ClaimsError = err.Error()
			} else {
				out.Claims = cl
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "Read the token from a file (- for stdin)")
	return cmd
}

func (c *cli) decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <0xhex|@file>",
		Short: "Decode a canonical record the way an on-chain consumer would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			if strings.HasPrefix(in, "@") {
				b, err := os.ReadFile(in[1:])
				if err != nil {
					return err
				}
				in = strings.TrimSpace(string(b))
			}
			if !strings.HasPrefix(in, "0x") {
				in = "0x" + in
			}
			b, err := hexutil.Decode(in)
			if err != nil {
				return fmt.Errorf("decode hex: %w", err)
			}
			rec, err := canonical.Decode(b)
			if err != nil {
				return err
			}
			d := canonical.Digest(b)
			return writeJSON(cmd.OutOrStdout(), struct {
				Schema        string            `json:"schema"`
				SchemaVersion int               `json:"schema_version"`
				Record        *canonical.Record `json:"record"`
				Digest        string            `json:"digest"`
			}{canonical.SchemaSignature(), canonical.SchemaVersion, rec, hexutil.Encode(d[:])})
		},
	}
}

