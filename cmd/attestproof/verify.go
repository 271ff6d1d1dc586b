package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/db"
	"github.com/aspect-build/attestproof/internal/keyset"
)

// verificationFailed signals exit code 1; the report was already printed.
type verificationFailed struct{ kind attestation.Kind }

func (e *verificationFailed) Error() string { return "verification failed: " + string(e.kind) }

type verifyOptions struct {
	token             string
	tokenFile         string
	out               string
	claimsOnly        bool
	cacheDB           string
	requireSecureBoot bool
	rejectDebuggable  bool
	checkExpiry       bool
}

func (c *cli) verifyCmd() *cobra.Command {
	var o verifyOptions
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a token and print the canonical encoding",
		Long: `Verify an attestation token end to end: parse, resolve the signing key from
the allowlisted jku, check the RS256 signature, extract claims and encode them.

The token comes from --token, --token-file (use - for stdin), or the
configured attestation agent (--agent). With none of these, stdin is read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch o.out {
			case "json", "hex", "raw":
			default:
				return fmt.Errorf("--out must be json, hex or raw")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.verify(ctx, cmd, o)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&o.token, "token", "", "Compact token to verify")
	fs.StringVar(&o.tokenFile, "token-file", "", "Read the token from a file (- for stdin)")
	fs.StringVar(&o.out, "out", "json", "Output format: json|hex|raw")
	fs.BoolVar(&o.claimsOnly, "claims-only", false, "Verify signature and claims but skip the canonical encoding")
	fs.StringVar(&o.cacheDB, "cache-db", "", "SQLite file caching fetched key sets (enables caching)")
	fs.BoolVar(&o.requireSecureBoot, "require-secure-boot", false, "Reject tokens without secure boot")
	fs.BoolVar(&o.rejectDebuggable, "reject-debuggable", false, "Reject debuggable TEEs")
	fs.BoolVar(&o.checkExpiry, "check-expiry", false, "Reject expired or not-yet-valid tokens")
	cmd.MarkFlagsMutuallyExclusive("token", "token-file")
	return cmd
}

func (c *cli) verify(ctx context.Context, cmd *cobra.Command, o verifyOptions) error {
	ks := c.cfg.KeySet
	var store keyset.KeyStore
	if o.cacheDB != "" {
		s, err := db.NewStore(o.cacheDB)
		if err != nil {
			return fmt.Errorf("open key cache: %w", err)
		}
		defer s.Close()
		store = s
		ks.CacheEnabled = true
	}
	resolver, _, err := ks.NewResolver(store)
	if err != nil {
		return err
	}

	pc := c.cfg.Policy
	pc.RequireSecureBoot = pc.RequireSecureBoot || o.requireSecureBoot
	pc.RejectDebuggable = pc.RejectDebuggable || o.rejectDebuggable
	pc.CheckExpiry = pc.CheckExpiry || o.checkExpiry
	engine, err := pc.NewEngine(ctx)
	if err != nil {
		return err
	}

	src, err := c.tokenSource(cmd, o)
	if err != nil {
		return err
	}
	v := attestation.NewTokenVerifier(resolver, engine)
	verify := v.Verify
	if o.claimsOnly {
		verify = v.VerifyClaims
	}

	raw, err := src.Collect(ctx)
	var res *attestation.Result
	if err != nil {
		err = &attestation.Error{Kind: attestation.KindTokenSource, Stage: "collect", Err: err}
	} else {
		res, err = verify(ctx, raw)
	}
	if err != nil {
		rep := attestation.FailureReport(err)
		if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
			return werr
		}
		return &verificationFailed{kind: rep.Kind}
	}
	return printResult(cmd.OutOrStdout(), res, o.out)
}

func (c *cli) tokenSource(cmd *cobra.Command, o verifyOptions) (attestation.Collector, error) {
	switch {
	case o.token != "":
		return attestation.StaticCollector(o.token), nil
	case o.tokenFile != "":
		return attestation.FileCollector{Path: o.tokenFile, Stdin: cmd.InOrStdin()}, nil
	}
	r, err := c.cfg.Agent.Runner(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if r != nil {
		return r, nil
	}
	return attestation.FileCollector{Path: "-", Stdin: cmd.InOrStdin()}, nil
}

func printResult(w io.Writer, res *attestation.Result, format string) error {
	switch format {
	case "hex":
		if res.Record == nil {
			return fmt.Errorf("--out hex needs an encoding; drop --claims-only")
		}
		_, err := fmt.Fprintln(w, hexutil.Encode(res.Encoded))
		return err
	case "raw":
		if res.Record == nil {
			return fmt.Errorf("--out raw needs an encoding; drop --claims-only")
		}
		_, err := w.Write(res.Encoded)
		return err
	default:
		return writeJSON(w, res.Report())
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
