package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aspect-build/attestproof/internal/agent"
	"github.com/aspect-build/attestproof/internal/keyset"
	"github.com/aspect-build/attestproof/internal/policy"
)

// ResolverOptions maps the key-set section onto keyset.Options.
func (c KeySetConfig) ResolverOptions() keyset.Options {
	return keyset.Options{
		Allowlist:         c.Allowlist,
		AllowInsecureHTTP: c.AllowInsecureHTTP,
		FetchTimeout:      c.FetchTimeout,
		RetryBackoff:      c.RetryBackoff,
		MinKeyBits:        c.MinKeyBits,
	}
}

// NewResolver builds the key resolver. With caching enabled the returned
// cache is non-nil and backed by store, or by memory when store is nil.
func (c KeySetConfig) NewResolver(store keyset.KeyStore) (keyset.Resolver, *keyset.CachingResolver, error) {
	fetcher, err := keyset.NewHTTPResolver(c.ResolverOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("keyset: %w", err)
	}
	if !c.CacheEnabled {
		return fetcher, nil, nil
	}
	if store == nil {
		store = keyset.NewMemoryStore()
	}
	cache := keyset.NewCachingResolver(fetcher, store, c.CacheMaxAge)
	return cache, cache, nil
}

// Rules returns the built-in policy rules.
func (c PolicyConfig) Rules() policy.Policy {
	p := policy.Policy{
		RequireSecureBoot:         c.RequireSecureBoot,
		RejectDebuggable:          c.RejectDebuggable,
		AllowedAttestationTypes:   c.AllowedAttestationTypes,
		AllowedComplianceStatuses: c.AllowedComplianceStatuses,
		CheckExpiry:               c.CheckExpiry,
		ClockSkew:                 c.ClockSkew,
	}
	if c.MaxVMPL >= 0 {
		vmpl := uint8(c.MaxVMPL)
		p.MaxVMPL = &vmpl
	}
	return p
}

// NewEngine compiles the policy, reading RegoFile when set. The engine is
// disabled (but non-nil) when nothing is configured.
func (c PolicyConfig) NewEngine(ctx context.Context) (*policy.Engine, error) {
	var opts []policy.Option
	if c.RegoFile != "" {
		src, err := os.ReadFile(c.RegoFile)
		if err != nil {
			return nil, fmt.Errorf("read rego policy: %w", err)
		}
		opts = append(opts, policy.WithRego(ctx, filepath.Base(c.RegoFile), string(src)))
	}
	return policy.NewEngine(c.Rules(), opts...)
}

// Runner builds the agent runner, or nil when no command is configured.
// Values of MaskedEnvs are redacted whether they come from the process
// environment or from EnvFile.
func (c AgentConfig) Runner(stderr io.Writer) (*agent.Runner, error) {
	if c.Command == "" {
		return nil, nil
	}
	r := &agent.Runner{
		Command: c.Command,
		Args:    c.Args,
		Secrets: agent.SecretsFromEnv(c.MaskedEnvs),
		Timeout: c.Timeout,
		Stderr:  stderr,
	}
	if c.EnvFile != "" {
		ef, err := agent.LoadEnvFile(c.EnvFile)
		if err != nil {
			return nil, err
		}
		r.Env = ef.Environ(os.Environ())
		r.Secrets = append(r.Secrets, ef.Secrets(c.MaskedEnvs)...)
	}
	return r, nil
}
