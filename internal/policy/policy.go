// Package policy holds the opt-in acceptance rules a caller may apply to
// claims after the signature has verified. Nothing here runs unless a
// caller builds an Engine.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aspect-build/attestproof/internal/claims"
	"github.com/aspect-build/attestproof/internal/logx"
)

var ErrPolicyViolation = errors.New("policy violation")

// Violation lists every rule that rejected the claims.
type Violation struct {
	Reasons []string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", ErrPolicyViolation, strings.Join(v.Reasons, "; "))
}

func (v *Violation) Is(target error) bool { return target == ErrPolicyViolation }

// Policy is the built-in rule set. The zero value accepts everything.
type Policy struct {
	RequireSecureBoot         bool
	RejectDebuggable          bool
	AllowedAttestationTypes   []string
	AllowedComplianceStatuses []string
	MaxVMPL                   *uint8
	CheckExpiry               bool
	ClockSkew                 time.Duration
}

func (p Policy) empty() bool {
	return !p.RequireSecureBoot && !p.RejectDebuggable &&
		len(p.AllowedAttestationTypes) == 0 && len(p.AllowedComplianceStatuses) == 0 &&
		p.MaxVMPL == nil && !p.CheckExpiry
}

// check returns the reasons the built-in rules reject c.
func (p Policy) check(c *claims.Claims, now time.Time) []string {
	var reasons []string
	if p.RequireSecureBoot && !c.SecureBoot {
		reasons = append(reasons, "secure boot is disabled")
	}
	if p.RejectDebuggable {
		if c.Isolation.Debuggable {
			reasons = append(reasons, "isolated guest is debuggable")
		}
		if c.BootDebugEnabled {
			reasons = append(reasons, "boot debugging is enabled")
		}
		if c.KernelDebugEnabled {
			reasons = append(reasons, "kernel debugging is enabled")
		}
		if c.HypervisorDebugEnabled != nil && *c.HypervisorDebugEnabled {
			reasons = append(reasons, "hypervisor debugging is enabled")
		}
	}
	if len(p.AllowedAttestationTypes) > 0 && !slices.Contains(p.AllowedAttestationTypes, c.Isolation.AttestationType) {
		reasons = append(reasons, fmt.Sprintf("attestation type %q is not allowed", c.Isolation.AttestationType))
	}
	if len(p.AllowedComplianceStatuses) > 0 && !slices.Contains(p.AllowedComplianceStatuses, c.Isolation.ComplianceStatus) {
		reasons = append(reasons, fmt.Sprintf("compliance status %q is not allowed", c.Isolation.ComplianceStatus))
	}
	if p.MaxVMPL != nil && c.Isolation.VMPL > *p.MaxVMPL {
		reasons = append(reasons, fmt.Sprintf("vmpl %d exceeds %d", c.Isolation.VMPL, *p.MaxVMPL))
	}
	if p.CheckExpiry {
		skew := int64(p.ClockSkew / time.Second)
		unix := now.Unix()
		if unix > c.ExpiresAt+skew {
			reasons = append(reasons, fmt.Sprintf("token expired at %d", c.ExpiresAt))
		}
		if c.NotBefore != nil && unix+skew < *c.NotBefore {
			reasons = append(reasons, fmt.Sprintf("token not valid before %d", *c.NotBefore))
		}
		if c.IssuedAt > unix+skew {
			reasons = append(reasons, fmt.Sprintf("token issued in the future at %d", c.IssuedAt))
		}
	}
	return reasons
}

// Engine combines the built-in rules with an optional Rego module.
type Engine struct {
	policy Policy
	rego   *regoPolicy

	// Now is overridable for tests.
	Now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine) error

// WithRego compiles a Rego module declaring package attestproof. The module
// is consulted for data.attestproof.allow and data.attestproof.reasons.
func WithRego(ctx context.Context, name, source string) Option {
	return func(e *Engine) error {
		rp, err := compileRego(ctx, name, source)
		if err != nil {
			return err
		}
		e.rego = rp
		return nil
	}
}

func NewEngine(p Policy, opts ...Option) (*Engine, error) {
	e := &Engine{policy: p, Now: time.Now}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Enabled reports whether any rule is configured.
func (e *Engine) Enabled() bool {
	return e != nil && (!e.policy.empty() || e.rego != nil)
}

// Evaluate returns nil when c is acceptable, *Violation when a rule rejects
// it, and any other error when the Rego evaluation itself fails.
func (e *Engine) Evaluate(ctx context.Context, c *claims.Claims) error {
	if !e.Enabled() {
		return nil
	}
	reasons := e.policy.check(c, e.Now())
	if e.rego != nil {
		regoReasons, err := e.rego.evaluate(ctx, c)
		if err != nil {
			return err
		}
		reasons = append(reasons, regoReasons...)
	}
	if len(reasons) > 0 {
		logx.Infof("policy.reject reasons=%d first=%q", len(reasons), reasons[0])
		return &Violation{Reasons: reasons}
	}
	logx.Debugf("policy.accept")
	return nil
}
