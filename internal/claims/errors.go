package claims

import (
	"errors"
	"fmt"
)

var (
	ErrClaimMissing      = errors.New("claim missing")
	ErrClaimTypeMismatch = errors.New("claim type mismatch")
)

// Error names the offending claim by its dotted path, for example
// "x-ms-isolation-tee.x-ms-sevsnpvm-vmpl".
type Error struct {
	Name   string
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Name, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

func missing(name string) error {
	return &Error{Name: name, Kind: ErrClaimMissing}
}

func mismatch(name, format string, args ...any) error {
	return &Error{Name: name, Kind: ErrClaimTypeMismatch, Detail: fmt.Sprintf(format, args...)}
}

// Missing builds the error later stages report for a claim they need but the
// extractor treated as optional.
func Missing(name string) error { return missing(name) }
