package attestation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Collector produces a compact token from some upstream source, such as a
// file or the attestation agent.
type Collector interface {
	Collect(ctx context.Context) (string, error)
}

// maxCollectedBytes bounds what a collector will read before parsing.
const maxCollectedBytes = 1 << 20

// FileCollector reads a token from Path, or from Stdin when Path is "-".
type FileCollector struct {
	Path  string
	Stdin io.Reader
}

func (f FileCollector) Collect(_ context.Context) (string, error) {
	var r io.Reader
	if f.Path == "-" {
		r = f.Stdin
		if r == nil {
			r = os.Stdin
		}
	} else {
		file, err := os.Open(f.Path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTokenSource, err)
		}
		defer file.Close()
		r = file
	}
	b, err := io.ReadAll(io.LimitReader(r, maxCollectedBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read token: %v", ErrTokenSource, err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenSource)
	}
	return tok, nil
}

// StaticCollector returns a fixed token.
type StaticCollector string

func (s StaticCollector) Collect(_ context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenSource)
	}
	return string(s), nil
}

// CollectAndVerify runs c once, without retry, and verifies what it returns.
// Collector failures are reported as KindTokenSource.
func CollectAndVerify(ctx context.Context, c Collector, v Verifier) (*Result, error) {
	raw, err := c.Collect(ctx)
	if err != nil {
		return nil, &Error{Kind: KindTokenSource, Stage: "collect", Err: err}
	}
	return v.Verify(ctx, raw)
}
