package keyset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aspect-build/attestproof/internal/logx"
	"github.com/aspect-build/attestproof/internal/metrics"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	DefaultRetryBackoff = 500 * time.Millisecond

	// MaxBodyBytes caps a key-set response body.
	MaxBodyBytes = 1 << 20

	maxRedirects = 5
)

// Options configures an HTTPResolver. Zero values select the defaults.
type Options struct {
	Allowlist         []string
	AllowInsecureHTTP bool
	FetchTimeout      time.Duration
	RetryBackoff      time.Duration
	MinKeyBits        int
	HTTPClient        *http.Client
}

// HTTPResolver fetches the key set on every call.
type HTTPResolver struct {
	allow      *Allowlist
	client     *http.Client
	timeout    time.Duration
	backoff    time.Duration
	minKeyBits int
}

func NewHTTPResolver(opts Options) (*HTTPResolver, error) {
	al, err := ParseAllowlist(opts.Allowlist, opts.AllowInsecureHTTP)
	if err != nil {
		return nil, err
	}
	r := &HTTPResolver{
		allow:      al,
		timeout:    opts.FetchTimeout,
		backoff:    opts.RetryBackoff,
		minKeyBits: opts.MinKeyBits,
	}
	// Every redirect hop goes through the allowlist. A caller's client is
	// copied so its own redirect policy still runs after ours.
	client := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	next := client.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if err := al.Check(req.URL.String()); err != nil {
			return fmt.Errorf("redirect: %w", err)
		}
		if next != nil {
			return next(req, via)
		}
		return nil
	}
	r.client = client
	if r.timeout <= 0 {
		r.timeout = DefaultFetchTimeout
	}
	if r.backoff <= 0 {
		r.backoff = DefaultRetryBackoff
	}
	if r.minKeyBits <= 0 {
		r.minKeyBits = DefaultMinKeyBits
	}
	return r, nil
}

// MinKeyBits reports the configured modulus floor.
func (r *HTTPResolver) MinKeyBits() int { return r.minKeyBits }

// Resolve fetches keySetURL and returns the first entry matching kid.
func (r *HTTPResolver) Resolve(ctx context.Context, keySetURL, kid string) (*PublicKey, error) {
	set, err := r.FetchKeySet(ctx, keySetURL)
	if err != nil {
		return nil, err
	}
	jwk, err := set.Select(kid)
	if err != nil {
		return nil, err
	}
	return ToPublicKey(jwk, r.minKeyBits)
}

// fetchStatusError marks a non-200 response.
type fetchStatusError struct {
	code int
}

func (e *fetchStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// FetchKeySet performs the allowlisted GET with one retry for transport
// failures and 5xx responses.
func (r *HTTPResolver) FetchKeySet(ctx context.Context, keySetURL string) (*KeySet, error) {
	if err := r.allow.Check(keySetURL); err != nil {
		metrics.KeySetFetches.WithLabelValues("rejected").Inc()
		logx.Warnf("keyset.fetch.rejected url=%s", keySetURL)
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.KeySetFetchDuration.Observe(time.Since(start).Seconds()) }()

	var (
		body []byte
		err  error
	)
	for attempt := 1; ; attempt++ {
		body, err = r.get(ctx, keySetURL)
		if err == nil || !retryable(err) || attempt == 2 {
			break
		}
		logx.Warnf("keyset.fetch.retry url=%s attempt=%d err=%v", keySetURL, attempt, err)
		if werr := sleepCtx(ctx, r.backoff); werr != nil {
			err = werr
			break
		}
	}
	if errors.Is(err, ErrURLNotAllowed) {
		metrics.KeySetFetches.WithLabelValues("rejected").Inc()
		logx.Warnf("keyset.fetch.redirect_rejected url=%s err=%v", keySetURL, err)
		return nil, fmt.Errorf("%s: %w", keySetURL, err)
	}
	if err != nil {
		metrics.KeySetFetches.WithLabelValues("error").Inc()
		logx.Errorf("keyset.fetch.failed url=%s err=%v", keySetURL, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, keySetURL, err)
	}

	set, err := ParseKeySet(body)
	if err != nil {
		metrics.KeySetFetches.WithLabelValues("format").Inc()
		logx.Errorf("keyset.fetch.format url=%s err=%v", keySetURL, err)
		return nil, err
	}
	set.URL = keySetURL
	metrics.KeySetFetches.WithLabelValues("ok").Inc()
	logx.Debugf("keyset.fetch url=%s keys=%d elapsed=%s", keySetURL, len(set.Keys), time.Since(start))
	return set, nil
}

func (r *HTTPResolver) get(ctx context.Context, keySetURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keySetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &fetchStatusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var errBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", MaxBodyBytes)

func retryable(err error) bool {
	if errors.Is(err, errBodyTooLarge) || errors.Is(err, context.Canceled) || errors.Is(err, ErrURLNotAllowed) {
		return false
	}
	var se *fetchStatusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckURL applies the allowlist without fetching.
func (r *HTTPResolver) CheckURL(keySetURL string) error {
	return r.allow.Check(keySetURL)
}
