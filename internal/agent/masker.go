package agent

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

// Redacted replaces every secret occurrence in agent output.
const Redacted = "[REDACTED]"

// MaskingWriter redacts secret values from a byte stream. It holds back the
// last len(longest secret)-1 bytes of each write so a secret split across
// writes is still caught; Flush releases them.
type MaskingWriter struct {
	mu       sync.Mutex
	out      io.Writer
	matcher  aho.AhoCorasick
	enabled  bool
	holdback int
	pending  []byte
}

// NewMaskingWriter masks the non-empty values of secrets. With none, it
// passes writes straight through.
func NewMaskingWriter(out io.Writer, secrets []string) *MaskingWriter {
	w := &MaskingWriter{out: out}
	var patterns []string
	longest := 0
	for _, s := range secrets {
		if s == "" {
			continue
		}
		patterns = append(patterns, s)
		longest = max(longest, len(s))
	}
	if len(patterns) == 0 {
		return w
	}
	w.enabled = true
	w.holdback = longest - 1
	b := aho.NewAhoCorasickBuilder(aho.Opts{
		MatchKind: aho.LeftMostLongestMatch,
		DFA:       true,
	})
	w.matcher = b.Build(patterns)
	return w
}

func (w *MaskingWriter) Write(p []byte) (int, error) {
	if !w.enabled {
		return w.out.Write(p)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	if err := w.drain(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes whatever is still held back.
func (w *MaskingWriter) Flush() error {
	if !w.enabled {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drain(true)
}

func (w *MaskingWriter) drain(final bool) error {
	limit := len(w.pending)
	if !final {
		limit -= w.holdback
	}
	if limit <= 0 {
		return nil
	}

	var out []byte
	cursor, consumed := 0, limit
	// Matches are searched over the whole buffer so one that starts before
	// limit and ends after it is redacted now rather than split.
	for _, m := range w.matcher.FindAll(string(w.pending)) {
		if m.Start() < cursor {
			continue
		}
		if m.Start() >= limit {
			break
		}
		out = append(out, w.pending[cursor:m.Start()]...)
		out = append(out, Redacted...)
		cursor = m.End()
		consumed = max(consumed, cursor)
	}
	if cursor < limit {
		out = append(out, w.pending[cursor:limit]...)
	}
	if len(out) > 0 {
		if _, err := w.out.Write(out); err != nil {
			return err
		}
	}
	w.pending = append(w.pending[:0:0], w.pending[consumed:]...)
	return nil
}
