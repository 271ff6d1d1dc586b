package agent

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// EnvFile holds variables loaded for the agent, in file order.
type EnvFile struct {
	Keys   []string
	Values map[string]string
}

// LoadEnvFile parses a dotenv file: KEY=VALUE lines, optional single or
// double quotes around the value, # comments and blank lines. A later
// assignment to the same key wins.
func LoadEnvFile(path string) (*EnvFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open agent env file: %w", err)
	}
	defer f.Close()

	ef := &EnvFile{Values: map[string]string{}}
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("agent env file line %d: missing '='", n)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("agent env file line %d: empty key", n)
		}
		value = unquote(strings.TrimSpace(value))
		if _, seen := ef.Values[key]; !seen {
			ef.Keys = append(ef.Keys, key)
		}
		ef.Values[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read agent env file: %w", err)
	}
	return ef, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// Environ overlays the file onto base, which is usually os.Environ().
func (ef *EnvFile) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(ef.Keys))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, override := ef.Values[k]; !override {
			out = append(out, kv)
		}
	}
	for _, k := range ef.Keys {
		out = append(out, k+"="+ef.Values[k])
	}
	return out
}

// Secrets returns the values of names found in the file.
func (ef *EnvFile) Secrets(names []string) []string {
	var out []string
	for _, n := range names {
		if v := ef.Values[strings.TrimSpace(n)]; v != "" {
			out = append(out, v)
		}
	}
	return out
}
