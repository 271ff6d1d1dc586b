package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aspect-build/attestproof/internal/keyset"
)

var _ keyset.KeyStore = (*Store)(nil)

// GetKeySet returns the stored snapshot for url in publication order, or
// nil, nil when none exists.
func (s *Store) GetKeySet(url string) (*keyset.StoredKeySet, error) {
	var fetchedMS int64
	err := s.db.QueryRow(`SELECT fetched_at_ms FROM keysets WHERE url = ?`, url).Scan(&fetchedMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get keyset: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT kid, kty, use, key_ops, alg, n, e FROM keyset_keys WHERE url = ? ORDER BY position`, url,
	)
	if err != nil {
		return nil, fmt.Errorf("get keyset keys: %w", err)
	}
	defer rows.Close()

	set := &keyset.StoredKeySet{URL: url, FetchedAt: time.UnixMilli(fetchedMS)}
	for rows.Next() {
		var k keyset.JWK
		var ops string
		if err := rows.Scan(&k.KeyID, &k.KeyType, &k.Use, &ops, &k.Alg, &k.N, &k.E); err != nil {
			return nil, fmt.Errorf("scan keyset key: %w", err)
		}
		if k.KeyOps, err = decodeKeyOps(ops); err != nil {
			return nil, fmt.Errorf("keyset key %q: %w", k.KeyID, err)
		}
		set.Keys = append(set.Keys, k)
	}
	return set, rows.Err()
}

// PutKeySet replaces the snapshot for set.URL atomically.
func (s *Store) PutKeySet(set *keyset.StoredKeySet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin put keyset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO keysets (url, fetched_at_ms) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET fetched_at_ms = excluded.fetched_at_ms`,
		set.URL, set.FetchedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert keyset: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM keyset_keys WHERE url = ?`, set.URL); err != nil {
		return fmt.Errorf("clear keyset keys: %w", err)
	}
	for i, k := range set.Keys {
		ops, err := encodeKeyOps(k.KeyOps)
		if err != nil {
			return fmt.Errorf("encode key_ops %d: %w", i, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO keyset_keys (url, position, kid, kty, use, key_ops, alg, n, e)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			set.URL, i, k.KeyID, k.KeyType, k.Use, ops, k.Alg, k.N, k.E,
		); err != nil {
			return fmt.Errorf("insert keyset key %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put keyset: %w", err)
	}
	return nil
}

// DeleteKeySet removes the snapshot for url. Returns true if one existed.
func (s *Store) DeleteKeySet(url string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM keysets WHERE url = ?`, url)
	if err != nil {
		return false, fmt.Errorf("delete keyset: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAllKeySets removes every snapshot and returns how many there were.
func (s *Store) DeleteAllKeySets() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM keysets`)
	if err != nil {
		return 0, fmt.Errorf("delete keysets: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListKeySets returns stored URLs with their fetch times, newest first.
func (s *Store) ListKeySets() ([]keyset.StoredKeySet, error) {
	rows, err := s.db.Query(`SELECT url, fetched_at_ms FROM keysets ORDER BY fetched_at_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("list keysets: %w", err)
	}
	defer rows.Close()

	var out []keyset.StoredKeySet
	for rows.Next() {
		var ks keyset.StoredKeySet
		var ms int64
		if err := rows.Scan(&ks.URL, &ms); err != nil {
			return nil, fmt.Errorf("scan keyset: %w", err)
		}
		ks.FetchedAt = time.UnixMilli(ms)
		out = append(out, ks)
	}
	return out, rows.Err()
}

// key_ops is stored as a JSON array; rows written before that used a
// comma-joined list.
func encodeKeyOps(ops []string) (string, error) {
	if len(ops) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ops)
	return string(b), err
}

func decodeKeyOps(v string) ([]string, error) {
	switch {
	case v == "":
		return nil, nil
	case strings.HasPrefix(v, "["):
		var ops []string
		if err := json.Unmarshal([]byte(v), &ops); err != nil {
			return nil, fmt.Errorf("decode key_ops: %w", err)
		}
		return ops, nil
	default:
		return strings.Split(v, ","), nil
	}
}
