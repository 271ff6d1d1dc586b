package db

import "fmt"

// DefaultListLimit caps ListVerifications when limit <= 0.
const DefaultListLimit = 100

// RecordVerification appends v to the audit log and sets v.ID.
func (s *Store) RecordVerification(v *Verification) error {
	res, err := s.db.Exec(
		`INSERT INTO verifications
		 (verified, kind, kid, jku, issuer, attestation_type, digest, error, client_ip, schema_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Verified, v.Kind, v.KeyID, v.KeySetURL, v.Issuer, v.AttestationType, v.Digest, v.Error, v.ClientIP, v.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	v.ID, _ = res.LastInsertId()
	return nil
}

// ListVerifications returns the newest rows first. A non-empty kind filters
// by failure kind; "ok" selects successful rows.
func (s *Store) ListVerifications(limit int, kind string) ([]Verification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, verified, kind, kid, jku, issuer, attestation_type, digest, error, client_ip, schema_version, created_at
		FROM verifications`
	var args []any
	switch kind {
	case "":
	case "ok":
		query += ` WHERE verified = 1`
	default:
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		if err := rows.Scan(&v.ID, &v.Verified, &v.Kind, &v.KeyID, &v.KeySetURL, &v.Issuer, &v.AttestationType,
			&v.Digest, &v.Error, &v.ClientIP, &v.SchemaVersion, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
