package db

import "time"

// Verification is one audit row written by the server per verify request.
type Verification struct {
	ID              int64     `json:"id"`
	Verified        bool      `json:"verified"`
	Kind            string    `json:"kind,omitempty"`
	KeyID           string    `json:"kid,omitempty"`
	KeySetURL       string    `json:"jku,omitempty"`
	Issuer          string    `json:"issuer,omitempty"`
	AttestationType string    `json:"attestation_type,omitempty"`
	Digest          string    `json:"digest,omitempty"`
	Error           string    `json:"error,omitempty"`
	ClientIP        string    `json:"client_ip,omitempty"`
	SchemaVersion   int       `json:"schema_version,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
