package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aspect-build/attestproof/internal/keyset"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSet(url string, kids ...string) *keyset.StoredKeySet {
	set := &keyset.StoredKeySet{URL: url, FetchedAt: time.UnixMilli(1734719094000)}
	for _, kid := range kids {
		set.Keys = append(set.Keys, keyset.JWK{
			KeyID:   kid,
			KeyType: "RSA",
			Use:     "sig",
			KeyOps:  []string{"verify"},
			Alg:     "RS256",
			N:       "n-" + kid,
			E:       "AQAB",
		})
	}
	return set
}

func TestKeySetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	url := "https://sharedeus.eus.attest.azure.net/certs"

	got, err := s.GetKeySet(url)
	if err != nil {
		t.Fatalf("GetKeySet: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing set, got %+v", got)
	}

	if err := s.PutKeySet(sampleSet(url, "b", "a", "b")); err != nil {
		t.Fatalf("PutKeySet: %v", err)
	}
	got, err = s.GetKeySet(url)
	if err != nil {
		t.Fatalf("GetKeySet: %v", err)
	}
	if got == nil || len(got.Keys) != 3 {
		t.Fatalf("got %+v", got)
	}
	// Publication order and duplicates survive storage.
	if got.Keys[0].KeyID != "b" || got.Keys[1].KeyID != "a" || got.Keys[2].KeyID != "b" {
		t.Errorf("key order = %s,%s,%s", got.Keys[0].KeyID, got.Keys[1].KeyID, got.Keys[2].KeyID)
	}
	if got.Keys[1].N != "n-a" || got.Keys[1].E != "AQAB" || got.Keys[1].Use != "sig" {
		t.Errorf("key fields = %+v", got.Keys[1])
	}
	if len(got.Keys[0].KeyOps) != 1 || got.Keys[0].KeyOps[0] != "verify" {
		t.Errorf("key_ops = %v", got.Keys[0].KeyOps)
	}
	if !got.FetchedAt.Equal(time.UnixMilli(1734719094000)) {
		t.Errorf("FetchedAt = %v", got.FetchedAt)
	}
}

func TestKeyOpsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	url := "https://a.example/certs"

	set := sampleSet(url, "K1", "K2")
	set.Keys[0].KeyOps = []string{"verify", "x-ops,with-comma"}
	set.Keys[1].KeyOps = nil
	if err := s.PutKeySet(set); err != nil {
		t.Fatalf("PutKeySet: %v", err)
	}
	got, err := s.GetKeySet(url)
	if err != nil {
		t.Fatalf("GetKeySet: %v", err)
	}
	ops := got.Keys[0].KeyOps
	if len(ops) != 2 || ops[0] != "verify" || ops[1] != "x-ops,with-comma" {
		t.Errorf("key_ops = %q", ops)
	}
	if got.Keys[1].KeyOps != nil {
		t.Errorf("empty key_ops = %q", got.Keys[1].KeyOps)
	}

	// Rows written with the older comma-joined form still load.
	if _, err := s.db.Exec(`UPDATE keyset_keys SET key_ops = 'sign,verify' WHERE url = ? AND position = 1`, url); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetKeySet(url)
	if err != nil {
		t.Fatalf("GetKeySet: %v", err)
	}
	if ops := got.Keys[1].KeyOps; len(ops) != 2 || ops[0] != "sign" || ops[1] != "verify" {
		t.Errorf("legacy key_ops = %q", ops)
	}
}

func TestPutKeySetReplaces(t *testing.T) {
	s := newTestStore(t)
	url := "https://a.example/certs"

	if err := s.PutKeySet(sampleSet(url, "old1", "old2")); err != nil {
		t.Fatalf("PutKeySet: %v", err)
	}
	next := sampleSet(url, "new")
	next.FetchedAt = next.FetchedAt.Add(time.Hour)
	if err := s.PutKeySet(next); err != nil {
		t.Fatalf("PutKeySet: %v", err)
	}

	got, err := s.GetKeySet(url)
	if err != nil {
		t.Fatalf("GetKeySet: %v", err)
	}
	if len(got.Keys) != 1 || got.Keys[0].KeyID != "new" {
		t.Errorf("keys = %+v", got.Keys)
	}
	if !got.FetchedAt.Equal(next.FetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, next.FetchedAt)
	}
}

func TestDeleteKeySets(t *testing.T) {
	s := newTestStore(t)
	for _, u := range []string{"https://a.example/certs", "https://b.example/certs"} {
		if err := s.PutKeySet(sampleSet(u, "k")); err != nil {
			t.Fatalf("PutKeySet: %v", err)
		}
	}

	ok, err := s.DeleteKeySet("https://a.example/certs")
	if err != nil || !ok {
		t.Fatalf("DeleteKeySet = %v, %v", ok, err)
	}
	ok, err = s.DeleteKeySet("https://a.example/certs")
	if err != nil || ok {
		t.Fatalf("second DeleteKeySet = %v, %v", ok, err)
	}

	var orphans int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM keyset_keys WHERE url = ?`, "https://a.example/certs").Scan(&orphans); err != nil {
		t.Fatalf("count: %v", err)
	}
	if orphans != 0 {
		t.Errorf("cascade left %d keys", orphans)
	}

	list, err := s.ListKeySets()
	if err != nil {
		t.Fatalf("ListKeySets: %v", err)
	}
	if len(list) != 1 || list[0].URL != "https://b.example/certs" {
		t.Errorf("ListKeySets = %+v", list)
	}

	n, err := s.DeleteAllKeySets()
	if err != nil || n != 1 {
		t.Fatalf("DeleteAllKeySets = %d, %v", n, err)
	}
}

func TestVerificationLog(t *testing.T) {
	s := newTestStore(t)

	rows := []*Verification{
		{Verified: true, KeyID: "K1", KeySetURL: "https://a.example/certs", Issuer: "https://a.example", AttestationType: "sevsnpvm", Digest: "0xab", SchemaVersion: 1},
		{Verified: false, Kind: "SignatureInvalid", KeyID: "K1", Error: "bad signature"},
		{Verified: false, Kind: "KeyNotFound", KeyID: "K9", ClientIP: "10.0.0.1"},
	}
	for _, v := range rows {
		if err := s.RecordVerification(v); err != nil {
			t.Fatalf("RecordVerification: %v", err)
		}
		if v.ID == 0 {
			t.Error("ID not set")
		}
	}

	all, err := s.ListVerifications(0, "")
	if err != nil {
		t.Fatalf("ListVerifications: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Kind != "KeyNotFound" || all[0].ClientIP != "10.0.0.1" {
		t.Errorf("newest row = %+v", all[0])
	}
	if all[2].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}

	ok, err := s.ListVerifications(10, "ok")
	if err != nil {
		t.Fatalf("ListVerifications ok: %v", err)
	}
	if len(ok) != 1 || !ok[0].Verified || ok[0].Digest != "0xab" || ok[0].SchemaVersion != 1 {
		t.Errorf("ok rows = %+v", ok)
	}

	sig, err := s.ListVerifications(10, "SignatureInvalid")
	if err != nil {
		t.Fatalf("ListVerifications kind: %v", err)
	}
	if len(sig) != 1 || sig[0].Error != "bad signature" {
		t.Errorf("signature rows = %+v", sig)
	}

	limited, err := s.ListVerifications(2, "")
	if err != nil {
		t.Fatalf("ListVerifications limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit: len = %d", len(limited))
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attestproof.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.PutKeySet(sampleSet("https://a.example/certs", "k")); err != nil {
		t.Fatalf("PutKeySet: %v", err)
	}
	s.Close()

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetKeySet("https://a.example/certs")
	if err != nil || got == nil || len(got.Keys) != 1 {
		t.Fatalf("after reopen: %+v, %v", got, err)
	}
}

func TestCachingResolverWithStore(t *testing.T) {
	s := newTestStore(t)
	// The SQLite store must satisfy the cache's storage contract.
	var store keyset.KeyStore = s
	if err := store.PutKeySet(sampleSet("https://a.example/certs", "k")); err != nil {
		t.Fatalf("PutKeySet: %v", err)
	}
	got, err := store.GetKeySet("https://a.example/certs")
	if err != nil || got == nil {
		t.Fatalf("GetKeySet: %+v, %v", got, err)
	}
}
