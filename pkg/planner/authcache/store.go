// Package authcache implements the three stores of component C7:
// marketplace auth challenges (keyed by marketplace and taker), and
// content-addressed ERC-20 permits and taker pre-signatures (spec.md
// §4.5), plus the EIP-712 digest/signature
// primitives they consume. Persistence is grounded on the teacher's
// pkg/app/core/account/store.go Pebble usage.
package authcache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// key prefixes partition the single Pebble namespace the way
// pkg/storage/pebble_store.go partitions consensus vs. account keys.
const (
	prefixAuth      = "auth:"
	prefixPermit    = "permit:"
	prefixPresig    = "presig:"
)

// AuthChallenge is a cached marketplace login / EOA-verification
// challenge, keyed by (marketplace, taker).
type AuthChallenge struct {
	Marketplace string
	Taker       string
	Challenge   string
	Signature   string // empty until the client has signed
	ExpiresAt   time.Time
}

func (a *AuthChallenge) Complete() bool { return a.Signature != "" }

// Permit is a cached ERC-20 permit awaiting the taker's signature, keyed
// by hash(request_payload, token, amount).
type Permit struct {
	ID        string
	Token     string
	Amount    string
	Owner     string
	Spender   string
	Deadline  string // unix seconds, decimal string
	Signature string // empty until signed
}

func (p *Permit) Complete() bool { return p.Signature != "" }

// PreSignature is a cached taker-side signature required by certain
// protocols (e.g. payment-processor-take-order), keyed by
// hash(request_payload, unique_id).
type PreSignature struct {
	ID        string
	UniqueID  string
	OrderID   string
	Message   string
	Signature string
}

func (p *PreSignature) Complete() bool { return p.Signature != "" }

// Store is the Pebble-backed KV layer underlying all three caches.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the Pebble database at path, following the
// teacher's account.Store.NewStore tuning.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 500,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("authcache: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("authcache: marshal: %w", err)
	}
	return s.db.Set([]byte(key), data, pebble.Sync)
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	data, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authcache: get: %w", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("authcache: unmarshal: %w", err)
	}
	return true, nil
}

// GetOrInitAuthChallenge returns the cached challenge for (marketplace,
// taker) if present and unexpired; otherwise it stores and returns init.
// TTL derives from the challenge's stated expiration minus a one-minute
// buffer, except ERC-721C verification, whose TTL is fixed at ten
// minutes (spec.md §4.5) — callers set init.ExpiresAt accordingly before
// calling.
func (s *Store) GetOrInitAuthChallenge(key string, now time.Time, init func() AuthChallenge) (AuthChallenge, error) {
	var existing AuthChallenge
	found, err := s.getJSON(prefixAuth+key, &existing)
	if err != nil {
		return AuthChallenge{}, err
	}
	if found && now.Before(existing.ExpiresAt) {
		return existing, nil
	}
	fresh := init()
	if err := s.putJSON(prefixAuth+key, fresh); err != nil {
		return AuthChallenge{}, err
	}
	return fresh, nil
}

// SubmitAuthSignature records a client-supplied signature against a
// previously issued challenge, making the corresponding step item
// observe as complete on the next poll.
func (s *Store) SubmitAuthSignature(key, signature string) error {
	var existing AuthChallenge
	found, err := s.getJSON(prefixAuth+key, &existing)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("authcache: no challenge pending for %s", key)
	}
	existing.Signature = signature
	return s.putJSON(prefixAuth+key, &existing)
}

// GetOrInitPermit returns the cached permit for id if present, otherwise
// stores and returns init(). The id is content-addressed
// (hash(payload, token, amount)), so identical requests always resolve
// to the same permit record.
func (s *Store) GetOrInitPermit(id string, init func() Permit) (Permit, error) {
	var existing Permit
	found, err := s.getJSON(prefixPermit+id, &existing)
	if err != nil {
		return Permit{}, err
	}
	if found {
		return existing, nil
	}
	fresh := init()
	fresh.ID = id
	if err := s.putJSON(prefixPermit+id, &fresh); err != nil {
		return Permit{}, err
	}
	return fresh, nil
}

// SubmitPermitSignature records a signature against a cached permit.
func (s *Store) SubmitPermitSignature(id, signature string) error {
	var existing Permit
	found, err := s.getJSON(prefixPermit+id, &existing)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("authcache: no permit pending for %s", id)
	}
	existing.Signature = signature
	return s.putJSON(prefixPermit+id, &existing)
}

// GetOrInitPreSignature returns the cached pre-signature for id if
// present, otherwise stores and returns init().
func (s *Store) GetOrInitPreSignature(id string, init func() PreSignature) (PreSignature, error) {
	var existing PreSignature
	found, err := s.getJSON(prefixPresig+id, &existing)
	if err != nil {
		return PreSignature{}, err
	}
	if found {
		return existing, nil
	}
	fresh := init()
	fresh.ID = id
	if err := s.putJSON(prefixPresig+id, &fresh); err != nil {
		return PreSignature{}, err
	}
	return fresh, nil
}

// SubmitPreSignature records a taker-side signature against a cached
// pre-signature entry.
func (s *Store) SubmitPreSignature(id, signature string) error {
	var existing PreSignature
	found, err := s.getJSON(prefixPresig+id, &existing)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("authcache: no pre-signature pending for %s", id)
	}
	existing.Signature = signature
	return s.putJSON(prefixPresig+id, &existing)
}
