package authcache

import (
	"crypto/ecdsa"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "authcache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPermitIDIsPureFunctionOfInputs(t *testing.T) {
	payload := map[string]any{"taker": "0xabc", "items": []string{"a", "b"}}
	id1, err := PermitID(payload, "0xUSDC", "1000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := PermitID(payload, "0xUSDC", "1000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical ids for identical inputs: %s != %s", id1, id2)
	}
	id3, err := PermitID(payload, "0xUSDC", "2000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 == id3 {
		t.Fatal("different amounts must yield different ids")
	}
}

func TestPreSignatureIDIsPureFunctionOfInputs(t *testing.T) {
	payload := map[string]any{"taker": "0xabc"}
	id1, _ := PreSignatureID(payload, "order-1")
	id2, _ := PreSignatureID(payload, "order-1")
	if id1 != id2 {
		t.Fatal("expected stable id for identical (payload, unique_id)")
	}
}

func TestPermitResumeAfterSigningObservesComplete(t *testing.T) {
	s := openTestStore(t)
	id := "fixed-permit-id"

	p, err := s.GetOrInitPermit(id, func() Permit {
		return Permit{Token: "0xUSDC", Amount: "1000", Owner: "0xowner", Spender: "0xrouter"}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Complete() {
		t.Fatal("freshly initialized permit must not be complete")
	}

	if err := s.SubmitPermitSignature(id, "0xdeadbeef"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A resumed request with the same id must now observe complete.
	resumed, err := s.GetOrInitPermit(id, func() Permit {
		t.Fatal("init must not be called once a record already exists")
		return Permit{}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resumed.Complete() {
		t.Fatal("expected permit to be observed complete after signature submission")
	}
}

func TestAuthChallengeExpiryReissues(t *testing.T) {
	s := openTestStore(t)
	key := AuthChallengeKey("blur", "0xtaker")

	now := time.Now()
	_, err := s.GetOrInitAuthChallenge(key, now, func() AuthChallenge {
		return AuthChallenge{Marketplace: "blur", Taker: "0xtaker", Challenge: "c1", ExpiresAt: now.Add(time.Minute)}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := now.Add(2 * time.Minute)
	reissued, err := s.GetOrInitAuthChallenge(key, later, func() AuthChallenge {
		return AuthChallenge{Marketplace: "blur", Taker: "0xtaker", Challenge: "c2", ExpiresAt: later.Add(time.Minute)}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reissued.Challenge != "c2" {
		t.Fatalf("expected reissue after expiry, got challenge %q", reissued.Challenge)
	}
}

func TestHashPermitRoundTripsThroughSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	d := Domain{Name: "planner-core", Version: "1", ChainID: big.NewInt(1), VerifyingContract: common.Address{}}
	msg := PermitMessage{
		Owner: owner, Spender: common.HexToAddress("0xSpender"),
		Value: big.NewInt(1000), Nonce: big.NewInt(0), Deadline: big.NewInt(9999999999),
	}
	digest, err := HashPermit(d, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := VerifySigner(digest, sig, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify against owner")
	}

	var wrongKey *ecdsa.PrivateKey
	wrongKey, _ = crypto.GenerateKey()
	wrongAddr := crypto.PubkeyToAddress(wrongKey.PublicKey)
	ok, err = VerifySigner(digest, sig, wrongAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("signature must not verify against an unrelated address")
	}
}
