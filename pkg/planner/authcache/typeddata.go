package authcache

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator for everything this package
// signs: permits and pre-signatures, following the teacher's
// pkg/crypto/eip712.go EIP712Domain shape.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// PermitMessage is the typed-data payload a taker signs to authorize an
// ERC-20 permit in lieu of an on-chain approval.
type PermitMessage struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

// PreSignatureMessage is the typed-data payload a taker signs for
// protocols requiring a pre-signature embedded into fill calldata (e.g.
// payment-processor-take-order).
type PreSignatureMessage struct {
	OrderID  string
	Taker    common.Address
	UniqueID string
}

// HashPermit computes the EIP-712 digest for a PermitMessage under the
// standard ERC-2612 "Permit" type, the same domain-separator + typed-data
// hash + keccak256("\x19\x01"...) construction as the teacher's
// EIP712Signer.HashOrder.
func HashPermit(d Domain, m PermitMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    m.Owner.Hex(),
			"spender":  m.Spender.Hex(),
			"value":    m.Value.String(),
			"nonce":    m.Nonce.String(),
			"deadline": m.Deadline.String(),
		},
	}
	return hashTypedData(typedData)
}

// HashPreSignature computes the EIP-712 digest for a PreSignatureMessage.
func HashPreSignature(d Domain, m PreSignatureMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TakerPreSignature": []apitypes.Type{
				{Name: "orderId", Type: "string"},
				{Name: "taker", Type: "address"},
				{Name: "uniqueId", Type: "string"},
			},
		},
		PrimaryType: "TakerPreSignature",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"orderId":  m.OrderID,
			"taker":    m.Taker.Hex(),
			"uniqueId": m.UniqueID,
		},
	}
	return hashTypedData(typedData)
}

func hashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("authcache: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("authcache: hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	digest := crypto.Keccak256Hash(rawData)
	return digest.Bytes(), nil
}

// RecoverSigner recovers the address that produced signature over digest.
func RecoverSigner(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("authcache: invalid signature length %d", len(signature))
	}
	pub, err := crypto.Ecrecover(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("authcache: recover: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return common.Address{}, fmt.Errorf("authcache: unmarshal pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifySigner reports whether signature over digest was produced by want.
func VerifySigner(digest, signature []byte, want common.Address) (bool, error) {
	got, err := RecoverSigner(digest, signature)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
