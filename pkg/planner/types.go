// Package planner implements the order aggregation and fill-routing core:
// given a cart of buy-intents it resolves candidate fills, builds a priced
// path, and emits a sequenced execution plan for the client to drive.
package planner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderKind tags the protocol an Order was sourced from.
type OrderKind string

const (
	KindSeaport            OrderKind = "seaport-v1.5"
	KindBlur               OrderKind = "blur"
	KindLooksRare          OrderKind = "looks-rare-v2"
	KindX2Y2               OrderKind = "x2y2"
	KindSudoswap           OrderKind = "sudoswap"
	KindSudoswapV2         OrderKind = "sudoswap-v2"
	KindNftx               OrderKind = "nftx"
	KindNftxV3             OrderKind = "nftx-v3"
	KindZora               OrderKind = "zora-v4"
	KindElement            OrderKind = "element"
	KindRarible            OrderKind = "rarible"
	KindPaymentProcessor   OrderKind = "payment-processor"
	KindPaymentProcessorV2 OrderKind = "payment-processor-v2"
	KindMint               OrderKind = "mint"
)

// PoolPriced reports whether orders of this kind reprice against a
// published pool curve (C3) on every fill.
func (k OrderKind) PoolPriced() bool {
	switch k {
	case KindSudoswap, KindSudoswapV2, KindNftx, KindNftxV3, KindZora:
		return true
	default:
		return false
	}
}

// Side is always sell for the core buy flow; kept for symmetry with the
// order book's own representation.
type Side string

const Sell Side = "sell"

// FillabilityStatus mirrors the indexed order's current state.
type FillabilityStatus string

const (
	Fillable  FillabilityStatus = "fillable"
	NoBalance FillabilityStatus = "no-balance"
	Filled    FillabilityStatus = "filled"
	Cancelled FillabilityStatus = "cancelled"
	Expired   FillabilityStatus = "expired"
)

// ApprovalStatus reflects whether the maker's approval to the relevant
// conduit/operator is currently in force.
type ApprovalStatus string

const (
	Approved   ApprovalStatus = "approved"
	NoApproval ApprovalStatus = "no-approval"
)

// FeeKind distinguishes a marketplace cut from a royalty payment.
type FeeKind string

const (
	FeeMarketplace FeeKind = "marketplace"
	FeeRoyalty     FeeKind = "royalty"
)

// BuiltInFee is a fee already encoded into an order, expressed in basis
// points of unit price.
type BuiltInFee struct {
	Kind      FeeKind
	Recipient common.Address
	Bps       uint32
}

// MissingRoyalty is a royalty an order does not itself pay, used only
// when royalty normalization is requested.
type MissingRoyalty struct {
	Recipient common.Address
	Amount    string // raw integer amount, decimal string to avoid float drift
}

// Order is a fillable offer indexed from some protocol.
type Order struct {
	OrderID                    string
	Kind                       OrderKind
	Side                       Side
	Maker                      common.Address
	Currency                   common.Address
	NativePrice                string
	Price                      string // price in Currency; mutated by pool repricing
	QuantityRemaining          uint64
	FillabilityStatus          FillabilityStatus
	ApprovalStatus             ApprovalStatus
	BuiltInFees                []BuiltInFee
	MissingRoyalties           []MissingRoyalty
	RawData                    []byte // protocol-specific payload, opaque here, consumed by C9
	IsNativeOffChainCancellable bool
	// IsOpenseaERC721 marks a Seaport-family order listing an ERC-721 via
	// OpenSea's own conduit/zone, used only to decide global-fee
	// eligibility when a Blur listing is also present in the cart
	// (spec.md §4.4).
	IsOpenseaERC721 bool

	// PoolID identifies the AMM-style pool this order belongs to, when
	// Kind.PoolPriced() is true. Empty otherwise.
	PoolID string
}

// Mint is a primary-market equivalent to a Listing, with the token
// contract standing in as maker.
type Mint struct {
	Collection   common.Address
	Contract     common.Address
	TokenID      *string // nil for open-edition / collection-wide mints
	Currency     common.Address
	Price        string
	Stage        string
	MaxPerWallet *uint64
	Allowlist    bool
}

// FeeOnTop is a caller-specified fee added on top of the order price,
// reported per PathItem once apportioned.
type FeeOnTop struct {
	Recipient    common.Address
	RawAmount    string
	Bps          *uint32 // nil when it would exceed the 10_000 clamp
	BuyInRawAmt  string  // converted to buy-in currency when item.currency differs
	BuyInQuote   string
}

// PathItem is one resolved and priced line of the cart.
type PathItem struct {
	OrderID      string
	Contract     common.Address
	TokenID      *string
	Quantity     uint64
	Source       OrderKind
	Currency     common.Address
	Quote        string // unit price in Currency, raw integer units
	RawQuote     string // unit price times Quantity in Currency, raw integer units

	BuiltInFees []BuiltInFee
	FeesOnTop   []FeeOnTop

	BuyInCurrency        *common.Address
	BuyInCurrencySymbol  string
	BuyInDecimals        int
	BuyInQuote           string
	BuyInRawQuote        string

	TotalPrice                   string
	TotalRawPrice                string
	IsNativeOffChainCancellable bool
}

// PoolState is the per-pool monotonic price cursor tracked by C3 for the
// lifetime of a single planning call.
type PoolState struct {
	Prices  []string
	Consumed int
}

// StepKind distinguishes a client-side signature from an on-chain
// transaction within the execution plan.
type StepKind string

const (
	StepSignature  StepKind = "signature"
	StepTransaction StepKind = "transaction"
)

// StepAction names one of the seven canonical steps (§4.6).
type StepAction string

const (
	ActionAuth             StepAction = "auth"
	ActionCurrencyApproval StepAction = "currency-approval"
	ActionCurrencyPermit   StepAction = "currency-permit"
	ActionPreSignature     StepAction = "pre-signature"
	ActionAuthTransaction  StepAction = "auth-transaction"
	ActionSwap             StepAction = "swap"
	ActionSale             StepAction = "sale"
)

// ItemStatus reflects whether a step item still requires client action.
type ItemStatus string

const (
	StatusComplete   ItemStatus = "complete"
	StatusIncomplete ItemStatus = "incomplete"
)

// TxData is the transaction payload surfaced for a transaction-kind step
// item.
type TxData struct {
	To                   common.Address
	Data                 []byte
	Value                string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
}

// CheckEndpoint describes the companion endpoint a client polls to learn
// whether a submitted transaction has landed.
type CheckEndpoint struct {
	Endpoint string
	Method   string
	Body     map[string]any
}

// SignaturePayload describes what the client must sign and where to post
// the result.
type SignaturePayload struct {
	SignatureKind string // "eip191" | "eip712"
	Message       string
	Domain        map[string]any
	Types         map[string]any
	Value         map[string]any
	PostEndpoint  string
	PostMethod    string
	PostBody      map[string]any
}

// StepItem is one unit of work within a Step: one transaction or one
// signature request, tied back to the order ids it serves.
type StepItem struct {
	Status    ItemStatus
	OrderIDs  []string
	Tx        *TxData
	Check     *CheckEndpoint
	Signature *SignaturePayload
}

// Step is one entry of the canonical, prunable step list.
type Step struct {
	ID     string
	Action StepAction
	Kind   StepKind
	Items  []StepItem
}

// ResolutionError captures a per-item or per-order failure surfaced
// during resolution, routing, or balance checks (§7).
type ResolutionError struct {
	OrderID string
	Kind    string // e.g. "no-fillable-orders", "self-fill", "balance-too-low"
	Message string
}

// GasFees summarizes the gas-fee component of the response (§6).
type GasFees struct {
	Gas string
}

// ExecutionPlan is the full response returned to the client.
type ExecutionPlan struct {
	RequestID     string
	Steps         []Step
	Errors        []ResolutionError
	Path          []PathItem
	MaxQuantities []MaxQuantity // only populated in preview mode
	Fees          GasFees
}

// MaxQuantity reports the true upper bound for one cart intent in
// preview mode: per-order remaining, pool availability, collection
// listing count, or mint cap.
type MaxQuantity struct {
	IntentIndex int
	Max         uint64
}

// FillType selects whether an intent should resolve against mints,
// trades, or prefer one over the other.
type FillType string

const (
	FillTrade       FillType = "trade"
	FillMint        FillType = "mint"
	FillPreferMint  FillType = "prefer_mint"
)

// Intent is one line of the caller's cart, in exactly one of four
// shapes: RawOrder, OrderID, Collection, or Token.
type Intent struct {
	RawOrder   []byte
	OrderID    string
	Collection *common.Address
	Token      *TokenRef

	Quantity            uint64
	FillType            FillType
	PreferredMintStage  string
	PreferredOrderSource string
	ExactOrderSource    string
	Exclusions          []string

	AllowInactiveOrderID bool
}

// TokenRef identifies a specific (contract, tokenId) pair.
type TokenRef struct {
	Contract common.Address
	TokenID  string
}

// Request is the planner's entry point payload (§6).
type Request struct {
	Items                 []Intent
	Taker                 common.Address
	Relayer               *common.Address
	OnlyPath              bool
	ForceRouter           bool
	ForwarderChannel      string
	Currency              *common.Address
	NormalizeRoyalties    bool
	Source                string
	FeesOnTop             []string // "recipient:raw_amount" pairs
	Partial               bool
	SkipBalanceCheck      bool
	ExcludeEOA            bool // if true, Blur is excluded
	MaxFeePerGas          string
	MaxPriorityFeePerGas  string
	UsePermit             bool
	SwapProvider          string // "uniswap" | "relay"
	Referrer              string
	Comment               string
	ConduitKey            string
	ProtocolAPIKeys       map[string]string

	// At is the timestamp the request is evaluated at; defaults to
	// time.Now() via the Clock when zero.
	At time.Time
}
