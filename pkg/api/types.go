package api

// API request/response types for the REST and WebSocket surface. All
// Ethereum addresses and big-integer amounts cross the wire as hex/decimal
// strings, never as numbers, to avoid float drift in client languages.

// ==============================
// /plan request/response
// ==============================

// IntentRequest is one line of the caller's cart (planner.Intent, with
// addresses and byte fields flattened to JSON-friendly strings).
type IntentRequest struct {
	RawOrder             string   `json:"rawOrder,omitempty"`   // off-chain order blob; the string's bytes are passed through undecoded
	OrderID              string   `json:"orderId,omitempty"`
	Collection           string   `json:"collection,omitempty"` // hex address, for a collection/mint intent
	TokenContract        string   `json:"tokenContract,omitempty"`
	TokenID              string   `json:"tokenId,omitempty"`
	Quantity             uint64   `json:"quantity"`
	FillType             string   `json:"fillType,omitempty"` // "trade" | "mint" | "prefer_mint"
	PreferredMintStage   string   `json:"preferredMintStage,omitempty"`
	PreferredOrderSource string   `json:"preferredOrderSource,omitempty"`
	ExactOrderSource     string   `json:"exactOrderSource,omitempty"`
	Exclusions           []string `json:"exclusions,omitempty"`
	AllowInactiveOrderID bool     `json:"allowInactiveOrderId,omitempty"`
}

// PlanRequest is the payload for POST /api/v1/plan (planner.Request).
type PlanRequest struct {
	Items                []IntentRequest `json:"items"`
	Taker                string          `json:"taker"`
	Relayer              string          `json:"relayer,omitempty"`
	OnlyPath             bool            `json:"onlyPath,omitempty"`
	ForceRouter          bool            `json:"forceRouter,omitempty"`
	ForwarderChannel     string          `json:"forwarderChannel,omitempty"`
	Currency             string          `json:"currency,omitempty"`
	NormalizeRoyalties   bool            `json:"normalizeRoyalties,omitempty"`
	Source               string          `json:"source,omitempty"`
	FeesOnTop            []string        `json:"feesOnTop,omitempty"`
	Partial              bool            `json:"partial,omitempty"`
	SkipBalanceCheck     bool            `json:"skipBalanceCheck,omitempty"`
	ExcludeEOA           bool            `json:"excludeEOA,omitempty"`
	MaxFeePerGas         string          `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string          `json:"maxPriorityFeePerGas,omitempty"`
	UsePermit            bool            `json:"usePermit,omitempty"`
	SwapProvider         string          `json:"swapProvider,omitempty"`
	Referrer             string          `json:"referrer,omitempty"`
	Comment              string          `json:"comment,omitempty"`
	ConduitKey           string          `json:"conduitKey,omitempty"`
	ProtocolAPIKeys      map[string]string `json:"protocolApiKeys,omitempty"`
}

// ==============================
// Signature submission requests (companion endpoints named by
// SignaturePayload.PostEndpoint)
// ==============================

// AuthSignatureRequest is the payload for POST /api/v1/execute/auth-signature/v1.
type AuthSignatureRequest struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
}

// PermitSignatureRequest is the payload for POST /api/v1/execute/permit-signature/v1.
type PermitSignatureRequest struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// PreSignatureRequest is the payload for POST /api/v1/execute/pre-signature/v1.
type PreSignatureRequest struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// SignatureAck is returned by all three signature-submission endpoints.
type SignatureAck struct {
	Status string `json:"status"` // "accepted"
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket message types
// ==============================

// WSSubscribeRequest is sent by a client to subscribe to signature
// channels: "auth:<key>", "permit:<id>" or "presig:<id>".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// PlanUpdate is broadcast on the matching "auth:<key>", "permit:<id>" or
// "presig:<id>" channel whenever a signature submission is accepted, so a
// subscribed client can re-poll /plan without blind polling.
type PlanUpdate struct {
	Type      string `json:"type"` // "plan-update"
	RequestID string `json:"requestId"` // not set by the signature handlers
	Action    string `json:"action"` // the StepAction that just completed an item
}
