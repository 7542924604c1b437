package planner

import "fmt"

// ErrorKind enumerates the error taxonomy raised by the core (spec.md §7).
type ErrorKind string

const (
	// Input validation
	ErrUnknownItemShape  ErrorKind = "unknown-item-shape"
	ErrMutuallyExclusive ErrorKind = "mutually-exclusive-fields"

	// Authorization
	ErrSanctioned        ErrorKind = "taker-sanctioned"
	ErrRestrictedSource  ErrorKind = "restricted-source"

	// Resolution
	ErrNoFillableOrders         ErrorKind = "no-fillable-orders"
	ErrOrderInactive            ErrorKind = "order-inactive"
	ErrOrderFilled              ErrorKind = "order-filled"
	ErrOrderCancelled           ErrorKind = "order-cancelled"
	ErrOrderExpired             ErrorKind = "order-expired"
	ErrSelfFill                 ErrorKind = "self-fill"
	ErrQuantityUnavailable      ErrorKind = "quantity-unavailable"
	ErrCollectionNoEligibleMints ErrorKind = "collection-no-eligible-mints"
	ErrMintQuotaExceeded        ErrorKind = "mint-quota-exceeded"

	// Routing
	ErrCalldataBuildFailed ErrorKind = "calldata-build-failed"
	ErrSwapPriceOutOfRange ErrorKind = "swap-price-out-of-range"
	ErrMintSimulationFailed ErrorKind = "mint-simulation-failed"

	// Balance
	ErrBalanceTooLow ErrorKind = "balance-too-low"

	// External
	ErrIngestFailed ErrorKind = "order-ingest-failed"
	ErrFillerException ErrorKind = "filler-exception"

	// Internal
	ErrInternal ErrorKind = "internal"
)

// PlannerError is the core's structured error, carrying the order id it
// pertains to (when any) so it can be surfaced per-item in errors[].
type PlannerError struct {
	Kind    ErrorKind
	OrderID string
	Message string
	Cause   error
}

func (e *PlannerError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s: %s (order=%s)", e.Kind, e.Message, e.OrderID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PlannerError) Unwrap() error { return e.Cause }

// Fatal reports whether this error kind should short-circuit the whole
// request when partial=false (spec.md §7 propagation policy): input
// validation and authorization failures are always fatal; the rest are
// fatal only in non-partial mode, which callers enforce by checking
// Request.Partial before deciding to continue past a recoverable error.
func (e *PlannerError) Fatal() bool {
	switch e.Kind {
	case ErrUnknownItemShape, ErrMutuallyExclusive, ErrSanctioned, ErrRestrictedSource, ErrInternal:
		return true
	default:
		return false
	}
}
