// Package sequencer implements the Step Sequencer (component C8,
// spec.md §4.6): emits the seven canonical steps, applies the pruning
// rules, and withholds transaction data until every earlier signature
// step is complete. No direct teacher analogue exists (the teacher has
// no multi-step signature workflow); the step/status shape follows the
// teacher's OrderStatus enum-with-String() idiom.
package sequencer

import "github.com/nftrouter/planner-core/pkg/planner"

// canonicalOrder is the fixed step order from spec.md §4.6.
var canonicalOrder = []planner.StepAction{
	planner.ActionAuth,
	planner.ActionCurrencyApproval,
	planner.ActionCurrencyPermit,
	planner.ActionPreSignature,
	planner.ActionAuthTransaction,
	planner.ActionSwap,
	planner.ActionSale,
}

// Candidate is one step's raw material before pruning: whether it
// applies to this request at all (Present), and its items.
type Candidate struct {
	Present bool
	Kind    planner.StepKind
	Items   []planner.StepItem
}

// Input bundles every candidate step plus the flags the pruning rules
// consult (spec.md §4.6).
type Input struct {
	Auth             Candidate
	CurrencyApproval Candidate
	CurrencyPermit   Candidate
	PreSignature     Candidate
	AuthTransaction  Candidate
	Swap             Candidate
	Sale             Candidate

	BuyInIsNative           bool
	ERC721CVerificationPending bool
	UsePermit               bool
}

func anyIncomplete(items []planner.StepItem) bool {
	for _, it := range items {
		if it.Status == planner.StatusIncomplete {
			return true
		}
	}
	return false
}

// Assemble builds the pruned, canonically-ordered step list and applies
// conditional gating: a transaction step's item data is withheld
// whenever any earlier signature step in the list still has an incomplete
// item. When the auth step itself is incomplete, Assemble also reports
// earlyReturn=true, signaling the caller to omit everything after
// `steps`/`path` in the response (spec.md §4.6 "Early return paths").
func Assemble(in Input) (steps []planner.Step, earlyReturn bool) {
	candidates := map[planner.StepAction]Candidate{
		planner.ActionAuth:             in.Auth,
		planner.ActionCurrencyApproval: in.CurrencyApproval,
		planner.ActionCurrencyPermit:   in.CurrencyPermit,
		planner.ActionPreSignature:     in.PreSignature,
		planner.ActionAuthTransaction:  in.AuthTransaction,
		planner.ActionSwap:             in.Swap,
		planner.ActionSale:             in.Sale,
	}

	// Pruning rules (spec.md §4.6), applied before assembly so relative
	// order among surviving steps is preserved automatically by
	// iterating canonicalOrder below.
	if ca := candidates[planner.ActionCurrencyApproval]; ca.Present {
		if in.BuyInIsNative && !in.ERC721CVerificationPending && !anyIncomplete(ca.Items) {
			ca.Present = false
			candidates[planner.ActionCurrencyApproval] = ca
		}
	}
	if !in.UsePermit {
		cp := candidates[planner.ActionCurrencyPermit]
		cp.Present = false
		candidates[planner.ActionCurrencyPermit] = cp
	}
	if !in.ERC721CVerificationPending {
		at := candidates[planner.ActionAuthTransaction]
		at.Present = false
		candidates[planner.ActionAuthTransaction] = at
	}

	anyEarlierIncomplete := false
	for _, action := range canonicalOrder {
		c := candidates[action]
		if !c.Present {
			continue
		}

		items := c.Items
		if anyEarlierIncomplete && c.Kind == planner.StepTransaction {
			items = withholdData(items)
		}

		steps = append(steps, planner.Step{
			ID:     string(action),
			Action: action,
			Kind:   c.Kind,
			Items:  items,
		})

		if c.Kind == planner.StepSignature && anyIncomplete(c.Items) {
			anyEarlierIncomplete = true
			if action == planner.ActionAuth {
				earlyReturn = true
			}
		}
	}

	return steps, earlyReturn
}

// withholdData returns a copy of items with every kind of payload
// (Tx/Signature) cleared but status preserved, implementing the
// conditional-gating rule: a transaction step's data is withheld until no
// earlier signature step has an incomplete item.
func withholdData(items []planner.StepItem) []planner.StepItem {
	out := make([]planner.StepItem, len(items))
	for i, it := range items {
		out[i] = planner.StepItem{Status: it.Status, OrderIDs: it.OrderIDs}
	}
	return out
}
