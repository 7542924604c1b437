package sequencer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

func TestAssemblePreservesCanonicalOrder(t *testing.T) {
	in := Input{
		Auth:             Candidate{Present: true, Kind: planner.StepSignature, Items: []planner.StepItem{{Status: planner.StatusComplete}}},
		CurrencyApproval: Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{{Status: planner.StatusComplete}}},
		Sale:             Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{{Status: planner.StatusIncomplete}}},
		BuyInIsNative:    false,
	}
	steps, early := Assemble(in)
	if early {
		t.Fatal("no incomplete signature step present; should not early-return")
	}
	wantOrder := []planner.StepAction{planner.ActionAuth, planner.ActionCurrencyApproval, planner.ActionSale}
	if len(steps) != len(wantOrder) {
		t.Fatalf("got %d steps, want %d", len(steps), len(wantOrder))
	}
	for i, w := range wantOrder {
		if steps[i].Action != w {
			t.Errorf("position %d: got %s, want %s", i, steps[i].Action, w)
		}
	}
}

func TestPruneCurrencyApprovalWhenNativeAndComplete(t *testing.T) {
	in := Input{
		CurrencyApproval: Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{{Status: planner.StatusComplete}}},
		Sale:             Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{{Status: planner.StatusComplete}}},
		BuyInIsNative:    true,
	}
	steps, _ := Assemble(in)
	for _, s := range steps {
		if s.Action == planner.ActionCurrencyApproval {
			t.Fatal("currency-approval should be pruned for native buy-in with no pending items")
		}
	}
}

func TestPruneNeverRemovesIncompleteApproval(t *testing.T) {
	in := Input{
		CurrencyApproval: Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{{Status: planner.StatusIncomplete}}},
		BuyInIsNative:    true,
	}
	steps, _ := Assemble(in)
	found := false
	for _, s := range steps {
		if s.Action == planner.ActionCurrencyApproval {
			found = true
		}
	}
	if !found {
		t.Fatal("pruning must never remove a step with an incomplete item")
	}
}

func TestBlurAuthIncompleteEarlyReturnsAndGatesSale(t *testing.T) {
	in := Input{
		Auth: Candidate{Present: true, Kind: planner.StepSignature, Items: []planner.StepItem{{Status: planner.StatusIncomplete}}},
		CurrencyApproval: Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{
			{Status: planner.StatusIncomplete, Tx: &planner.TxData{To: common.Address{1}}},
		}},
		Sale: Candidate{Present: true, Kind: planner.StepTransaction, Items: []planner.StepItem{
			{Status: planner.StatusIncomplete, Tx: &planner.TxData{To: common.Address{2}}},
		}},
	}
	steps, early := Assemble(in)
	if !early {
		t.Fatal("expected early return when auth step is incomplete")
	}
	for _, s := range steps {
		if s.Action == planner.ActionAuth {
			continue
		}
		for _, it := range s.Items {
			if it.Tx != nil {
				t.Fatalf("step %s should have withheld tx data while auth is incomplete", s.Action)
			}
		}
	}
}

func TestUsePermitFalsePrunesCurrencyPermit(t *testing.T) {
	in := Input{
		CurrencyPermit: Candidate{Present: true, Kind: planner.StepSignature, Items: []planner.StepItem{{Status: planner.StatusIncomplete}}},
		UsePermit:      false,
	}
	steps, _ := Assemble(in)
	if len(steps) != 0 {
		t.Fatalf("expected currency-permit pruned when usePermit=false, got %+v", steps)
	}
}
