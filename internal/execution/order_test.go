package execution

import (
	"testing"
)

func validIntent() Intent {
	return Intent{
		AccountID: "acct-1",
		Ticker:    "BTC/USDC",
		Side:      SideBuy,
		Quantity:  1.5,
		Price:     100,
		Type:      TypeLimit,
		Strategy:  "test",
	}
}

func TestIntentValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Intent)
		ok     bool
	}{
		{"valid", func(i *Intent) {}, true},
		{"missing ticker", func(i *Intent) { i.Ticker = "" }, false},
		{"bad side", func(i *Intent) { i.Side = "long" }, false},
		{"zero quantity", func(i *Intent) { i.Quantity = 0 }, false},
		{"negative price", func(i *Intent) { i.Price = -1 }, false},
		{"bad type", func(i *Intent) { i.Type = "stop" }, false},
		{"market order", func(i *Intent) { i.Type = TypeMarket }, true},
	}

	for _, tc := range cases {
		intent := validIntent()
		tc.mutate(&intent)
		err := intent.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestOrderLifecycle_ForwardOnly(t *testing.T) {
	order := NewOrder(validIntent())
	if order.Status != StatusPending {
		t.Fatalf("new order must start pending, got %s", order.Status)
	}
	if order.RemainingQuantity != order.Quantity {
		t.Fatalf("remaining must equal quantity at creation")
	}

	if err := order.Transition(StatusSubmitted); err != nil {
		t.Fatalf("pending -> submitted: %v", err)
	}
	if err := order.Transition(StatusFilled); err != nil {
		t.Fatalf("submitted -> filled: %v", err)
	}

	// 终态后任何转移都被拒绝。
	if err := order.Transition(StatusSubmitted); err == nil {
		t.Fatalf("filled -> submitted must be rejected")
	}
	if err := order.Transition(StatusFailed); err == nil {
		t.Fatalf("filled -> failed must be rejected")
	}
}

func TestOrderTransition_NoBackwardMoves(t *testing.T) {
	order := NewOrder(validIntent())
	if err := order.Transition(StatusSubmitted); err != nil {
		t.Fatalf("pending -> submitted: %v", err)
	}
	if err := order.Transition(StatusPending); err == nil {
		t.Fatalf("submitted -> pending must be rejected")
	}
	if err := order.Transition("teleported"); err == nil {
		t.Fatalf("unknown status must be rejected")
	}
}

func TestOrderPendingToFailed(t *testing.T) {
	order := NewOrder(validIntent())
	if err := order.Transition(StatusFailed); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	if !order.Status.Terminal() {
		t.Fatalf("failed must be terminal")
	}
}

func TestApplyFill_MaintainsRemainingInvariant(t *testing.T) {
	order := NewOrder(validIntent())

	order.ApplyFill(0.5)
	if order.RemainingQuantity != 1.0 {
		t.Fatalf("remaining after partial fill: got %f want 1.0", order.RemainingQuantity)
	}

	// 超额成交被收敛到订单数量。
	order.ApplyFill(5)
	if order.FilledQuantity != order.Quantity || order.RemainingQuantity != 0 {
		t.Fatalf("overfill must clamp: filled=%f remaining=%f", order.FilledQuantity, order.RemainingQuantity)
	}
}

func TestSideSignedQty(t *testing.T) {
	if SideBuy.SignedQty(2) != 2 {
		t.Fatalf("buy must be positive")
	}
	if SideSell.SignedQty(2) != -2 {
		t.Fatalf("sell must be negative")
	}
}
