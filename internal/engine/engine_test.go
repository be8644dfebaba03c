package engine

import (
	"context"
	"errors"
	"testing"

	"volbot/internal/config"
	"volbot/internal/exchange"
	"volbot/internal/execution"
)

type allowAllGate struct{}

func (allowAllGate) PreTradeCheck(intent execution.Intent) (bool, string) { return true, "" }

type allowAllLedger struct{}

func (allowAllLedger) CheckLimits(accountID, ticker string, deltaQty float64) bool { return true }

type fakeOrderClient struct {
	status     string
	statusErr  error
	submitted  int
	lastTicker string
}

func (c *fakeOrderClient) SubmitOrder(ctx context.Context, ticker, side, orderType string, quantity, price float64) (string, error) {
	c.submitted++
	c.lastTicker = ticker
	return "ex-1", nil
}

func (c *fakeOrderClient) FetchOrderStatus(ctx context.Context, exchangeOrderID, ticker string) (string, error) {
	return c.status, c.statusErr
}

type fakeMarketClient struct {
	prices map[string]float64
	err    error
}

func (c *fakeMarketClient) ListProducts(ctx context.Context) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	products := make([]string, 0, len(c.prices))
	for ticker := range c.prices {
		products = append(products, ticker)
	}
	return products, nil
}

func (c *fakeMarketClient) FetchTickers(ctx context.Context, tickers []string) (map[string]exchange.TickerData, error) {
	data := make(map[string]exchange.TickerData, len(c.prices))
	for ticker, price := range c.prices {
		data[ticker] = exchange.TickerData{Price: price}
	}
	return data, nil
}

type scriptedStrategy struct {
	name    string
	running bool
	intents []execution.Intent
	updates []execution.Update
}

func (s *scriptedStrategy) Name() string { return s.name }
func (s *scriptedStrategy) Execute(snapshot exchange.Snapshot) []execution.Intent {
	return s.intents
}
func (s *scriptedStrategy) OnOrderUpdate(update execution.Update) {
	s.updates = append(s.updates, update)
}
func (s *scriptedStrategy) Start()        { s.running = true }
func (s *scriptedStrategy) Stop()         { s.running = false }
func (s *scriptedStrategy) Running() bool { return s.running }

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{} // 循环间隔在单测中不使用
}

func newTestEngine(client *fakeOrderClient, market *fakeMarketClient) *Engine {
	clients := map[string]execution.OrderClient{"acct-1": client}
	pipeline := execution.NewPipeline(allowAllGate{}, allowAllLedger{}, clients, nil)
	return New(testEngineConfig(), market, pipeline, clients, nil)
}

func testIntent(strategyName string) execution.Intent {
	return execution.Intent{
		AccountID: "acct-1",
		Ticker:    "BTC/USDC",
		Side:      execution.SideBuy,
		Quantity:  1,
		Price:     100,
		Type:      execution.TypeLimit,
		Strategy:  strategyName,
	}
}

func TestRefreshMarketData_ReplacesSnapshotWholesale(t *testing.T) {
	market := &fakeMarketClient{prices: map[string]float64{"BTC/USDC": 100, "ETH/USDC": 10}}
	e := newTestEngine(&fakeOrderClient{}, market)

	if err := e.refreshMarketData(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, ok := e.Snapshot().Ticker("ETH/USDC"); !ok {
		t.Fatalf("snapshot missing ticker")
	}

	// 下一轮不再返回 ETH，旧数据必须被整体替换掉。
	market.prices = map[string]float64{"BTC/USDC": 101}
	if err := e.refreshMarketData(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	snapshot := e.Snapshot()
	if _, ok := snapshot.Ticker("ETH/USDC"); ok {
		t.Fatalf("stale ticker survived wholesale replace")
	}
	if data, _ := snapshot.Ticker("BTC/USDC"); data.Price != 101 {
		t.Fatalf("price not refreshed: %f", data.Price)
	}
}

func TestDispatchStrategies_SubmitsAndNotifies(t *testing.T) {
	client := &fakeOrderClient{}
	e := newTestEngine(client, &fakeMarketClient{prices: map[string]float64{"BTC/USDC": 100}})

	s := &scriptedStrategy{name: "test", intents: []execution.Intent{testIntent("test")}}
	e.AddStrategy(s)
	s.Start()

	var notified []execution.Update
	e.RegisterCallback(func(update execution.Update) error {
		notified = append(notified, update)
		return nil
	})

	if err := e.refreshMarketData(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	e.dispatchStrategies(context.Background())

	if client.submitted != 1 {
		t.Fatalf("expected one submission, got %d", client.submitted)
	}
	stats := e.OrderStatistics()
	if stats.TotalOrders != 1 {
		t.Fatalf("order not registered: %+v", stats)
	}
	if len(notified) != 1 || notified[0].Status != execution.StatusSubmitted {
		t.Fatalf("expected submitted notification, got %+v", notified)
	}
	// 策略自身也要收到通知。
	if len(s.updates) != 1 {
		t.Fatalf("strategy not notified, got %d updates", len(s.updates))
	}
}

func TestDispatchStrategies_SkipsStoppedAndEmptySnapshot(t *testing.T) {
	client := &fakeOrderClient{}
	e := newTestEngine(client, &fakeMarketClient{prices: map[string]float64{"BTC/USDC": 100}})

	s := &scriptedStrategy{name: "test", intents: []execution.Intent{testIntent("test")}}
	e.AddStrategy(s)
	s.Start()

	// 快照为空时整轮跳过。
	e.dispatchStrategies(context.Background())
	if client.submitted != 0 {
		t.Fatalf("empty snapshot must not dispatch")
	}

	if err := e.refreshMarketData(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	s.Stop()
	e.dispatchStrategies(context.Background())
	if client.submitted != 0 {
		t.Fatalf("stopped strategy must not be executed")
	}
}

func TestSubmitIntent_DefaultsAccount(t *testing.T) {
	client := &fakeOrderClient{}
	clients := map[string]execution.OrderClient{"default": client}
	pipeline := execution.NewPipeline(allowAllGate{}, allowAllLedger{}, clients, nil)
	e := New(testEngineConfig(), &fakeMarketClient{}, pipeline, clients, nil)

	intent := testIntent("test")
	intent.AccountID = ""
	e.submitIntent(context.Background(), intent)

	if client.submitted != 1 {
		t.Fatalf("intent without account must fall back to default client")
	}
}

func TestReconcileOrders_StatusMapping(t *testing.T) {
	cases := []struct {
		exchangeStatus string
		want           execution.Status
	}{
		{"closed", execution.StatusFilled},
		{"canceled", execution.StatusFailed},
		{"rejected", execution.StatusFailed},
		{"expired", execution.StatusFailed},
		{"open", execution.StatusSubmitted},
		{"weird", execution.StatusSubmitted},
	}

	for _, tc := range cases {
		client := &fakeOrderClient{status: tc.exchangeStatus}
		e := newTestEngine(client, &fakeMarketClient{})

		order := execution.NewOrder(testIntent("test"))
		order.ExchangeOrderID = "ex-1"
		if err := order.Transition(execution.StatusSubmitted); err != nil {
			t.Fatalf("setup transition: %v", err)
		}
		e.registry.Add(order)

		if err := e.reconcileOrders(context.Background()); err != nil {
			t.Fatalf("%s: reconcile failed: %v", tc.exchangeStatus, err)
		}

		got, _ := e.registry.Get(order.ID)
		if got.Status != tc.want {
			t.Errorf("%s: got %s want %s", tc.exchangeStatus, got.Status, tc.want)
		}
		if tc.want == execution.StatusFilled && got.RemainingQuantity != 0 {
			t.Errorf("%s: filled order must have zero remaining, got %f", tc.exchangeStatus, got.RemainingQuantity)
		}
	}
}

func TestReconcileOrders_ClientErrorLeavesOrderUntouched(t *testing.T) {
	client := &fakeOrderClient{statusErr: errors.New("network down")}
	e := newTestEngine(client, &fakeMarketClient{})

	order := execution.NewOrder(testIntent("test"))
	order.ExchangeOrderID = "ex-1"
	_ = order.Transition(execution.StatusSubmitted)
	e.registry.Add(order)

	if err := e.reconcileOrders(context.Background()); err != nil {
		t.Fatalf("per-order errors must not abort the scan: %v", err)
	}
	got, _ := e.registry.Get(order.ID)
	if got.Status != execution.StatusSubmitted {
		t.Fatalf("order must stay submitted after poll error, got %s", got.Status)
	}
}

func TestNotifyUpdate_StrategyFirstThenCallbacksInOrder(t *testing.T) {
	e := newTestEngine(&fakeOrderClient{}, &fakeMarketClient{})

	var sequence []string
	s := &scriptedStrategy{name: "test"}
	e.AddStrategy(s)

	e.RegisterCallback(func(update execution.Update) error {
		sequence = append(sequence, "first")
		return errors.New("sink unavailable")
	})
	e.RegisterCallback(func(update execution.Update) error {
		sequence = append(sequence, "second")
		return nil
	})

	e.notifyUpdate(execution.Update{OrderID: "o-1", Strategy: "test", Status: execution.StatusFilled})

	if len(s.updates) != 1 {
		t.Fatalf("strategy must be notified, got %d", len(s.updates))
	}
	// 第一个回调失败不影响第二个。
	if len(sequence) != 2 || sequence[0] != "first" || sequence[1] != "second" {
		t.Fatalf("callback fan-out broken: %v", sequence)
	}
}

func TestRegistry_Statistics(t *testing.T) {
	r := NewRegistry()

	filled := execution.NewOrder(testIntent("grid"))
	_ = filled.Transition(execution.StatusSubmitted)
	r.Add(filled)
	if _, err := r.MarkFilled(filled.ID); err != nil {
		t.Fatalf("mark filled: %v", err)
	}

	failed := execution.NewOrder(testIntent("mm"))
	r.Add(failed)
	if _, err := r.MarkFailed(failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats := r.Statistics()
	if stats.TotalOrders != 2 || stats.FilledOrders != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.FillRate != 0.5 {
		t.Fatalf("fill rate: got %f want 0.5", stats.FillRate)
	}
	if stats.OrdersByStrategy["grid"] != 1 || stats.OrdersByStatus["failed"] != 1 {
		t.Fatalf("breakdowns wrong: %+v", stats)
	}
}

func TestRegistry_MarkUnknownOrder(t *testing.T) {
	r := NewRegistry()
	if _, err := r.MarkFilled("nope"); err == nil {
		t.Fatalf("unknown order must error")
	}
	if _, err := r.MarkFailed("nope"); err == nil {
		t.Fatalf("unknown order must error")
	}
}
