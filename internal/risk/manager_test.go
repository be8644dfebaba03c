package risk

import (
	"math"
	"testing"

	"volbot/internal/config"
	"volbot/internal/execution"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxDailyLoss:        1000,
		MaxPositionSize:     10000,
		MaxDrawdownLimit:    0.10,
		MaxLeverage:         3.0,
		PositionSizeMethod:  "fixed",
		RiskPerTrade:        0.02,
		FixedPositionSize:   100,
		DefaultPositionSize: 100,
		StartingEquity:      10000,
	}
}

func buyIntent(ticker string, quantity, price float64) execution.Intent {
	return execution.Intent{
		AccountID: "acct-1",
		Ticker:    ticker,
		Side:      execution.SideBuy,
		Quantity:  quantity,
		Price:     price,
		Type:      execution.TypeLimit,
		Strategy:  "test",
	}
}

func TestPreTradeCheck_EmergencyStopDeniesEverything(t *testing.T) {
	m := NewManager(testConfig(), nil)
	m.EmergencyStopAll()

	intents := []execution.Intent{
		buyIntent("BTC/USDC", 0.001, 1),
		buyIntent("ETH/USDC", 1000000, 1000000),
		{AccountID: "", Ticker: "SOL/USDC", Side: execution.SideSell, Quantity: 1, Price: 1, Type: execution.TypeMarket},
	}
	for _, intent := range intents {
		allowed, reason := m.PreTradeCheck(intent)
		if allowed {
			t.Fatalf("expected denial under emergency stop for %s", intent.Ticker)
		}
		if reason != "emergency_stop" {
			t.Fatalf("expected reason emergency_stop, got %q", reason)
		}
	}
}

func TestPreTradeCheck_PositionLimit(t *testing.T) {
	m := NewManager(testConfig(), nil)

	// 已持仓 9500，再买 600 将突破 10000 上限。
	m.RecordFill("acct-1", "BTC/USDC", execution.SideBuy, 9500, 100)

	if allowed, reason := m.PreTradeCheck(buyIntent("BTC/USDC", 600, 100)); allowed || reason != "position_limit" {
		t.Fatalf("expected position_limit denial, got allowed=%v reason=%q", allowed, reason)
	}

	// 反向卖出缩小净头寸，应当放行。
	sell := buyIntent("BTC/USDC", 600, 100)
	sell.Side = execution.SideSell
	if allowed, reason := m.PreTradeCheck(sell); !allowed {
		t.Fatalf("expected sell reducing position to pass, got reason %q", reason)
	}
}

func TestPreTradeCheck_DailyLossEntersRiskMode(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyLoss = 1
	m := NewManager(cfg, nil)

	// 卖出记为正盈亏，需要直接写入负的日亏损来触发。
	m.mu.Lock()
	m.dailyPnL["acct-1"] = -2
	m.mu.Unlock()

	if allowed, reason := m.PreTradeCheck(buyIntent("BTC/USDC", 1, 100)); allowed || reason != "daily_loss" {
		t.Fatalf("expected daily_loss denial, got allowed=%v reason=%q", allowed, reason)
	}

	report := m.Report()
	if !report.RiskStatus.IsRiskMode {
		t.Fatalf("expected risk mode to stick after daily loss breach")
	}
}

func TestPreTradeCheck_MarginAlwaysPasses(t *testing.T) {
	m := NewManager(testConfig(), nil)

	// 名义价值远超杠杆可承受范围，占位保证金检查仍然放行。
	if allowed, reason := m.PreTradeCheck(buyIntent("BTC/USDC", 9999, 1e9)); !allowed {
		t.Fatalf("expected margin placeholder to pass, got reason %q", reason)
	}
}

func TestRecordFill_SellOnlyPnL(t *testing.T) {
	m := NewManager(testConfig(), nil)

	m.RecordFill("acct-1", "BTC/USDC", execution.SideBuy, 2, 100)
	report := m.Report()
	if report.RiskMetrics.DailyPnL != 0 {
		t.Fatalf("buy fill must not generate pnl, got %f", report.RiskMetrics.DailyPnL)
	}

	m.RecordFill("acct-1", "BTC/USDC", execution.SideSell, 2, 100)
	report = m.Report()
	want := 2 * 100 * fixedMarginRate
	if math.Abs(report.RiskMetrics.DailyPnL-want) > 1e-9 {
		t.Fatalf("sell pnl mismatch: got %f want %f", report.RiskMetrics.DailyPnL, want)
	}
	if report.Positions["acct-1"]["BTC/USDC"] != 0 {
		t.Fatalf("expected flat position, got %f", report.Positions["acct-1"]["BTC/USDC"])
	}
}

// 同一笔成交重复投递会被重复计账。这是当前约定的口径，
// 本用例固定该行为，避免被误当作 bug 修掉。
func TestRecordFill_DuplicateDeliveryDoubleCounts(t *testing.T) {
	m := NewManager(testConfig(), nil)

	m.RecordFill("acct-1", "BTC/USDC", execution.SideSell, 1, 1000)
	m.RecordFill("acct-1", "BTC/USDC", execution.SideSell, 1, 1000)

	report := m.Report()
	if report.TradeCount != 2 {
		t.Fatalf("expected 2 trade records for duplicate delivery, got %d", report.TradeCount)
	}
	want := 2 * 1000 * fixedMarginRate
	if math.Abs(report.RiskMetrics.DailyPnL-want) > 1e-9 {
		t.Fatalf("expected doubled pnl %f, got %f", want, report.RiskMetrics.DailyPnL)
	}
	if report.Positions["acct-1"]["BTC/USDC"] != -2 {
		t.Fatalf("expected position -2 after duplicate sells, got %f", report.Positions["acct-1"]["BTC/USDC"])
	}
}

func TestRefreshMetrics_EmptyHistoryIsNoOp(t *testing.T) {
	m := NewManager(testConfig(), nil)

	m.RefreshMetrics()

	report := m.Report()
	if report.RiskMetrics != (Metrics{}) {
		t.Fatalf("expected zero metrics without trades, got %+v", report.RiskMetrics)
	}
}

func TestRefreshMetrics_WinRateAndDrawdown(t *testing.T) {
	m := NewManager(testConfig(), nil)

	// 两笔卖出产生正盈亏，一笔买入盈亏为零。
	m.RecordFill("acct-1", "BTC/USDC", execution.SideSell, 1, 1000)
	m.RecordFill("acct-1", "BTC/USDC", execution.SideBuy, 1, 1000)
	m.RecordFill("acct-1", "BTC/USDC", execution.SideSell, 1, 2000)

	m.RefreshMetrics()
	report := m.Report()

	wantWinRate := 2.0 / 3.0
	if math.Abs(report.RiskMetrics.WinRate-wantWinRate) > 1e-9 {
		t.Fatalf("win rate mismatch: got %f want %f", report.RiskMetrics.WinRate, wantWinRate)
	}
	// 权益曲线单调不降，不应有回撤。
	if report.RiskMetrics.CurrentDrawdown != 0 {
		t.Fatalf("expected zero drawdown, got %f", report.RiskMetrics.CurrentDrawdown)
	}
}

func TestEmergencyStopAll_ZeroesPositionsAndAlerts(t *testing.T) {
	m := NewManager(testConfig(), nil)

	var alerted struct {
		eventType string
		severity  string
	}
	m.SetAlertFunc(func(eventType, severity, message, accountID, ticker string) {
		alerted.eventType = eventType
		alerted.severity = severity
	})

	m.RecordFill("acct-1", "BTC/USDC", execution.SideBuy, 5, 100)
	m.EmergencyStopAll()

	if !m.EmergencyStopped() {
		t.Fatalf("expected emergency stop flag to be set")
	}
	report := m.Report()
	if report.Positions["acct-1"]["BTC/USDC"] != 0 {
		t.Fatalf("expected bookkeeping position zeroed, got %f", report.Positions["acct-1"]["BTC/USDC"])
	}
	if alerted.eventType != "emergency_stop" || alerted.severity != "critical" {
		t.Fatalf("expected critical emergency_stop alert, got %+v", alerted)
	}
}

func TestPositionSize_Methods(t *testing.T) {
	cfg := testConfig()

	cfg.PositionSizeMethod = "fixed"
	m := NewManager(cfg, nil)
	if got := m.PositionSize(10000, 100, 95); got != cfg.FixedPositionSize {
		t.Fatalf("fixed sizing: got %f want %f", got, cfg.FixedPositionSize)
	}

	cfg.PositionSizeMethod = "risk_based"
	m = NewManager(cfg, nil)
	// 风险金 10000*0.02=200，价格风险 5 → 40。
	if got := m.PositionSize(10000, 100, 95); math.Abs(got-40) > 1e-9 {
		t.Fatalf("risk_based sizing: got %f want 40", got)
	}
	// 价格风险为零时退回默认仓位。
	if got := m.PositionSize(10000, 100, 100); got != cfg.DefaultPositionSize {
		t.Fatalf("risk_based fallback: got %f want %f", got, cfg.DefaultPositionSize)
	}

	cfg.PositionSizeMethod = "kelly"
	m = NewManager(cfg, nil)
	// 没有历史指标时退回默认仓位。
	if got := m.PositionSize(10000, 100, 95); got != cfg.DefaultPositionSize {
		t.Fatalf("kelly fallback: got %f want %f", got, cfg.DefaultPositionSize)
	}
	m.metrics.WinRate = 0.9
	m.metrics.ProfitFactor = 10
	got := m.PositionSize(10000, 100, 95)
	// 凯利分数 0.9-0.1/10=0.89，截断到 0.25 → 10000*0.25/100=25。
	if math.Abs(got-25) > 1e-9 {
		t.Fatalf("kelly capped sizing: got %f want 25", got)
	}
}
