package risk

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"volbot/internal/config"
	"volbot/internal/execution"
)

// fixedMarginRate 为卖出成交的简化盈亏比例。
// 这是对真实成本价模型的占位实现：不追踪持仓均价，
// 统一按名义价值的固定比例记为利润。
const fixedMarginRate = 0.001

const defaultAccountID = "default"

// Manager 为交易前风控闸门与交易后仓位记账的组合。
// 每笔订单形成「检查-回写」两阶段协议：提交前 PreTradeCheck，
// 成交后 RecordFill。
type Manager struct {
	cfg    config.RiskConfig
	logger *zap.Logger
	alert  AlertFunc

	mu        sync.Mutex
	positions map[string]map[string]float64
	dailyPnL  map[string]float64
	trades    []TradeRecord
	metrics   Metrics

	isRiskMode    bool
	emergencyStop bool
}

// NewManager 创建风险管理器。
func NewManager(cfg config.RiskConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		positions: make(map[string]map[string]float64),
		dailyPnL:  make(map[string]float64),
	}
}

// SetAlertFunc 注册告警出口。
func (m *Manager) SetAlertFunc(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alert = fn
}

// PreTradeCheck 按固定顺序执行交易前检查，首个失败项短路返回。
// 检查顺序：紧急停止 → 仓位限制 → 日亏损 → 保证金 → 回撤。
func (m *Manager) PreTradeCheck(intent execution.Intent) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accountID := intent.AccountID
	if accountID == "" {
		accountID = defaultAccountID
	}

	if m.emergencyStop {
		m.logger.Warn("紧急停止状态，拒绝所有交易")
		return false, "emergency_stop"
	}

	if !m.checkPositionLimit(accountID, intent.Ticker, intent.Side, intent.Quantity) {
		return false, "position_limit"
	}

	if !m.checkDailyLoss(accountID) {
		return false, "daily_loss"
	}

	if !m.checkMargin(intent.Quantity, intent.Price) {
		return false, "margin"
	}

	if !m.checkDrawdown() {
		return false, "drawdown"
	}

	return true, ""
}

func (m *Manager) checkPositionLimit(accountID, ticker string, side execution.Side, quantity float64) bool {
	current := m.positions[accountID][ticker]
	prospective := current + side.SignedQty(quantity)

	if abs(prospective) > m.cfg.MaxPositionSize {
		m.logger.Warn("仓位超限",
			zap.String("account", accountID),
			zap.String("ticker", ticker),
			zap.Float64("prospective", prospective),
			zap.Float64("max_position_size", m.cfg.MaxPositionSize),
		)
		return false
	}
	return true
}

func (m *Manager) checkDailyLoss(accountID string) bool {
	dailyPnL := m.dailyPnL[accountID]
	if dailyPnL < -m.cfg.MaxDailyLoss {
		m.logger.Warn("日亏损超限",
			zap.String("account", accountID),
			zap.Float64("daily_pnl", dailyPnL),
			zap.Float64("max_daily_loss", m.cfg.MaxDailyLoss),
		)
		m.isRiskMode = true
		return false
	}
	return true
}

// checkMargin 为占位实现：计算所需保证金后直接放行，
// 真实可用余额校验需要接入账户资金快照。
func (m *Manager) checkMargin(quantity, price float64) bool {
	_ = quantity * price / m.cfg.MaxLeverage
	return true
}

func (m *Manager) checkDrawdown() bool {
	if m.metrics.CurrentDrawdown > m.cfg.MaxDrawdownLimit {
		m.logger.Warn("回撤超限",
			zap.Float64("current_drawdown", m.metrics.CurrentDrawdown),
			zap.Float64("max_drawdown_limit", m.cfg.MaxDrawdownLimit),
		)
		m.isRiskMode = true
		return false
	}
	return true
}

// RecordFill 在订单成交后回写仓位并记录流水。
// 卖出成交按 fixedMarginRate 记一笔简化盈亏。
// 对同一笔成交重复调用会重复计账，幂等保障由投递方负责。
func (m *Manager) RecordFill(accountID, ticker string, side execution.Side, quantity, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accountID == "" {
		accountID = defaultAccountID
	}

	if m.positions[accountID] == nil {
		m.positions[accountID] = make(map[string]float64)
	}
	m.positions[accountID][ticker] += side.SignedQty(quantity)

	notional := quantity * price
	record := TradeRecord{
		Timestamp: time.Now().UTC(),
		AccountID: accountID,
		Ticker:    ticker,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Notional:  notional,
	}

	if side == execution.SideSell {
		pnl := notional * fixedMarginRate
		record.PnL = pnl
		m.dailyPnL[accountID] += pnl
		m.metrics.DailyPnL += pnl
		m.metrics.TotalPnL += pnl
	}

	m.trades = append(m.trades, record)

	m.logger.Info("更新仓位",
		zap.String("account", accountID),
		zap.String("ticker", ticker),
		zap.Float64("position", m.positions[accountID][ticker]),
	)
}

// RefreshMetrics 重算胜率、盈亏比与回撤指标。
// 没有成交流水时不做任何事。
func (m *Manager) RefreshMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.trades) == 0 {
		return
	}

	profitable := 0
	grossProfit := 0.0
	grossLoss := 0.0
	for _, trade := range m.trades {
		if trade.PnL > 0 {
			profitable++
			grossProfit += trade.PnL
		} else if trade.PnL < 0 {
			grossLoss += -trade.PnL
		}
	}
	m.metrics.WinRate = float64(profitable) / float64(len(m.trades))
	if grossLoss > 0 {
		m.metrics.ProfitFactor = grossProfit / grossLoss
	}

	// 权益曲线：固定初始资金逐笔叠加盈亏。
	equity := m.cfg.StartingEquity
	peak := equity
	for _, trade := range m.trades {
		equity += trade.PnL
		if equity > peak {
			peak = equity
		}
	}

	if peak > 0 {
		m.metrics.CurrentDrawdown = (peak - equity) / peak
	}
	if m.metrics.CurrentDrawdown > m.metrics.MaxDrawdown {
		m.metrics.MaxDrawdown = m.metrics.CurrentDrawdown
	}
}

// EmergencyStopAll 触发紧急停止。标志一旦置位不会被本模块清除，
// 只能由外部运维操作复位。仓位清零只是记账口径，
// 真实平仓由交易所侧的外部流程负责。
func (m *Manager) EmergencyStopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emergencyStop = true
	m.logger.Error("触发紧急停止！")

	for accountID := range m.positions {
		for ticker := range m.positions[accountID] {
			m.positions[accountID][ticker] = 0
		}
	}

	if m.alert != nil {
		m.alert("emergency_stop", "critical", "触发紧急停止，所有新订单已被阻断", "", "")
	}

	m.logger.Info("所有仓位已清零(记账)")
}

// EmergencyStopped 返回紧急停止标志。
func (m *Manager) EmergencyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyStop
}

// PositionSize 按配置的策略计算仓位大小。
func (m *Manager) PositionSize(accountBalance, entryPrice, stopLossPrice float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.cfg.PositionSizeMethod {
	case "fixed":
		return m.cfg.FixedPositionSize

	case "risk_based":
		riskAmount := accountBalance * m.cfg.RiskPerTrade
		priceRisk := abs(entryPrice - stopLossPrice)
		if priceRisk > 0 {
			size := riskAmount / priceRisk
			if size > m.cfg.MaxPositionSize {
				size = m.cfg.MaxPositionSize
			}
			return size
		}

	case "kelly":
		winRate := m.metrics.WinRate
		profitFactor := m.metrics.ProfitFactor
		if profitFactor > 0 && winRate > 0 && entryPrice > 0 {
			fraction := winRate - (1-winRate)/profitFactor
			if fraction < 0 {
				fraction = 0
			}
			if fraction > 0.25 {
				fraction = 0.25
			}
			return accountBalance * fraction / entryPrice
		}
	}

	return m.cfg.DefaultPositionSize
}

// Report 输出当前风险报告。
func (m *Manager) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make(map[string]map[string]float64, len(m.positions))
	for accountID, byTicker := range m.positions {
		copied := make(map[string]float64, len(byTicker))
		for ticker, position := range byTicker {
			copied[ticker] = position
		}
		positions[accountID] = copied
	}

	dailyPnL := make(map[string]float64, len(m.dailyPnL))
	for accountID, pnl := range m.dailyPnL {
		dailyPnL[accountID] = pnl
	}

	return Report{
		RiskMetrics: m.metrics,
		Positions:   positions,
		DailyPnL:    dailyPnL,
		RiskLimits: Limits{
			MaxDailyLoss:     m.cfg.MaxDailyLoss,
			MaxPositionSize:  m.cfg.MaxPositionSize,
			MaxDrawdownLimit: m.cfg.MaxDrawdownLimit,
		},
		RiskStatus: StatusFlags{
			IsRiskMode:    m.isRiskMode,
			EmergencyStop: m.emergencyStop,
		},
		TradeCount: len(m.trades),
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
