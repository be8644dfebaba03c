package risk

import (
	"time"

	"volbot/internal/execution"
)

// Metrics 为风险指标集合。
// VaR 与夏普比率为保留字段，当前版本不参与计算。
type Metrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	VaR95           float64 `json:"var_95"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	TotalPnL        float64 `json:"total_pnl"`
	DailyPnL        float64 `json:"daily_pnl"`
}

// TradeRecord 为成交流水，仅追加。
type TradeRecord struct {
	Timestamp time.Time
	AccountID string
	Ticker    string
	Side      execution.Side
	Quantity  float64
	Price     float64
	Notional  float64
	PnL       float64
}

// Limits 暴露当前生效的风险限制。
type Limits struct {
	MaxDailyLoss     float64 `json:"max_daily_loss"`
	MaxPositionSize  float64 `json:"max_position_size"`
	MaxDrawdownLimit float64 `json:"max_drawdown_limit"`
}

// StatusFlags 描述当前风险状态。
type StatusFlags struct {
	IsRiskMode    bool `json:"is_risk_mode"`
	EmergencyStop bool `json:"emergency_stop"`
}

// Report 为对外输出的风险报告。
type Report struct {
	RiskMetrics Metrics                       `json:"risk_metrics"`
	Positions   map[string]map[string]float64 `json:"positions"`
	DailyPnL    map[string]float64            `json:"daily_pnl"`
	RiskLimits  Limits                        `json:"risk_limits"`
	RiskStatus  StatusFlags                   `json:"risk_status"`
	TradeCount  int                           `json:"trade_count"`
}

// AlertFunc 为风险事件的外部告警出口。
type AlertFunc func(eventType, severity, message, accountID, ticker string)
