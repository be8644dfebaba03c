package account

import (
	"sync"

	"go.uber.org/zap"

	"volbot/internal/config"
)

// Account 描述单个交易账户的资金与静态风险限制。
// 账户在启动时由配置创建，运行期只停用不销毁，
// 字段仅能通过 Manager 的更新方法修改。
type Account struct {
	ID               string
	APIKey           string
	APISecret        string
	Balance          map[string]float64
	AvailableBalance map[string]float64
	Positions        map[string]float64
	RiskLimit        float64
	MaxPositionSize  float64
	Active           bool
}

// 分配策略。
const (
	AllocateEqual           = "equal"
	AllocateRiskWeighted    = "risk_weighted"
	AllocateBalanceWeighted = "balance_weighted"
)

// Statistics 汇总所有账户的资金与持仓。
type Statistics struct {
	TotalAccounts   int
	ActiveAccounts  int
	TotalBalance    map[string]float64
	TotalPositions  map[string]float64
	RiskUtilization map[string]float64
}

// Manager 管理多个交易账户和资金分配。
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	logger   *zap.Logger
}

// NewManager 根据配置初始化所有账户。
func NewManager(configs []config.AccountConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		accounts: make(map[string]*Account, len(configs)),
		logger:   logger,
	}

	for _, cfg := range configs {
		acc := &Account{
			ID:               cfg.ID,
			APIKey:           cfg.APIKey,
			APISecret:        cfg.APISecret,
			Balance:          copyMap(cfg.Balance),
			AvailableBalance: copyMap(cfg.AvailableBalance),
			Positions:        copyMap(cfg.Positions),
			RiskLimit:        cfg.RiskLimit,
			MaxPositionSize:  cfg.MaxPositionSize,
			Active:           cfg.IsActive(),
		}
		m.accounts[acc.ID] = acc
		m.logger.Info("初始化账户", zap.String("account", acc.ID))
	}

	return m
}

// Get 获取账户信息，不存在时返回 nil。
func (m *Manager) Get(id string) *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts[id]
}

// Active 返回全部启用状态的账户。
func (m *Manager) Active() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]*Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		if acc.Active {
			active = append(active, acc)
		}
	}
	return active
}

// CheckLimits 校验在 ticker 上变动 deltaQty 后是否仍满足账户限制。
// deltaQty 带方向，买入为正、卖出为负。
func (m *Manager) CheckLimits(accountID, ticker string, deltaQty float64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return false
	}

	prospective := abs(acc.Positions[ticker] + deltaQty)
	if prospective > acc.MaxPositionSize {
		m.logger.Warn("账户仓位超限",
			zap.String("account", accountID),
			zap.String("ticker", ticker),
			zap.Float64("prospective", prospective),
			zap.Float64("max_position_size", acc.MaxPositionSize),
		)
		return false
	}

	accountValue := 0.0
	for _, balance := range acc.Balance {
		accountValue += balance
	}

	// 账户价值为零时视为风险已满。
	positionValue := prospective
	riskRatio := 1.0
	if accountValue > 0 {
		riskRatio = positionValue / accountValue
	} else if positionValue == 0 {
		riskRatio = 0
	}

	if riskRatio > acc.RiskLimit {
		m.logger.Warn("账户风险超限",
			zap.String("account", accountID),
			zap.Float64("risk_ratio", riskRatio),
			zap.Float64("risk_limit", acc.RiskLimit),
		)
		return false
	}

	return true
}

// Allocate 按给定策略把 total 分配到各启用账户。
// 无启用账户时返回空映射。
func (m *Manager) Allocate(total float64, strategy string) map[string]float64 {
	active := m.Active()
	allocation := make(map[string]float64, len(active))
	if len(active) == 0 {
		return allocation
	}

	switch strategy {
	case AllocateEqual:
		perAccount := total / float64(len(active))
		for _, acc := range active {
			allocation[acc.ID] = perAccount
		}

	case AllocateRiskWeighted:
		totalCapacity := 0.0
		for _, acc := range active {
			totalCapacity += acc.RiskLimit
		}
		if totalCapacity <= 0 {
			return allocation
		}
		for _, acc := range active {
			allocation[acc.ID] = total * acc.RiskLimit / totalCapacity
		}

	case AllocateBalanceWeighted:
		totalBalance := 0.0
		for _, acc := range active {
			totalBalance += sumValues(acc.Balance)
		}
		if totalBalance <= 0 {
			return allocation
		}
		for _, acc := range active {
			allocation[acc.ID] = total * sumValues(acc.Balance) / totalBalance
		}
	}

	return allocation
}

// UpdateBalance 合并更新账户余额，按币种覆盖、新币种按需创建。
func (m *Manager) UpdateBalance(accountID string, balances map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return
	}
	for asset, balance := range balances {
		acc.Balance[asset] = balance
	}
	m.logger.Debug("更新账户余额", zap.String("account", accountID))
}

// UpdatePosition 合并更新账户持仓。
func (m *Manager) UpdatePosition(accountID string, positions map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return
	}
	for ticker, position := range positions {
		acc.Positions[ticker] = position
	}
	m.logger.Debug("更新账户持仓", zap.String("account", accountID))
}

// ApplyFill 按成交把带方向的数量累加到账户持仓。
func (m *Manager) ApplyFill(accountID, ticker string, deltaQty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return
	}
	acc.Positions[ticker] += deltaQty
}

// Statistics 汇总账户统计信息。
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		TotalAccounts:   len(m.accounts),
		TotalBalance:    make(map[string]float64),
		TotalPositions:  make(map[string]float64),
		RiskUtilization: make(map[string]float64, len(m.accounts)),
	}

	for _, acc := range m.accounts {
		if acc.Active {
			stats.ActiveAccounts++
		}

		for asset, balance := range acc.Balance {
			stats.TotalBalance[asset] += balance
		}
		for ticker, position := range acc.Positions {
			stats.TotalPositions[ticker] += position
		}

		accountValue := sumValues(acc.Balance)
		positionValue := 0.0
		for _, position := range acc.Positions {
			positionValue += abs(position)
		}

		utilization := 0.0
		if accountValue > 0 {
			utilization = positionValue / accountValue
		}
		stats.RiskUtilization[acc.ID] = utilization
	}

	return stats
}

func copyMap(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sumValues(values map[string]float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
