package strategy

import (
	"sync"

	"go.uber.org/zap"

	"volbot/internal/config"
	"volbot/internal/exchange"
	"volbot/internal/execution"
)

// NameMarketMaking 为做市策略标签。
const NameMarketMaking = "MarketMaking"

// MarketMaking 双边挂单赚取价差，
// 并根据库存偏斜报价以把净头寸拉回零附近。
type MarketMaking struct {
	base
	cfg config.MarketMakingConfig

	mu        sync.Mutex
	inventory map[string]float64
}

// NewMarketMaking 创建做市策略。
func NewMarketMaking(cfg config.MarketMakingConfig, logger *zap.Logger) *MarketMaking {
	return &MarketMaking{
		base:      newBase(NameMarketMaking, logger),
		cfg:       cfg,
		inventory: make(map[string]float64, len(cfg.Tickers)),
	}
}

// Execute 为每个做市标的生成买卖双边报价。
// 库存为正时整体下移报价促进卖出，为负时上移促进买入；
// 库存触达上限时停掉对应方向的报价。
func (m *MarketMaking) Execute(snapshot exchange.Snapshot) []execution.Intent {
	if !m.Running() {
		return nil
	}

	var intents []execution.Intent

	for _, ticker := range m.cfg.Tickers {
		data, ok := snapshot.Ticker(ticker)
		if !ok || data.Price <= 0 {
			continue
		}

		inv := m.inventoryOf(ticker)
		bidPrice, askPrice := m.quotePrices(data.Price, inv)
		bidSize, askSize := m.quoteSizes(inv)

		if bidPrice > 0 && bidSize > 0 {
			intents = append(intents, execution.Intent{
				Ticker:   ticker,
				Side:     execution.SideBuy,
				Quantity: bidSize,
				Price:    bidPrice,
				Type:     execution.TypeLimit,
				Strategy: m.Name(),
			})
		}
		if askPrice > 0 && askSize > 0 {
			intents = append(intents, execution.Intent{
				Ticker:   ticker,
				Side:     execution.SideSell,
				Quantity: askSize,
				Price:    askPrice,
				Type:     execution.TypeLimit,
				Strategy: m.Name(),
			})
		}

		m.logger.Debug("生成做市报价",
			zap.String("ticker", ticker),
			zap.Float64("bid", bidPrice),
			zap.Float64("ask", askPrice),
			zap.Float64("inventory", inv),
		)
	}

	return intents
}

// quotePrices 计算双边报价。库存调整量与净头寸同号，
// 整体从买卖两侧同向平移报价中心。
func (m *MarketMaking) quotePrices(price, inv float64) (bid, ask float64) {
	baseSpread := price * m.cfg.SpreadRatio
	invAdjust := inv * m.cfg.InventorySkew * baseSpread

	bid = price - baseSpread/2 - invAdjust
	ask = price + baseSpread/2 - invAdjust

	if inv >= m.cfg.MaxInventory {
		bid = 0
	}
	if inv <= -m.cfg.MaxInventory {
		ask = 0
	}
	return bid, ask
}

// quoteSizes 按库存占比放缩双边数量，库存越多买得越少、卖得越多。
func (m *MarketMaking) quoteSizes(inv float64) (bidSize, askSize float64) {
	if m.cfg.MaxInventory <= 0 {
		return m.cfg.OrderSize, m.cfg.OrderSize
	}

	ratio := inv / m.cfg.MaxInventory
	if ratio > 1 {
		ratio = 1
	} else if ratio < -1 {
		ratio = -1
	}

	bidSize = m.cfg.OrderSize * (1 - ratio)
	askSize = m.cfg.OrderSize * (1 + ratio)
	return bidSize, askSize
}

// OnOrderUpdate 在成交后更新净库存，买入加、卖出减。
func (m *MarketMaking) OnOrderUpdate(update execution.Update) {
	if update.Status != execution.StatusFilled || update.Strategy != m.Name() {
		return
	}

	m.mu.Lock()
	m.inventory[update.Ticker] += update.Side.SignedQty(update.FilledQuantity)
	inv := m.inventory[update.Ticker]
	m.mu.Unlock()

	m.logger.Info("做市库存更新",
		zap.String("ticker", update.Ticker),
		zap.String("side", string(update.Side)),
		zap.Float64("inventory", inv),
	)
}

func (m *MarketMaking) inventoryOf(ticker string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory[ticker]
}
