package strategy

import (
	"sync"

	"go.uber.org/zap"

	"volbot/internal/config"
	"volbot/internal/exchange"
	"volbot/internal/execution"
)

// NameGridTrading 为网格策略标签。
const NameGridTrading = "GridTrading"

// GridTrading 在中心价上下铺设等比网格，
// 网格单成交后在反方向补挂一单，形成自补充的阶梯。
type GridTrading struct {
	base
	cfg config.GridTradingConfig

	mu      sync.Mutex
	centers map[string]float64
	// reverse 为成交触发的反向补单队列，下一次 Execute 时一并产出。
	reverse []execution.Intent
}

// NewGridTrading 创建网格策略。
func NewGridTrading(cfg config.GridTradingConfig, logger *zap.Logger) *GridTrading {
	return &GridTrading{
		base:    newBase(NameGridTrading, logger),
		cfg:     cfg,
		centers: make(map[string]float64, len(cfg.Tickers)),
	}
}

// Execute 为每个配置标的生成网格订单，并补发待挂的反向单。
func (g *GridTrading) Execute(snapshot exchange.Snapshot) []execution.Intent {
	if !g.Running() {
		return nil
	}

	intents := g.drainReverse()

	for _, ticker := range g.cfg.Tickers {
		data, ok := snapshot.Ticker(ticker)
		if !ok || data.Price <= 0 {
			continue
		}

		center := g.centerPrice(ticker, data.Price)
		intents = append(intents, g.gridIntents(ticker, center, data.Price)...)
	}

	return intents
}

// gridIntents 按网格级别生成订单：低于市价挂买、高于市价挂卖，跳过中心。
func (g *GridTrading) gridIntents(ticker string, center, currentPrice float64) []execution.Intent {
	var intents []execution.Intent

	half := g.cfg.GridCount / 2
	for level := -half; level <= half; level++ {
		if level == 0 {
			continue
		}

		gridPrice := center * (1 + float64(level)*g.cfg.GridSpacing)

		var side execution.Side
		switch {
		case gridPrice < currentPrice:
			side = execution.SideBuy
		case gridPrice > currentPrice:
			side = execution.SideSell
		default:
			continue
		}

		intents = append(intents, execution.Intent{
			Ticker:    ticker,
			Side:      side,
			Quantity:  g.cfg.BaseVolume,
			Price:     gridPrice,
			Type:      execution.TypeLimit,
			Strategy:  g.Name(),
			GridLevel: level,
		})
	}

	return intents
}

// OnOrderUpdate 在网格单成交后安排一笔反向补单：
// 买单成交在更高一格挂卖，卖单成交在更低一格挂买。
func (g *GridTrading) OnOrderUpdate(update execution.Update) {
	if update.Status != execution.StatusFilled || update.GridLevel == 0 {
		return
	}

	var (
		side  execution.Side
		price float64
	)
	if update.Side == execution.SideBuy {
		side = execution.SideSell
		price = update.Price * (1 + g.cfg.GridSpacing)
	} else {
		side = execution.SideBuy
		price = update.Price * (1 - g.cfg.GridSpacing)
	}

	g.mu.Lock()
	g.reverse = append(g.reverse, execution.Intent{
		AccountID: update.AccountID,
		Ticker:    update.Ticker,
		Side:      side,
		Quantity:  update.Quantity,
		Price:     price,
		Type:      execution.TypeLimit,
		Strategy:  g.Name(),
		GridLevel: update.GridLevel,
	})
	g.mu.Unlock()

	g.logger.Info("网格订单成交，安排反向补单",
		zap.String("ticker", update.Ticker),
		zap.String("side", string(side)),
		zap.Float64("price", price),
	)
}

func (g *GridTrading) centerPrice(ticker string, currentPrice float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if center, ok := g.centers[ticker]; ok {
		return center
	}

	center := g.cfg.CenterPrice
	if center <= 0 {
		center = currentPrice
	}
	g.centers[ticker] = center
	return center
}

func (g *GridTrading) drainReverse() []execution.Intent {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.reverse) == 0 {
		return nil
	}
	drained := g.reverse
	g.reverse = nil
	return drained
}
