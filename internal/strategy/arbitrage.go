package strategy

import (
	"math"

	"go.uber.org/zap"

	"volbot/internal/config"
	"volbot/internal/exchange"
	"volbot/internal/execution"
)

// NameArbitrage 为套利策略标签。
const NameArbitrage = "Arbitrage"

// Arbitrage 监控可比价标的对之间的价差，
// 价差超过阈值时在两条腿上同时挂出反向订单。
type Arbitrage struct {
	base
	cfg config.ArbitrageConfig
}

// NewArbitrage 创建套利策略。
func NewArbitrage(cfg config.ArbitrageConfig, logger *zap.Logger) *Arbitrage {
	return &Arbitrage{
		base: newBase(NameArbitrage, logger),
		cfg:  cfg,
	}
}

// Execute 逐个检查标的对，按换算比例比价。
// A 腿偏贵则卖 A 买 B，偏便宜则买 A 卖 B；
// 挂单价格向成交方向各让千分之一，以更快让两腿同时成交。
func (a *Arbitrage) Execute(snapshot exchange.Snapshot) []execution.Intent {
	if !a.Running() {
		return nil
	}

	var intents []execution.Intent

	for _, pair := range a.cfg.Pairs {
		dataA, okA := snapshot.Ticker(pair.TickerA)
		dataB, okB := snapshot.Ticker(pair.TickerB)
		if !okA || !okB || dataA.Price <= 0 || dataB.Price <= 0 {
			continue
		}

		rate := pair.ExchangeRate
		if rate <= 0 {
			rate = 1
		}

		diff := dataA.Price - dataB.Price*rate
		profitRate := math.Abs(diff) / dataA.Price
		if profitRate < a.cfg.MinProfitThreshold {
			continue
		}

		qty := a.legQuantity(dataA.Price, dataB.Price)
		tag := pair.TickerA + "-" + pair.TickerB

		var sideA, sideB execution.Side
		if diff > 0 {
			sideA, sideB = execution.SideSell, execution.SideBuy
		} else {
			sideA, sideB = execution.SideBuy, execution.SideSell
		}

		intents = append(intents,
			execution.Intent{
				Ticker:        pair.TickerA,
				Side:          sideA,
				Quantity:      qty,
				Price:         legPrice(dataA.Price, sideA),
				Type:          execution.TypeLimit,
				Strategy:      a.Name(),
				ArbitragePair: tag,
			},
			execution.Intent{
				Ticker:        pair.TickerB,
				Side:          sideB,
				Quantity:      qty * rate,
				Price:         legPrice(dataB.Price, sideB),
				Type:          execution.TypeLimit,
				Strategy:      a.Name(),
				ArbitragePair: tag,
			},
		)

		a.logger.Info("发现套利机会",
			zap.String("pair", tag),
			zap.Float64("diff", diff),
			zap.Float64("profit_rate", profitRate),
		)
	}

	return intents
}

// OnOrderUpdate 记录腿的成交，单腿风险的追踪暂未实现。
func (a *Arbitrage) OnOrderUpdate(update execution.Update) {
	if update.Status == execution.StatusFilled && update.ArbitragePair != "" {
		a.logger.Info("套利腿已成交",
			zap.String("pair", update.ArbitragePair),
			zap.String("order_id", update.OrderID),
		)
	}
}

// legQuantity 以较贵一腿的价格折算名义上限，并受最大量约束。
func (a *Arbitrage) legQuantity(priceA, priceB float64) float64 {
	ref := math.Max(priceA, priceB)
	qty := 100 / ref
	if qty > a.cfg.MaxVolume {
		qty = a.cfg.MaxVolume
	}
	return qty
}

// legPrice 卖腿稍低于市价、买腿稍高于市价，让价千分之一。
func legPrice(price float64, side execution.Side) float64 {
	if side == execution.SideSell {
		return price * 0.999
	}
	return price * 1.001
}
