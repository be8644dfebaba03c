package strategy

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"volbot/internal/config"
	"volbot/internal/exchange"
	"volbot/internal/execution"
)

// NameSelfHedging 为自对冲策略标签。
const NameSelfHedging = "SelfHedging"

// SelfHedging 在多个账户间同时挂出买卖对冲单，
// 以有限的方向性风险制造成交量。
type SelfHedging struct {
	base
	cfg config.SelfHedgingConfig
	rng *rand.Rand
}

// NewSelfHedging 创建自对冲策略。
func NewSelfHedging(cfg config.SelfHedgingConfig, logger *zap.Logger) *SelfHedging {
	return &SelfHedging{
		base: newBase(NameSelfHedging, logger),
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute 为每个对冲配置生成一组买卖意图。
// 买单压价、卖单抬价，数量取配置区间内的均匀随机值。
func (s *SelfHedging) Execute(snapshot exchange.Snapshot) []execution.Intent {
	if !s.Running() {
		return nil
	}

	var intents []execution.Intent

	for _, pair := range s.cfg.HedgePairs {
		data, ok := snapshot.Ticker(pair.Ticker)
		if !ok || data.Price <= 0 {
			continue
		}

		volume := s.randomVolume()

		intents = append(intents,
			execution.Intent{
				AccountID: pair.BuyAccount,
				Ticker:    pair.Ticker,
				Side:      execution.SideBuy,
				Quantity:  volume,
				Price:     data.Price * (1 - s.cfg.PriceOffset),
				Type:      execution.TypeLimit,
				Strategy:  s.Name(),
			},
			execution.Intent{
				AccountID: pair.SellAccount,
				Ticker:    pair.Ticker,
				Side:      execution.SideSell,
				Quantity:  volume,
				Price:     data.Price * (1 + s.cfg.PriceOffset),
				Type:      execution.TypeLimit,
				Strategy:  s.Name(),
			},
		)

		s.logger.Info("生成对冲订单对",
			zap.String("ticker", pair.Ticker),
			zap.Float64("volume", volume),
		)
	}

	return intents
}

// OnOrderUpdate 记录成交，对冲平衡检查暂未实现。
func (s *SelfHedging) OnOrderUpdate(update execution.Update) {
	if update.Status == execution.StatusFilled {
		s.logger.Info("对冲订单已成交", zap.String("order_id", update.OrderID))
	}
}

func (s *SelfHedging) randomVolume() float64 {
	min, max := s.cfg.VolumeRange[0], s.cfg.VolumeRange[1]
	if max <= min {
		return min
	}
	return min + s.rng.Float64()*(max-min)
}
