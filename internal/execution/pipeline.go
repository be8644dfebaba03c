package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"volbot/internal/exchange"
)

// OrderClient 抽象交易所订单接口，方便切换真实或模拟下单。
type OrderClient interface {
	SubmitOrder(ctx context.Context, ticker, side, orderType string, quantity, price float64) (string, error)
	FetchOrderStatus(ctx context.Context, exchangeOrderID, ticker string) (string, error)
}

// riskGate 为提交前风控检查。
type riskGate interface {
	PreTradeCheck(intent Intent) (bool, string)
}

// capitalChecker 为账户资金与仓位限制检查。
type capitalChecker interface {
	CheckLimits(accountID, ticker string, deltaQty float64) bool
}

// Pipeline 为订单提交管道：风控检查 → 资金检查 → 交易所提交。
// 提交失败不重试，重试策略属于交易所客户端。
type Pipeline struct {
	risk     riskGate
	accounts capitalChecker
	clients  map[string]OrderClient
	logger   *zap.Logger
}

// NewPipeline 创建提交管道。
func NewPipeline(risk riskGate, accounts capitalChecker, clients map[string]OrderClient, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		risk:     risk,
		accounts: accounts,
		clients:  clients,
		logger:   logger,
	}
}

// Submit 执行一次完整的提交流程。
// 风控或资金拒绝时意图被丢弃，返回 (nil, nil)；
// 交易所拒绝时订单被创建并立即标记 failed，与成功路径共用同一生命周期。
func (p *Pipeline) Submit(ctx context.Context, intent Intent) (*Order, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if allowed, reason := p.risk.PreTradeCheck(intent); !allowed {
		p.logger.Warn("订单被风控拒绝",
			zap.String("strategy", intent.Strategy),
			zap.String("account", intent.AccountID),
			zap.String("ticker", intent.Ticker),
			zap.String("reason", reason),
		)
		return nil, nil
	}

	if !p.accounts.CheckLimits(intent.AccountID, intent.Ticker, intent.Side.SignedQty(intent.Quantity)) {
		p.logger.Warn("订单被账户限制拒绝",
			zap.String("strategy", intent.Strategy),
			zap.String("account", intent.AccountID),
			zap.String("ticker", intent.Ticker),
		)
		return nil, nil
	}

	order := NewOrder(intent)

	client, ok := p.clients[intent.AccountID]
	if !ok {
		return nil, fmt.Errorf("execution: 账户 %q 没有对应的交易所客户端", intent.AccountID)
	}

	exchangeOrderID, err := client.SubmitOrder(ctx, intent.Ticker, string(intent.Side), string(intent.Type), intent.Quantity, intent.Price)
	if err != nil {
		p.logger.Error("订单提交失败",
			zap.String("order_id", order.ID),
			zap.String("account", intent.AccountID),
			zap.String("ticker", intent.Ticker),
			zap.Bool("retryable", exchange.IsRetryable(err)),
			zap.Error(err),
		)
		_ = order.Transition(StatusFailed)
		return order, nil
	}

	order.ExchangeOrderID = exchangeOrderID
	_ = order.Transition(StatusSubmitted)

	p.logger.Info("订单提交成功",
		zap.String("order_id", order.ID),
		zap.String("account", order.AccountID),
		zap.String("ticker", order.Ticker),
		zap.String("side", string(order.Side)),
		zap.Float64("quantity", order.Quantity),
	)

	return order, nil
}
