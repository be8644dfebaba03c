package strategy

import (
	"sync"

	"go.uber.org/zap"

	"volbot/internal/exchange"
	"volbot/internal/execution"
)

// Strategy 为交易策略的统一能力集。
// Execute 只依赖行情快照与策略内部状态；
// OnOrderUpdate 在订单状态变更时由编排器回调，用于维护库存等内部状态。
type Strategy interface {
	Name() string
	Execute(snapshot exchange.Snapshot) []execution.Intent
	OnOrderUpdate(update execution.Update)
	Start()
	Stop()
	Running() bool
}

// base 提供策略的运行开关与日志，供各策略嵌入。
type base struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

func newBase(name string, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		name:   name,
		logger: logger.Named(name),
	}
}

// Name 返回策略名，同时作为订单的策略标签。
func (b *base) Name() string {
	return b.name
}

// Start 启动策略。
func (b *base) Start() {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	b.logger.Info("策略已启动")
}

// Stop 停止策略，Execute 将不再产出意图。
func (b *base) Stop() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.logger.Info("策略已停止")
}

// Running 返回运行状态。
func (b *base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
