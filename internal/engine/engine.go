package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"volbot/internal/config"
	"volbot/internal/exchange"
	"volbot/internal/execution"
	"volbot/internal/strategy"
)

// defaultAccountID 为未指定账户的意图兜底账户。
const defaultAccountID = "default"

// MarketClient 抽象行情拉取接口。
type MarketClient interface {
	ListProducts(ctx context.Context) ([]string, error)
	FetchTickers(ctx context.Context, tickers []string) (map[string]exchange.TickerData, error)
}

// UpdateCallback 为订单更新的外部订阅回调。
// 回调错误会被记录但不会中断通知链。
type UpdateCallback func(update execution.Update) error

// Engine 驱动三个独立循环：行情刷新、策略调度、订单对账。
// 三个循环共享订单注册表与行情快照，任一循环的单次失败
// 只会触发退避等待，不会终止循环。
type Engine struct {
	cfg      config.EngineConfig
	market   MarketClient
	pipeline *execution.Pipeline
	clients  map[string]execution.OrderClient
	registry *Registry
	logger   *zap.Logger

	strategies []strategy.Strategy
	byName     map[string]strategy.Strategy

	snapshotMu sync.RWMutex
	snapshot   exchange.Snapshot

	callbackMu sync.Mutex
	callbacks  []UpdateCallback
}

// New 创建交易引擎。
func New(cfg config.EngineConfig, market MarketClient, pipeline *execution.Pipeline, clients map[string]execution.OrderClient, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		market:   market,
		pipeline: pipeline,
		clients:  clients,
		registry: NewRegistry(),
		logger:   logger.Named("engine"),
		byName:   make(map[string]strategy.Strategy),
	}
}

// AddStrategy 注册策略，按注册顺序调度。
func (e *Engine) AddStrategy(s strategy.Strategy) {
	e.strategies = append(e.strategies, s)
	e.byName[s.Name()] = s
	e.logger.Info("添加策略", zap.String("strategy", s.Name()))
}

// RegisterCallback 注册订单更新回调，按注册顺序调用。
func (e *Engine) RegisterCallback(cb UpdateCallback) {
	e.callbackMu.Lock()
	e.callbacks = append(e.callbacks, cb)
	e.callbackMu.Unlock()
}

// Registry 暴露订单注册表，供统计与监控读取。
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run 启动引擎的全部循环并阻塞到 ctx 取消。
// 退出前停止所有策略。
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("交易引擎启动", zap.Int("strategies", len(e.strategies)))

	for _, s := range e.strategies {
		s.Start()
	}
	defer func() {
		for _, s := range e.strategies {
			s.Stop()
		}
		e.logger.Info("交易引擎停止")
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.marketLoop(ctx) })
	g.Go(func() error { return e.strategyLoop(ctx) })
	g.Go(func() error { return e.reconcileLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// marketLoop 按固定间隔整体替换行情快照。
func (e *Engine) marketLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MarketRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := e.refreshMarketData(ctx); err != nil {
			if errors.Is(err, exchange.ErrMaintenance) {
				e.logger.Warn("交易所维护中，暂停行情刷新", zap.Error(err))
				continue
			}
			e.logger.Error("市场数据更新错误", zap.Error(err))
			if err := sleepCtx(ctx, e.cfg.ErrorBackoff); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) refreshMarketData(ctx context.Context) error {
	products, err := e.market.ListProducts(ctx)
	if err != nil {
		return err
	}

	tickers, err := e.market.FetchTickers(ctx, products)
	if err != nil {
		return err
	}

	snapshot := exchange.Snapshot{
		Tickers:     tickers,
		RetrievedAt: time.Now().UTC(),
	}

	e.snapshotMu.Lock()
	e.snapshot = snapshot
	e.snapshotMu.Unlock()
	return nil
}

// Snapshot 返回当前行情快照。
func (e *Engine) Snapshot() exchange.Snapshot {
	e.snapshotMu.RLock()
	defer e.snapshotMu.RUnlock()
	return e.snapshot
}

// strategyLoop 按固定间隔并发执行全部运行中的策略，
// 任一策略的失败不影响其它策略，产出的意图串行提交。
func (e *Engine) strategyLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.StrategyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		e.dispatchStrategies(ctx)
	}
}

func (e *Engine) dispatchStrategies(ctx context.Context) {
	snapshot := e.Snapshot()
	if snapshot.Empty() {
		return
	}

	var (
		mu      sync.Mutex
		intents []execution.Intent
	)

	g, _ := errgroup.WithContext(ctx)
	for _, s := range e.strategies {
		if !s.Running() {
			continue
		}
		s := s
		g.Go(func() error {
			produced := s.Execute(snapshot)
			mu.Lock()
			intents = append(intents, produced...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, intent := range intents {
		e.submitIntent(ctx, intent)
	}
}

func (e *Engine) submitIntent(ctx context.Context, intent execution.Intent) {
	if intent.AccountID == "" {
		intent.AccountID = defaultAccountID
	}

	order, err := e.pipeline.Submit(ctx, intent)
	if err != nil {
		e.logger.Error("订单处理错误",
			zap.String("strategy", intent.Strategy),
			zap.String("ticker", intent.Ticker),
			zap.Error(err),
		)
		return
	}
	if order == nil {
		return
	}

	e.registry.Add(order)
	e.notifyUpdate(order.Update())
}

// reconcileLoop 轮询非终态订单并推进其状态。
func (e *Engine) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := e.reconcileOrders(ctx); err != nil {
			e.logger.Error("订单管理错误", zap.Error(err))
			if err := sleepCtx(ctx, e.cfg.ErrorBackoff); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) reconcileOrders(ctx context.Context) error {
	for _, item := range e.registry.pendingReconciliation() {
		client, ok := e.clients[item.AccountID]
		if !ok {
			e.logger.Error("账户客户端不存在", zap.String("account", item.AccountID))
			continue
		}

		status, err := client.FetchOrderStatus(ctx, item.ExchangeOrderID, item.Ticker)
		if err != nil {
			e.logger.Error("更新订单状态失败",
				zap.String("order_id", item.ID),
				zap.String("ticker", item.Ticker),
				zap.Error(err),
			)
			continue
		}

		e.applyExchangeStatus(item.ID, status)
	}
	return nil
}

// applyExchangeStatus 把交易所状态映射到本地状态机：
// closed 视为全额成交，canceled/rejected/expired 视为失败，
// open 及未知状态不动作，等待下一轮。
func (e *Engine) applyExchangeStatus(orderID, status string) {
	var (
		update execution.Update
		err    error
	)

	switch status {
	case "closed":
		update, err = e.registry.MarkFilled(orderID)
	case "canceled", "rejected", "expired":
		update, err = e.registry.MarkFailed(orderID)
	default:
		return
	}
	if err != nil {
		e.logger.Error("订单状态推进失败",
			zap.String("order_id", orderID),
			zap.String("exchange_status", status),
			zap.Error(err),
		)
		return
	}

	e.notifyUpdate(update)
}

// notifyUpdate 先通知产出该订单的策略，再按注册顺序调用外部回调。
// 单个回调失败只记录日志，不会中断后续通知。
func (e *Engine) notifyUpdate(update execution.Update) {
	if s, ok := e.byName[update.Strategy]; ok {
		s.OnOrderUpdate(update)
	}

	e.callbackMu.Lock()
	callbacks := make([]UpdateCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.callbackMu.Unlock()

	for _, cb := range callbacks {
		if err := cb(update); err != nil {
			e.logger.Error("订单更新回调错误",
				zap.String("order_id", update.OrderID),
				zap.Error(err),
			)
		}
	}
}

// StrategyStatus 为单个策略的运行状态。
type StrategyStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// StrategyStatuses 按注册顺序返回全部策略状态。
func (e *Engine) StrategyStatuses() []StrategyStatus {
	statuses := make([]StrategyStatus, 0, len(e.strategies))
	for _, s := range e.strategies {
		statuses = append(statuses, StrategyStatus{Name: s.Name(), Running: s.Running()})
	}
	return statuses
}

// OrderStatistics 返回订单注册表的统计信息。
func (e *Engine) OrderStatistics() Statistics {
	return e.registry.Statistics()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
