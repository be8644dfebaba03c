package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"volbot/internal/account"
	"volbot/internal/config"
	"volbot/internal/engine"
	"volbot/internal/exchange"
	"volbot/internal/execution"
	"volbot/internal/monitor"
	"volbot/internal/risk"
	"volbot/internal/store"
	"volbot/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 完成全部组件装配并阻塞运行到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Int("accounts", len(a.cfg.Accounts)),
	)

	accounts := account.NewManager(a.cfg.Accounts, a.logger)
	riskMgr := risk.NewManager(a.cfg.Risk, a.logger)

	monitorSvc, err := monitor.NewService(a.cfg.Monitoring, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	// 风险告警直接写入监控的风险事件表。
	riskMgr.SetAlertFunc(monitorSvc.RecordAlert)
	monitorSvc.SetPnLSource(func() float64 {
		return riskMgr.Report().RiskMetrics.DailyPnL
	})

	orderClients, marketClient, err := a.buildClients()
	if err != nil {
		return err
	}

	pipeline := execution.NewPipeline(riskMgr, accounts, orderClients, a.logger)
	eng := engine.New(a.cfg.Engine, marketClient, pipeline, orderClients, a.logger)

	a.registerStrategies(eng)

	// 订单更新先进监控，再驱动风控与账户的成交流水。
	eng.RegisterCallback(monitorSvc.OnOrderUpdate)
	eng.RegisterCallback(func(update execution.Update) error {
		if update.Status != execution.StatusFilled {
			return nil
		}
		riskMgr.RecordFill(update.AccountID, update.Ticker, update.Side, update.FilledQuantity, update.Price)
		accounts.ApplyFill(update.AccountID, update.Ticker, update.Side.SignedQty(update.FilledQuantity))
		return nil
	})

	server := monitor.NewServer(monitorSvc, riskMgr.Report, eng.OrderStatistics, eng.StrategyStatuses, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return monitorSvc.Run(ctx) })
	g.Go(func() error { return server.Run(ctx, a.cfg.Monitoring.ListenPort) })
	g.Go(func() error { return a.riskRefreshLoop(ctx, riskMgr) })
	g.Go(func() error { return a.statusLoop(ctx, eng, accounts, riskMgr) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// buildClients 为每个启用账户创建交易所客户端。
// 第一个启用账户的客户端兼任行情客户端。
func (a *App) buildClients() (map[string]execution.OrderClient, engine.MarketClient, error) {
	orderClients := make(map[string]execution.OrderClient)
	var marketClient engine.MarketClient

	for _, acc := range a.cfg.Accounts {
		if !acc.IsActive() {
			continue
		}
		client, err := exchange.NewClient(a.cfg.Exchange, acc, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化账户 %s 客户端失败: %w", acc.ID, err)
		}
		orderClients[acc.ID] = client
		if marketClient == nil {
			marketClient = client
		}
		a.logger.Info("初始化客户端", zap.String("account", acc.ID))
	}

	if marketClient == nil {
		return nil, nil, errors.New("没有任何启用的交易账户")
	}
	return orderClients, marketClient, nil
}

func (a *App) registerStrategies(eng *engine.Engine) {
	strategies := a.cfg.Strategies

	if strategies.SelfHedging.Enabled {
		eng.AddStrategy(strategy.NewSelfHedging(strategies.SelfHedging, a.logger))
	}
	if strategies.GridTrading.Enabled {
		eng.AddStrategy(strategy.NewGridTrading(strategies.GridTrading, a.logger))
	}
	if strategies.MarketMaking.Enabled {
		eng.AddStrategy(strategy.NewMarketMaking(strategies.MarketMaking, a.logger))
	}
	if strategies.Arbitrage.Enabled {
		eng.AddStrategy(strategy.NewArbitrage(strategies.Arbitrage, a.logger))
	}
}

// riskRefreshLoop 周期性重算风险指标。
// 紧急停止后不再有新成交，循环随即退出。
func (a *App) riskRefreshLoop(ctx context.Context, riskMgr *risk.Manager) error {
	interval := a.cfg.Monitoring.MetricsInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if riskMgr.EmergencyStopped() {
			a.logger.Warn("紧急停止生效，风险指标刷新循环退出")
			return nil
		}
		riskMgr.RefreshMetrics()
	}
}

// statusLoop 周期性输出系统状态摘要。
func (a *App) statusLoop(ctx context.Context, eng *engine.Engine, accounts *account.Manager, riskMgr *risk.Manager) error {
	interval := a.cfg.Monitoring.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		stats := eng.OrderStatistics()
		report := riskMgr.Report()
		accountStats := accounts.Statistics()

		a.logger.Info("系统状态",
			zap.Int("total_orders", stats.TotalOrders),
			zap.Int("filled_orders", stats.FilledOrders),
			zap.Float64("fill_rate", stats.FillRate),
			zap.Float64("daily_pnl", report.RiskMetrics.DailyPnL),
			zap.Float64("current_drawdown", report.RiskMetrics.CurrentDrawdown),
			zap.Bool("risk_mode", report.RiskStatus.IsRiskMode),
			zap.Bool("emergency_stop", report.RiskStatus.EmergencyStop),
			zap.Int("active_accounts", accountStats.ActiveAccounts),
		)
	}
}
