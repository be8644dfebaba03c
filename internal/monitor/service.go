package monitor

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"volbot/internal/config"
	"volbot/internal/execution"
	"volbot/internal/store"
)

// 健康检查阈值。
const (
	minTradesForHealth = 10
	lowSuccessRate     = 0.8
	slowExecutionSecs  = 5.0
	executionTimeCap   = 100
)

// Metrics 为监控服务对外暴露的当前指标。
type Metrics struct {
	TotalTrades          int       `json:"total_trades"`
	SuccessfulTrades     int       `json:"successful_trades"`
	FailedTrades         int       `json:"failed_trades"`
	SuccessRate          float64   `json:"success_rate"`
	TotalVolume          float64   `json:"total_volume"`
	AverageExecutionTime float64   `json:"average_execution_time"`
	LastUpdate           time.Time `json:"last_update"`
}

// Service 订阅订单更新、累计性能指标并周期性落库，
// 同时做简单的健康检查，异常时写入风险事件表。
type Service struct {
	cfg    config.MonitoringConfig
	store  *store.Store
	logger *zap.Logger

	mu               sync.Mutex
	successfulTrades int
	failedTrades     int
	totalVolume      float64
	executionTimes   []float64
	lastUpdate       time.Time

	// pnlFn 提供指标快照中的盈亏值，未设置时记 0。
	pnlFn func() float64
}

// NewService 创建监控服务并初始化数据表。
func NewService(cfg config.MonitoringConfig, st *store.Store, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:        cfg,
		store:      st,
		logger:     logger.Named("monitor"),
		lastUpdate: time.Now().UTC(),
	}, nil
}

// SetPnLSource 注入盈亏来源，通常绑定风控模块的日内盈亏。
func (s *Service) SetPnLSource(fn func() float64) {
	s.pnlFn = fn
}

// OnOrderUpdate 消费订单更新：累计成交统计并把订单落库。
// 更新按至少一次投递，重复的终态更新会重复计数，
// 但落库按订单号覆盖，不会产生重复行。
func (s *Service) OnOrderUpdate(update execution.Update) error {
	s.mu.Lock()
	switch update.Status {
	case execution.StatusFilled:
		s.successfulTrades++
		s.totalVolume += update.Quantity
	case execution.StatusFailed:
		s.failedTrades++
	}
	s.lastUpdate = time.Now().UTC()
	s.mu.Unlock()

	record := store.OrderRecord{
		OrderID:   update.OrderID,
		AccountID: update.AccountID,
		Ticker:    update.Ticker,
		Side:      string(update.Side),
		Quantity:  update.Quantity,
		Price:     update.Price,
		Status:    string(update.Status),
		Strategy:  update.Strategy,
		CreatedAt: update.Timestamp,
	}
	if update.Status == execution.StatusFilled {
		record.FilledAt = sql.NullTime{Time: update.Timestamp, Valid: true}
	}
	return s.store.SaveOrder(record)
}

// RecordExecutionTime 记录一次下单耗时，单位秒。
func (s *Service) RecordExecutionTime(seconds float64) {
	s.mu.Lock()
	s.executionTimes = append(s.executionTimes, seconds)
	if len(s.executionTimes) > executionTimeCap {
		s.executionTimes = s.executionTimes[len(s.executionTimes)-executionTimeCap:]
	}
	s.mu.Unlock()
}

// RecordAlert 记录一条告警并写入风险事件表。
// 签名与风控模块的告警回调一致，可直接绑定。
func (s *Service) RecordAlert(eventType, severity, message, accountID, ticker string) {
	s.logger.Warn("警报",
		zap.String("type", eventType),
		zap.String("severity", severity),
		zap.String("message", message),
		zap.String("account", accountID),
		zap.String("ticker", ticker),
	)
	if err := s.store.LogRiskEvent(eventType, severity, message, accountID, ticker); err != nil {
		s.logger.Error("风险事件落库失败", zap.Error(err))
	}
}

// Run 启动指标落库与健康检查两个循环，阻塞到 ctx 取消。
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("监控系统启动")
	defer s.logger.Info("监控系统停止")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.metricsLoop(ctx) })
	g.Go(func() error { return s.healthLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) metricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.persistMetrics(); err != nil {
			s.logger.Error("性能监控错误", zap.Error(err))
		}
	}
}

func (s *Service) persistMetrics() error {
	metrics := s.CurrentMetrics()

	var pnl float64
	if s.pnlFn != nil {
		pnl = s.pnlFn()
	}

	record := store.MetricsRecord{
		Timestamp:            time.Now().UTC(),
		TotalTrades:          metrics.TotalTrades,
		SuccessfulTrades:     metrics.SuccessfulTrades,
		FailedTrades:         metrics.FailedTrades,
		TotalVolume:          metrics.TotalVolume,
		AverageExecutionTime: metrics.AverageExecutionTime,
		SuccessRate:          metrics.SuccessRate,
		PnL:                  pnl,
	}
	if err := s.store.SaveMetrics(record); err != nil {
		return err
	}

	s.logger.Info("性能指标更新",
		zap.Float64("success_rate", metrics.SuccessRate),
		zap.Float64("total_volume", metrics.TotalVolume),
	)
	return nil
}

func (s *Service) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		s.performHealthChecks()
	}
}

func (s *Service) performHealthChecks() {
	metrics := s.CurrentMetrics()

	if metrics.TotalTrades > minTradesForHealth && metrics.SuccessRate < lowSuccessRate {
		s.RecordAlert("low_success_rate", "warning",
			"成交成功率过低", "", "")
	}

	if metrics.AverageExecutionTime > slowExecutionSecs {
		s.RecordAlert("slow_execution", "warning",
			"平均下单耗时过长", "", "")
	}
}

// CurrentMetrics 返回当前累计指标。
func (s *Service) CurrentMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.successfulTrades + s.failedTrades
	var successRate float64
	if total > 0 {
		successRate = float64(s.successfulTrades) / float64(total)
	}

	var avgExecution float64
	if len(s.executionTimes) > 0 {
		var sum float64
		for _, t := range s.executionTimes {
			sum += t
		}
		avgExecution = sum / float64(len(s.executionTimes))
	}

	return Metrics{
		TotalTrades:          total,
		SuccessfulTrades:     s.successfulTrades,
		FailedTrades:         s.failedTrades,
		SuccessRate:          successRate,
		TotalVolume:          s.totalVolume,
		AverageExecutionTime: avgExecution,
		LastUpdate:           s.lastUpdate,
	}
}
