package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"volbot/internal/engine"
	"volbot/internal/risk"
	"volbot/internal/store"
)

const recentOrderLimit = 100

// Server 暴露只读的运维查询接口。
type Server struct {
	svc        *Service
	riskReport func() risk.Report
	orderStats func() engine.Statistics
	strategies func() []engine.StrategyStatus
	logger     *zap.Logger
}

// NewServer 创建监控 HTTP 服务。
func NewServer(svc *Service, riskReport func() risk.Report, orderStats func() engine.Statistics, strategies func() []engine.StrategyStatus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:        svc,
		riskReport: riskReport,
		orderStats: orderStats,
		strategies: strategies,
		logger:     logger.Named("monitor.http"),
	}
}

// Run 在指定端口启动服务并阻塞到 ctx 取消，退出时优雅关闭。
func (s *Server) Run(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/orders", s.handleOrders)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.Info("监控接口启动", zap.Int("port", port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.svc.CurrentMetrics())
}

// reportPayload 聚合风险报告、订单统计与策略状态。
type reportPayload struct {
	Risk       risk.Report             `json:"risk"`
	Orders     engine.Statistics       `json:"orders"`
	Strategies []engine.StrategyStatus `json:"strategies"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, reportPayload{
		Risk:       s.riskReport(),
		Orders:     s.orderStats(),
		Strategies: s.strategies(),
	})
}

// orderPayload 为订单查询接口的输出行。
type orderPayload struct {
	OrderID   string  `json:"order_id"`
	AccountID string  `json:"account_id"`
	Ticker    string  `json:"ticker"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	Strategy  string  `json:"strategy"`
	CreatedAt string  `json:"created_at"`
	FilledAt  string  `json:"filled_at,omitempty"`
	PnL       float64 `json:"pnl"`
}

// ordersPayload 同时返回订单统计与最近订单明细。
type ordersPayload struct {
	Statistics engine.Statistics `json:"statistics"`
	Recent     []orderPayload    `json:"recent"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.store.RecentOrders(recentOrderLimit)
	if err != nil {
		s.logger.Error("订单查询失败", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	recent := make([]orderPayload, 0, len(records))
	for _, record := range records {
		recent = append(recent, toOrderPayload(record))
	}
	s.writeJSON(w, ordersPayload{
		Statistics: s.orderStats(),
		Recent:     recent,
	})
}

func toOrderPayload(record store.OrderRecord) orderPayload {
	p := orderPayload{
		OrderID:   record.OrderID,
		AccountID: record.AccountID,
		Ticker:    record.Ticker,
		Side:      record.Side,
		Quantity:  record.Quantity,
		Price:     record.Price,
		Status:    record.Status,
		Strategy:  record.Strategy,
		CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
		PnL:       record.PnL,
	}
	if record.FilledAt.Valid {
		p.FilledAt = record.FilledAt.Time.Format(time.RFC3339Nano)
	}
	return p
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("响应编码失败", zap.Error(err))
	}
}
