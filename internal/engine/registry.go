package engine

import (
	"fmt"
	"sync"

	"volbot/internal/execution"
)

// Registry 持有引擎的全部订单。
// 订单只增不删，终态订单保留用于统计；
// 注册后的订单一律通过 Registry 方法变更，保证互斥。
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*execution.Order
}

// NewRegistry 创建空的订单注册表。
func NewRegistry() *Registry {
	return &Registry{orders: make(map[string]*execution.Order)}
}

// Add 登记一笔订单。
func (r *Registry) Add(order *execution.Order) {
	r.mu.Lock()
	r.orders[order.ID] = order
	r.mu.Unlock()
}

// Get 返回订单的值拷贝，不存在时 ok 为 false。
func (r *Registry) Get(id string) (execution.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return execution.Order{}, false
	}
	return *order, true
}

// reconcileItem 为对账循环需要的订单字段快照。
type reconcileItem struct {
	ID              string
	AccountID       string
	Ticker          string
	ExchangeOrderID string
}

// pendingReconciliation 列出所有非终态且已提交到交易所的订单。
func (r *Registry) pendingReconciliation() []reconcileItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []reconcileItem
	for _, order := range r.orders {
		if order.Status.Terminal() || order.ExchangeOrderID == "" {
			continue
		}
		items = append(items, reconcileItem{
			ID:              order.ID,
			AccountID:       order.AccountID,
			Ticker:          order.Ticker,
			ExchangeOrderID: order.ExchangeOrderID,
		})
	}
	return items
}

// MarkFilled 把订单推进到 filled 并记满剩余数量，返回对应的更新事件。
func (r *Registry) MarkFilled(id string) (execution.Update, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return execution.Update{}, fmt.Errorf("engine: 订单 %q 不存在", id)
	}
	if err := order.Transition(execution.StatusFilled); err != nil {
		return execution.Update{}, err
	}
	order.ApplyFill(order.RemainingQuantity)
	return order.Update(), nil
}

// MarkFailed 把订单推进到 failed，返回对应的更新事件。
func (r *Registry) MarkFailed(id string) (execution.Update, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return execution.Update{}, fmt.Errorf("engine: 订单 %q 不存在", id)
	}
	if err := order.Transition(execution.StatusFailed); err != nil {
		return execution.Update{}, err
	}
	return order.Update(), nil
}

// Statistics 为订单统计结果。
type Statistics struct {
	TotalOrders      int            `json:"total_orders"`
	FilledOrders     int            `json:"filled_orders"`
	FillRate         float64        `json:"fill_rate"`
	OrdersByStrategy map[string]int `json:"orders_by_strategy"`
	OrdersByStatus   map[string]int `json:"orders_by_status"`
}

// Statistics 汇总注册表内的订单分布。
func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Statistics{
		OrdersByStrategy: make(map[string]int),
		OrdersByStatus:   make(map[string]int),
	}
	for _, order := range r.orders {
		stats.TotalOrders++
		if order.Status == execution.StatusFilled {
			stats.FilledOrders++
		}
		stats.OrdersByStrategy[order.Strategy]++
		stats.OrdersByStatus[string(order.Status)]++
	}
	if stats.TotalOrders > 0 {
		stats.FillRate = float64(stats.FilledOrders) / float64(stats.TotalOrders)
	}
	return stats
}
