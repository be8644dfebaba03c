package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side 表示委托方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SignedQty 返回带方向的数量，买入为正、卖出为负。
func (s Side) SignedQty(qty float64) float64 {
	if s == SideSell {
		return -qty
	}
	return qty
}

// OrderType 表示委托类型。
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	// StatusPartial 为部分成交预留，当前对账循环不会产生该状态。
	StatusPartial Status = "partial"
	StatusFilled  Status = "filled"
	StatusFailed  Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusFailed
}

// rank 定义状态机的前进顺序，订单只允许向前转移。
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSubmitted:
		return 1
	case StatusPartial:
		return 2
	case StatusFilled, StatusFailed:
		return 3
	default:
		return -1
	}
}

// Intent 为策略产出的未提交委托意图，由编排器一次性消费。
type Intent struct {
	AccountID     string
	Ticker        string
	Side          Side
	Quantity      float64
	Price         float64
	Type          OrderType
	Strategy      string
	GridLevel     int
	ArbitragePair string
}

// Validate 校验意图的基本合法性。
func (i Intent) Validate() error {
	if i.Ticker == "" {
		return errors.New("execution: 意图缺少标的")
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return fmt.Errorf("execution: 非法方向 %q", i.Side)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("execution: 数量必须大于0, 得到 %f", i.Quantity)
	}
	if i.Price <= 0 {
		return fmt.Errorf("execution: 价格必须大于0, 得到 %f", i.Price)
	}
	if i.Type != TypeLimit && i.Type != TypeMarket {
		return fmt.Errorf("execution: 非法订单类型 %q", i.Type)
	}
	return nil
}

// Order 为注册在编排器中的订单，全生命周期由编排器独占持有。
// 订单只会被标记终态，不会被删除，便于统计。
type Order struct {
	ID                string
	AccountID         string
	Ticker            string
	Side              Side
	Quantity          float64
	FilledQuantity    float64
	RemainingQuantity float64
	Price             float64
	Type              OrderType
	Strategy          string
	Status            Status
	ExchangeOrderID   string
	GridLevel         int
	ArbitragePair     string
	CreatedAt         time.Time
}

// NewOrder 由意图创建处于 pending 状态的订单。
func NewOrder(intent Intent) *Order {
	return &Order{
		ID:                uuid.NewString(),
		AccountID:         intent.AccountID,
		Ticker:            intent.Ticker,
		Side:              intent.Side,
		Quantity:          intent.Quantity,
		FilledQuantity:    0,
		RemainingQuantity: intent.Quantity,
		Price:             intent.Price,
		Type:              intent.Type,
		Strategy:          intent.Strategy,
		Status:            StatusPending,
		GridLevel:         intent.GridLevel,
		ArbitragePair:     intent.ArbitragePair,
		CreatedAt:         time.Now().UTC(),
	}
}

// Transition 把订单推进到目标状态，终态不允许回退。
func (o *Order) Transition(to Status) error {
	if to.rank() < 0 {
		return fmt.Errorf("execution: 非法目标状态 %q", to)
	}
	if o.Status.Terminal() || to.rank() < o.Status.rank() {
		return fmt.Errorf("execution: 订单 %s 不允许从 %s 转移到 %s", o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}

// ApplyFill 记录成交数量并维持 remaining = quantity - filled 不变式。
func (o *Order) ApplyFill(qty float64) {
	o.FilledQuantity += qty
	if o.FilledQuantity > o.Quantity {
		o.FilledQuantity = o.Quantity
	}
	o.RemainingQuantity = o.Quantity - o.FilledQuantity
}

// Update 生成一次状态变更通知。
func (o *Order) Update() Update {
	return Update{
		OrderID:        o.ID,
		AccountID:      o.AccountID,
		Ticker:         o.Ticker,
		Side:           o.Side,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Price:          o.Price,
		Status:         o.Status,
		Strategy:       o.Strategy,
		GridLevel:      o.GridLevel,
		ArbitragePair:  o.ArbitragePair,
		Timestamp:      time.Now().UTC(),
	}
}

// Update 为订单状态变更事件，按至少一次语义投递，
// 消费方需要容忍重复投递。
type Update struct {
	OrderID        string    `json:"order_id"`
	AccountID      string    `json:"account_id"`
	Ticker         string    `json:"ticker"`
	Side           Side      `json:"side"`
	Quantity       float64   `json:"quantity"`
	FilledQuantity float64   `json:"filled_quantity"`
	Price          float64   `json:"price"`
	Status         Status    `json:"status"`
	Strategy       string    `json:"strategy"`
	GridLevel      int       `json:"grid_level,omitempty"`
	ArbitragePair  string    `json:"arbitrage_pair,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
