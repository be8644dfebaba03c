package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"volbot/internal/config"
)

// Client 为单个账户的交易所客户端。
// 订单提交链路不做自动重试，瞬时错误直接上抛由调用方按失败处理。
type Client struct {
	accountID string
	logger    *zap.Logger
	exchange  *ccxt.Hyperliquid

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 根据账户凭证构造客户端。
func NewClient(cfg config.ExchangeConfig, acc config.AccountConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if acc.ID == "" {
		return nil, fmt.Errorf("exchange: 账户ID不能为空")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if acc.APIKey != "" {
		userConfig["apiKey"] = acc.APIKey
	}
	if acc.APISecret != "" {
		userConfig["secret"] = acc.APISecret
	}

	ex := ccxt.NewHyperliquid(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		accountID: acc.ID,
		logger:    logger,
		exchange:  ex,
	}, nil
}

// AccountID 返回客户端绑定的账户。
func (c *Client) AccountID() string {
	return c.accountID
}

// ListProducts 返回交易所支持的全部交易对。
func (c *Client) ListProducts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureMarketsLoaded(); err != nil {
		return nil, err
	}

	markets, err := c.exchange.LoadMarkets()
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取交易对列表失败: %w", normalizeError(err))
	}

	products := make([]string, 0, len(markets))
	for symbol := range markets {
		products = append(products, symbol)
	}
	sort.Strings(products)

	return products, nil
}

// FetchTickers 拉取给定标的的最新行情。
func (c *Client) FetchTickers(ctx context.Context, tickers []string) (map[string]TickerData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureMarketsLoaded(); err != nil {
		return nil, err
	}

	result := make(map[string]TickerData, len(tickers))
	for _, symbol := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := c.exchange.FetchTicker(symbol)
		if err != nil {
			return nil, fmt.Errorf("exchange: 获取 %s 行情失败: %w", symbol, normalizeError(err))
		}

		data := TickerData{Timestamp: time.Now().UTC()}
		if raw.Last != nil {
			data.Price = *raw.Last
		}
		if raw.BaseVolume != nil {
			data.Volume = *raw.BaseVolume
		}
		if raw.Timestamp != nil {
			data.Timestamp = time.UnixMilli(int64(*raw.Timestamp)).UTC()
		}
		result[symbol] = data
	}

	return result, nil
}

// SubmitOrder 提交委托，返回交易所订单号。
func (c *Client) SubmitOrder(ctx context.Context, ticker, side, orderType string, quantity, price float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.ensureMarketsLoaded(); err != nil {
		return "", err
	}

	var (
		order ccxt.Order
		err   error
	)

	switch orderType {
	case "market":
		order, err = c.exchange.CreateMarketOrder(ticker, side, quantity)
	case "limit":
		order, err = c.exchange.CreateLimitOrder(ticker, side, quantity, price)
	default:
		return "", fmt.Errorf("exchange: 不支持的订单类型 %q", orderType)
	}
	if err != nil {
		return "", fmt.Errorf("exchange: 提交订单失败: %w", err)
	}

	if order.Id == nil || *order.Id == "" {
		return "", fmt.Errorf("exchange: 交易所未返回订单号")
	}

	c.logger.Debug("订单已提交",
		zap.String("account", c.accountID),
		zap.String("ticker", ticker),
		zap.String("side", side),
		zap.Float64("quantity", quantity),
		zap.String("exchange_order_id", *order.Id),
	)

	return *order.Id, nil
}

// FetchOrderStatus 查询订单在交易所侧的状态，返回 ccxt 规范化状态串。
func (c *Client) FetchOrderStatus(ctx context.Context, exchangeOrderID, ticker string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	order, err := c.exchange.FetchOrder(exchangeOrderID, ccxt.WithFetchOrderSymbol(ticker))
	if err != nil {
		return "", fmt.Errorf("exchange: 查询订单 %s 状态失败: %w", exchangeOrderID, err)
	}

	if order.Status == nil {
		return "", fmt.Errorf("exchange: 订单 %s 未返回状态", exchangeOrderID)
	}

	return *order.Status, nil
}

func (c *Client) ensureMarketsLoaded() error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return fmt.Errorf("exchange: 加载市场元数据失败: %w", normalizeError(err))
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("account", c.accountID))
	return nil
}
