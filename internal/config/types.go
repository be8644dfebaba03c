package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Accounts   []AccountConfig  `mapstructure:"accounts"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Risk       RiskConfig       `mapstructure:"risk_management"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息，凭证在各账户下单独配置。
type ExchangeConfig struct {
	Name       string `mapstructure:"name"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// AccountConfig 描述单个交易账户及其静态风险限制。
type AccountConfig struct {
	ID               string             `mapstructure:"account_id"`
	APIKey           string             `mapstructure:"api_key"`
	APISecret        string             `mapstructure:"api_secret"`
	Balance          map[string]float64 `mapstructure:"balance"`
	AvailableBalance map[string]float64 `mapstructure:"available_balance"`
	Positions        map[string]float64 `mapstructure:"positions"`
	RiskLimit        float64            `mapstructure:"risk_limit"`
	MaxPositionSize  float64            `mapstructure:"max_position_size"`
	Active           *bool              `mapstructure:"active"`
}

// IsActive 账户默认处于启用状态。
func (a AccountConfig) IsActive() bool {
	return a.Active == nil || *a.Active
}

// StrategiesConfig 汇总各策略开关及参数。
type StrategiesConfig struct {
	SelfHedging  SelfHedgingConfig  `mapstructure:"self_hedging"`
	GridTrading  GridTradingConfig  `mapstructure:"grid_trading"`
	MarketMaking MarketMakingConfig `mapstructure:"market_making"`
	Arbitrage    ArbitrageConfig    `mapstructure:"arbitrage"`
}

// HedgePair 定义一组对冲账户与标的。
type HedgePair struct {
	Ticker      string `mapstructure:"ticker"`
	BuyAccount  string `mapstructure:"buy_account"`
	SellAccount string `mapstructure:"sell_account"`
}

// SelfHedgingConfig 控制自对冲策略。
type SelfHedgingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	HedgePairs        []HedgePair   `mapstructure:"hedge_pairs"`
	VolumeRange       []float64     `mapstructure:"volume_range"`
	PriceOffset       float64       `mapstructure:"price_offset"`
	ExecutionInterval time.Duration `mapstructure:"execution_interval"`
}

// GridTradingConfig 控制网格策略。
type GridTradingConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Tickers     []string `mapstructure:"tickers"`
	GridCount   int      `mapstructure:"grid_count"`
	GridSpacing float64  `mapstructure:"grid_spacing"`
	BaseVolume  float64  `mapstructure:"base_volume"`
	CenterPrice float64  `mapstructure:"center_price"`
}

// MarketMakingConfig 控制做市策略。
type MarketMakingConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Tickers       []string `mapstructure:"tickers"`
	SpreadRatio   float64  `mapstructure:"spread_ratio"`
	OrderSize     float64  `mapstructure:"order_size"`
	MaxInventory  float64  `mapstructure:"max_inventory"`
	InventorySkew float64  `mapstructure:"inventory_skew"`
}

// ArbitragePair 定义一组可比价的标的及换算比例。
type ArbitragePair struct {
	TickerA      string  `mapstructure:"ticker_a"`
	TickerB      string  `mapstructure:"ticker_b"`
	ExchangeRate float64 `mapstructure:"exchange_rate"`
}

// ArbitrageConfig 控制套利策略。
type ArbitrageConfig struct {
	Enabled            bool            `mapstructure:"enabled"`
	Pairs              []ArbitragePair `mapstructure:"arbitrage_pairs"`
	MinProfitThreshold float64         `mapstructure:"min_profit_threshold"`
	MaxVolume          float64         `mapstructure:"max_volume"`
}

// RiskConfig 管理全局风控参数。
type RiskConfig struct {
	MaxDailyLoss        float64 `mapstructure:"max_daily_loss"`
	MaxPositionSize     float64 `mapstructure:"max_position_size"`
	MaxDrawdownLimit    float64 `mapstructure:"max_drawdown_limit"`
	MaxLeverage         float64 `mapstructure:"max_leverage"`
	PositionSizeMethod  string  `mapstructure:"position_size_method"`
	RiskPerTrade        float64 `mapstructure:"risk_per_trade"`
	FixedPositionSize   float64 `mapstructure:"fixed_position_size"`
	DefaultPositionSize float64 `mapstructure:"default_position_size"`
	StartingEquity      float64 `mapstructure:"starting_equity"`
}

// EngineConfig 控制引擎各循环的节奏。
type EngineConfig struct {
	MarketRefreshInterval time.Duration `mapstructure:"market_refresh_interval"`
	StrategyInterval      time.Duration `mapstructure:"strategy_interval"`
	ReconcileInterval     time.Duration `mapstructure:"reconcile_interval"`
	ErrorBackoff          time.Duration `mapstructure:"error_backoff"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitoringConfig 控制监控服务。
type MonitoringConfig struct {
	ListenPort      int           `mapstructure:"listen_port"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	StatusInterval  time.Duration `mapstructure:"status_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if len(c.Accounts) == 0 {
		err = multierr.Append(err, errors.New("accounts 至少配置一个账户"))
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.ID == "" {
			err = multierr.Append(err, fmt.Errorf("accounts[%d].account_id 不能为空", i))
			continue
		}
		if _, dup := seen[acc.ID]; dup {
			err = multierr.Append(err, fmt.Errorf("账户 %q 重复定义", acc.ID))
		}
		seen[acc.ID] = struct{}{}
		if acc.RiskLimit < 0 || acc.RiskLimit > 1 {
			err = multierr.Append(err, fmt.Errorf("账户 %q 的 risk_limit 必须位于[0,1]", acc.ID))
		}
		if acc.MaxPositionSize < 0 {
			err = multierr.Append(err, fmt.Errorf("账户 %q 的 max_position_size 不能为负", acc.ID))
		}
	}
	if c.Strategies.SelfHedging.Enabled {
		if len(c.Strategies.SelfHedging.HedgePairs) == 0 {
			err = multierr.Append(err, errors.New("self_hedging.hedge_pairs 不能为空"))
		}
		if len(c.Strategies.SelfHedging.VolumeRange) != 2 ||
			c.Strategies.SelfHedging.VolumeRange[0] <= 0 ||
			c.Strategies.SelfHedging.VolumeRange[1] < c.Strategies.SelfHedging.VolumeRange[0] {
			err = multierr.Append(err, errors.New("self_hedging.volume_range 需为 [min, max] 且 0 < min <= max"))
		}
	}
	if c.Strategies.GridTrading.Enabled {
		if len(c.Strategies.GridTrading.Tickers) == 0 {
			err = multierr.Append(err, errors.New("grid_trading.tickers 不能为空"))
		}
		if c.Strategies.GridTrading.GridCount <= 0 {
			err = multierr.Append(err, errors.New("grid_trading.grid_count 必须大于0"))
		}
		if c.Strategies.GridTrading.GridSpacing <= 0 {
			err = multierr.Append(err, errors.New("grid_trading.grid_spacing 必须大于0"))
		}
	}
	if c.Strategies.MarketMaking.Enabled {
		if len(c.Strategies.MarketMaking.Tickers) == 0 {
			err = multierr.Append(err, errors.New("market_making.tickers 不能为空"))
		}
		if c.Strategies.MarketMaking.MaxInventory <= 0 {
			err = multierr.Append(err, errors.New("market_making.max_inventory 必须大于0"))
		}
	}
	if c.Strategies.Arbitrage.Enabled {
		if len(c.Strategies.Arbitrage.Pairs) == 0 {
			err = multierr.Append(err, errors.New("arbitrage.arbitrage_pairs 不能为空"))
		}
		if c.Strategies.Arbitrage.MinProfitThreshold <= 0 {
			err = multierr.Append(err, errors.New("arbitrage.min_profit_threshold 必须大于0"))
		}
	}
	if c.Risk.MaxDailyLoss <= 0 {
		err = multierr.Append(err, errors.New("risk_management.max_daily_loss 必须大于0"))
	}
	if c.Risk.MaxPositionSize <= 0 {
		err = multierr.Append(err, errors.New("risk_management.max_position_size 必须大于0"))
	}
	if c.Risk.MaxDrawdownLimit <= 0 || c.Risk.MaxDrawdownLimit > 1 {
		err = multierr.Append(err, errors.New("risk_management.max_drawdown_limit 必须位于(0,1]"))
	}
	if c.Risk.MaxLeverage <= 0 {
		err = multierr.Append(err, errors.New("risk_management.max_leverage 必须大于0"))
	}
	switch c.Risk.PositionSizeMethod {
	case "fixed", "risk_based", "kelly":
	default:
		err = multierr.Append(err, fmt.Errorf("risk_management.position_size_method 不支持 %q", c.Risk.PositionSizeMethod))
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		err = multierr.Append(err, errors.New("risk_management.risk_per_trade 必须位于(0,1]"))
	}
	if c.Risk.StartingEquity <= 0 {
		err = multierr.Append(err, errors.New("risk_management.starting_equity 必须大于0"))
	}
	if c.Engine.MarketRefreshInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.market_refresh_interval 必须大于0"))
	}
	if c.Engine.StrategyInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.strategy_interval 必须大于0"))
	}
	if c.Engine.ReconcileInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.reconcile_interval 必须大于0"))
	}
	if c.Engine.ErrorBackoff <= 0 {
		err = multierr.Append(err, errors.New("engine.error_backoff 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitoring.ListenPort <= 0 || c.Monitoring.ListenPort > 65535 {
		err = multierr.Append(err, errors.New("monitoring.listen_port 必须位于(0,65535]"))
	}
	if c.Monitoring.MetricsInterval <= 0 || c.Monitoring.HealthInterval <= 0 || c.Monitoring.StatusInterval <= 0 {
		err = multierr.Append(err, errors.New("monitoring 各 interval 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
