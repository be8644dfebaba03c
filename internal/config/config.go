package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "volbot"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyAccountDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// viper 的默认值只覆盖顶层键，账户为切片，逐项补默认。
func applyAccountDefaults(cfg *Config) {
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.RiskLimit == 0 {
			acc.RiskLimit = 0.02
		}
		if acc.MaxPositionSize == 0 {
			acc.MaxPositionSize = 1000
		}
		if acc.Balance == nil {
			acc.Balance = map[string]float64{}
		}
		if acc.AvailableBalance == nil {
			acc.AvailableBalance = map[string]float64{}
		}
		if acc.Positions == nil {
			acc.Positions = map[string]float64{}
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "hyperliquid")
	v.SetDefault("exchange.use_sandbox", true)

	v.SetDefault("strategies.self_hedging.enabled", false)
	v.SetDefault("strategies.self_hedging.volume_range", []float64{0.01, 0.1})
	v.SetDefault("strategies.self_hedging.price_offset", 0.0001)
	v.SetDefault("strategies.self_hedging.execution_interval", "30s")

	v.SetDefault("strategies.grid_trading.enabled", false)
	v.SetDefault("strategies.grid_trading.grid_count", 10)
	v.SetDefault("strategies.grid_trading.grid_spacing", 0.005)
	v.SetDefault("strategies.grid_trading.base_volume", 0.1)

	v.SetDefault("strategies.market_making.enabled", false)
	v.SetDefault("strategies.market_making.spread_ratio", 0.002)
	v.SetDefault("strategies.market_making.order_size", 0.1)
	v.SetDefault("strategies.market_making.max_inventory", 1.0)
	v.SetDefault("strategies.market_making.inventory_skew", 0.5)

	v.SetDefault("strategies.arbitrage.enabled", false)
	v.SetDefault("strategies.arbitrage.min_profit_threshold", 0.002)
	v.SetDefault("strategies.arbitrage.max_volume", 1.0)

	v.SetDefault("risk_management.max_daily_loss", 1000.0)
	v.SetDefault("risk_management.max_position_size", 10000.0)
	v.SetDefault("risk_management.max_drawdown_limit", 0.10)
	v.SetDefault("risk_management.max_leverage", 3.0)
	v.SetDefault("risk_management.position_size_method", "fixed")
	v.SetDefault("risk_management.risk_per_trade", 0.02)
	v.SetDefault("risk_management.fixed_position_size", 100.0)
	v.SetDefault("risk_management.default_position_size", 100.0)
	v.SetDefault("risk_management.starting_equity", 10000.0)

	v.SetDefault("engine.market_refresh_interval", "1s")
	v.SetDefault("engine.strategy_interval", "10s")
	v.SetDefault("engine.reconcile_interval", "2s")
	v.SetDefault("engine.error_backoff", "5s")

	v.SetDefault("database.path", "data/volbot.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitoring.listen_port", 8686)
	v.SetDefault("monitoring.metrics_interval", "1m")
	v.SetDefault("monitoring.health_interval", "30s")
	v.SetDefault("monitoring.status_interval", "5m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
