package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
accounts:
  - account_id: acct-1
    api_key: key-1
    api_secret: secret-1
    balance:
      USDC: 10000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Exchange.Name != "hyperliquid" || !cfg.Exchange.UseSandbox {
		t.Errorf("exchange defaults mismatch: %+v", cfg.Exchange)
	}
	if cfg.Engine.MarketRefreshInterval != time.Second {
		t.Errorf("market refresh default: got %v", cfg.Engine.MarketRefreshInterval)
	}
	if cfg.Engine.StrategyInterval != 10*time.Second {
		t.Errorf("strategy interval default: got %v", cfg.Engine.StrategyInterval)
	}
	if cfg.Engine.ReconcileInterval != 2*time.Second {
		t.Errorf("reconcile interval default: got %v", cfg.Engine.ReconcileInterval)
	}
	if cfg.Risk.MaxDailyLoss != 1000 || cfg.Risk.PositionSizeMethod != "fixed" {
		t.Errorf("risk defaults mismatch: %+v", cfg.Risk)
	}
	if cfg.Monitoring.MetricsInterval != time.Minute {
		t.Errorf("metrics interval default: got %v", cfg.Monitoring.MetricsInterval)
	}

	acc := cfg.Accounts[0]
	if acc.RiskLimit != 0.02 || acc.MaxPositionSize != 1000 {
		t.Errorf("account defaults mismatch: %+v", acc)
	}
	if acc.Positions == nil || acc.AvailableBalance == nil {
		t.Errorf("account maps must be initialized")
	}
	if !acc.IsActive() {
		t.Errorf("account must default to active")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_EnabledStrategyRequiresParams(t *testing.T) {
	yaml := minimalYAML + `
strategies:
  grid_trading:
    enabled: true
    grid_count: 0
`
	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if !strings.Contains(err.Error(), "grid_trading") {
		t.Fatalf("error should mention grid_trading, got %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("empty config must fail validation")
	}
	msg := err.Error()
	for _, want := range []string{"app.environment", "exchange.name", "accounts"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q mentioned in %q", want, msg)
		}
	}
}

func TestValidate_DuplicateAccounts(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts = append(cfg.Accounts, cfg.Accounts[0])

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "重复定义") {
		t.Fatalf("expected duplicate account error, got %v", err)
	}
}

func TestValidate_RiskLimitRange(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts[0].RiskLimit = 1.5

	if err := cfg.Validate(); err == nil {
		t.Fatalf("risk limit above 1 must fail")
	}
}

func TestValidate_PositionSizeMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.PositionSizeMethod = "martingale"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown position size method must fail")
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Environment: "test"},
		Exchange: ExchangeConfig{Name: "hyperliquid", UseSandbox: true},
		Accounts: []AccountConfig{{
			ID:              "acct-1",
			RiskLimit:       0.02,
			MaxPositionSize: 1000,
		}},
		Risk: RiskConfig{
			MaxDailyLoss:        1000,
			MaxPositionSize:     10000,
			MaxDrawdownLimit:    0.1,
			MaxLeverage:         3,
			PositionSizeMethod:  "fixed",
			RiskPerTrade:        0.02,
			FixedPositionSize:   100,
			DefaultPositionSize: 100,
			StartingEquity:      10000,
		},
		Engine: EngineConfig{
			MarketRefreshInterval: time.Second,
			StrategyInterval:      10 * time.Second,
			ReconcileInterval:     2 * time.Second,
			ErrorBackoff:          5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:         "data/volbot.db",
			MaxOpenConns: 4,
			MaxIdleConns: 4,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "console",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
		Monitoring: MonitoringConfig{
			ListenPort:      8686,
			MetricsInterval: time.Minute,
			HealthInterval:  30 * time.Second,
			StatusInterval:  5 * time.Minute,
		},
	}
}
