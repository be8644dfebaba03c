package store

import (
	"database/sql"
	"fmt"
	"time"
)

// OrderRecord 为订单的落库形态。
type OrderRecord struct {
	OrderID   string
	AccountID string
	Ticker    string
	Side      string
	Quantity  float64
	Price     float64
	Status    string
	Strategy  string
	CreatedAt time.Time
	FilledAt  sql.NullTime
	PnL       float64
}

// MetricsRecord 为一次性能指标快照，按时间戳唯一。
type MetricsRecord struct {
	Timestamp            time.Time
	TotalTrades          int
	SuccessfulTrades     int
	FailedTrades         int
	TotalVolume          float64
	AverageExecutionTime float64
	SuccessRate          float64
	PnL                  float64
}

// RiskEventRecord 为一条风险事件。
type RiskEventRecord struct {
	ID          int64
	Timestamp   time.Time
	EventType   string
	Severity    string
	Description string
	AccountID   string
	Ticker      string
}

// Migrate 建立全部数据表，可重复执行。
func (s *Store) Migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			account_id TEXT,
			ticker TEXT,
			side TEXT,
			quantity REAL,
			price REAL,
			status TEXT,
			strategy TEXT,
			created_at TEXT,
			filled_at TEXT,
			pnl REAL
		)`,
		`CREATE TABLE IF NOT EXISTS performance_metrics (
			timestamp TEXT PRIMARY KEY,
			total_trades INTEGER,
			successful_trades INTEGER,
			failed_trades INTEGER,
			total_volume REAL,
			average_execution_time REAL,
			success_rate REAL,
			pnl REAL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT,
			event_type TEXT,
			severity TEXT,
			description TEXT,
			account_id TEXT,
			ticker TEXT
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化数据表失败: %w", err)
		}
	}
	return nil
}

// SaveOrder 以主键覆盖写订单，同一订单的后续状态直接覆盖前值。
func (s *Store) SaveOrder(record OrderRecord) error {
	var filledAt interface{}
	if record.FilledAt.Valid {
		filledAt = record.FilledAt.Time.Format(time.RFC3339Nano)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO orders
		(order_id, account_id, ticker, side, quantity, price, status, strategy, created_at, filled_at, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.OrderID,
		record.AccountID,
		record.Ticker,
		record.Side,
		record.Quantity,
		record.Price,
		record.Status,
		record.Strategy,
		record.CreatedAt.Format(time.RFC3339Nano),
		filledAt,
		record.PnL,
	)
	if err != nil {
		return fmt.Errorf("保存订单 %s 失败: %w", record.OrderID, err)
	}
	return nil
}

// SaveMetrics 以时间戳覆盖写性能指标。
func (s *Store) SaveMetrics(record MetricsRecord) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO performance_metrics
		(timestamp, total_trades, successful_trades, failed_trades, total_volume, average_execution_time, success_rate, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp.Format(time.RFC3339Nano),
		record.TotalTrades,
		record.SuccessfulTrades,
		record.FailedTrades,
		record.TotalVolume,
		record.AverageExecutionTime,
		record.SuccessRate,
		record.PnL,
	)
	if err != nil {
		return fmt.Errorf("保存性能指标失败: %w", err)
	}
	return nil
}

// LogRiskEvent 追加一条风险事件。
func (s *Store) LogRiskEvent(eventType, severity, description, accountID, ticker string) error {
	_, err := s.db.Exec(`INSERT INTO risk_events
		(timestamp, event_type, severity, description, account_id, ticker)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		eventType,
		severity,
		description,
		accountID,
		ticker,
	)
	if err != nil {
		return fmt.Errorf("记录风险事件失败: %w", err)
	}
	return nil
}

// MetricsBetween 按时间范围查询历史性能指标，按时间升序。
func (s *Store) MetricsBetween(start, end time.Time) ([]MetricsRecord, error) {
	rows, err := s.db.Query(`SELECT timestamp, total_trades, successful_trades, failed_trades,
		total_volume, average_execution_time, success_rate, pnl
		FROM performance_metrics
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp`,
		start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("查询历史指标失败: %w", err)
	}
	defer rows.Close()

	var records []MetricsRecord
	for rows.Next() {
		var (
			record MetricsRecord
			ts     string
		)
		if err := rows.Scan(&ts, &record.TotalTrades, &record.SuccessfulTrades, &record.FailedTrades,
			&record.TotalVolume, &record.AverageExecutionTime, &record.SuccessRate, &record.PnL); err != nil {
			return nil, fmt.Errorf("读取历史指标失败: %w", err)
		}
		if record.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("解析指标时间戳失败: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// RecentRiskEvents 按时间倒序返回最近的风险事件。
func (s *Store) RecentRiskEvents(limit int) ([]RiskEventRecord, error) {
	rows, err := s.db.Query(`SELECT id, timestamp, event_type, severity, description, account_id, ticker
		FROM risk_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询风险事件失败: %w", err)
	}
	defer rows.Close()

	var records []RiskEventRecord
	for rows.Next() {
		var (
			record RiskEventRecord
			ts     string
		)
		if err := rows.Scan(&record.ID, &ts, &record.EventType, &record.Severity,
			&record.Description, &record.AccountID, &record.Ticker); err != nil {
			return nil, fmt.Errorf("读取风险事件失败: %w", err)
		}
		if record.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("解析事件时间戳失败: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// RecentOrders 按创建时间倒序返回最近的订单。
func (s *Store) RecentOrders(limit int) ([]OrderRecord, error) {
	rows, err := s.db.Query(`SELECT order_id, account_id, ticker, side, quantity, price, status, strategy, created_at, filled_at, pnl
		FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var (
			record    OrderRecord
			createdAt string
			filledAt  sql.NullString
		)
		if err := rows.Scan(&record.OrderID, &record.AccountID, &record.Ticker, &record.Side,
			&record.Quantity, &record.Price, &record.Status, &record.Strategy,
			&createdAt, &filledAt, &record.PnL); err != nil {
			return nil, fmt.Errorf("读取订单失败: %w", err)
		}
		if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("解析订单时间戳失败: %w", err)
		}
		if filledAt.Valid && filledAt.String != "" {
			t, err := time.Parse(time.RFC3339Nano, filledAt.String)
			if err != nil {
				return nil, fmt.Errorf("解析成交时间戳失败: %w", err)
			}
			record.FilledAt = sql.NullTime{Time: t, Valid: true}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
