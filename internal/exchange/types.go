package exchange

import "time"

// TickerData 表示单一标的的最新行情。
type TickerData struct {
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Snapshot 为一次整体刷新产生的行情快照。
// 每个刷新周期整体替换，周期内对所有消费方只读。
type Snapshot struct {
	Tickers     map[string]TickerData
	RetrievedAt time.Time
}

// Ticker 返回指定标的的行情。
func (s Snapshot) Ticker(ticker string) (TickerData, bool) {
	data, ok := s.Tickers[ticker]
	return data, ok
}

// Empty 判断快照是否为空。
func (s Snapshot) Empty() bool {
	return len(s.Tickers) == 0
}
