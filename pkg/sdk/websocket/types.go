// Package websocket 提供市场数据 WebSocket 客户端：
// 在一条连接上复用订单簿流（按 token 订阅）与加密货币价格流（按 symbol 订阅）。
package websocket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BookLevel 订单簿单档（已解析为数值）
type BookLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot 某个 token 的订单簿快照。
// bids 已按价格降序、asks 已按价格升序排好。
type BookSnapshot struct {
	AssetID   string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// CryptoPrice 加密货币价格（预言机流），symbol 形如 "BTC/USD"
type CryptoPrice struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// BookHandler 订单簿回调
type BookHandler func(BookSnapshot)

// PriceHandler 价格回调
type PriceHandler func(CryptoPrice)

// ErrorHandler 错误回调
type ErrorHandler func(error)

// rawLevel 原始档位（price/size 可能是字符串）
type rawLevel struct {
	Price json.RawMessage `json:"price"`
	Size  json.RawMessage `json:"size"`
}

// rawMessage 服务端消息（market 与 crypto_prices 两种 topic 共用外壳）
type rawMessage struct {
	EventType string          `json:"event_type"`
	Topic     string          `json:"topic"`
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Bids      []rawLevel      `json:"bids"`
	Asks      []rawLevel      `json:"asks"`
	Timestamp json.RawMessage `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type rawPricePayload struct {
	Symbol    string          `json:"symbol"`
	Value     json.RawMessage `json:"value"`
	Price     json.RawMessage `json:"price"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// parseNumber 解析可能带引号的数字
func parseNumber(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	s = strings.Trim(s, `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseTimestamp 解析时间戳（支持字符串/数字，毫秒级自动转换）。
// 缺失时返回零值，由调用方替换为墙钟时间。
func parseTimestamp(raw json.RawMessage) time.Time {
	ts, ok := parseNumber(raw)
	if !ok || ts <= 0 {
		return time.Time{}
	}
	n := int64(ts)
	if n > 1e12 {
		// 毫秒级
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// parseLevels 解析档位数组，丢弃无效档位（price/size 非正数）
func parseLevels(raw []rawLevel) []BookLevel {
	out := make([]BookLevel, 0, len(raw))
	for _, l := range raw {
		p, okP := parseNumber(l.Price)
		s, okS := parseNumber(l.Size)
		if !okP || !okS || p <= 0 || s <= 0 {
			continue
		}
		out = append(out, BookLevel{Price: p, Size: s})
	}
	return out
}

// parseBookSnapshot 解析订单簿消息并保证排序
func parseBookSnapshot(m *rawMessage) BookSnapshot {
	snap := BookSnapshot{
		AssetID:   m.AssetID,
		Bids:      parseLevels(m.Bids),
		Asks:      parseLevels(m.Asks),
		Timestamp: parseTimestamp(m.Timestamp),
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

// normalizeSymbol 把价格流 symbol 归一化为 "BTC/USD" 形式
func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	if strings.Contains(s, "/") {
		return s
	}
	// 兼容 "btcusdt" / "BTCUSD" 风格
	for _, suffix := range []string{"USDT", "USD"} {
		if strings.HasSuffix(s, suffix) {
			return strings.TrimSuffix(s, suffix) + "/USD"
		}
	}
	return s + "/USD"
}

// parseCryptoPrice 解析价格消息；解析失败返回 false
func parseCryptoPrice(m *rawMessage) (CryptoPrice, bool) {
	var p rawPricePayload
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return CryptoPrice{}, false
		}
	}
	value, ok := parseNumber(p.Value)
	if !ok {
		value, ok = parseNumber(p.Price)
	}
	if !ok || value <= 0 || p.Symbol == "" {
		return CryptoPrice{}, false
	}
	ts := parseTimestamp(p.Timestamp)
	if ts.IsZero() {
		ts = time.Now()
	}
	return CryptoPrice{Symbol: normalizeSymbol(p.Symbol), Price: value, Timestamp: ts}, true
}
