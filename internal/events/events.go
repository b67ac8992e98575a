// Package events 定义引擎的入站/出站事件。
// 回调之间只传递纯数据，不携带引擎实例，避免订阅句柄与引擎互相持有。
package events

import (
	"time"

	"github.com/betbot/diparb/internal/domain"
)

// PriceLevel 订单簿单档
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookUpdate 某个 token 的订单簿快照（入站）。
// bids 降序、asks 升序，价格已在边界解析为数值。
type BookUpdate struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid 最优买价（缺失返回 0）
func (b *BookUpdate) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk 最优卖价（缺失返回 0）
func (b *BookUpdate) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// OraclePrice 预言机价格（入站），symbol 形如 "BTC/USD"
type OraclePrice struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// NewRoundEvent 新一轮开始
type NewRoundEvent struct {
	RoundID     string
	PriceToBeat float64
	UpOpen      float64
	DownOpen    float64
	StartTime   time.Time
	EndTime     time.Time
}

// RoundStatus roundComplete 事件的状态
type RoundStatus string

const (
	RoundCompleted RoundStatus = "completed"
	RoundExpired   RoundStatus = "expired"
	RoundPartial   RoundStatus = "partial"
)

// RoundCompleteEvent 一轮结束
type RoundCompleteEvent struct {
	RoundID     string
	Status      RoundStatus
	Leg1        *domain.Leg
	Leg2        *domain.Leg
	TotalCost   float64
	Profit      float64
	Merged      bool
	MergeTxHash string
}

// ExecutionEvent 一次执行的结果
type ExecutionEvent struct {
	Success bool
	Leg     string // "leg1" | "leg2" | "merge"
	RoundID string
	Side    domain.Side
	Price   float64
	Shares  float64
	Elapsed time.Duration
	Error   string
}

// PriceUpdateEvent 预言机价格更新（出站，供运维观察）
type PriceUpdateEvent struct {
	Underlying    domain.Underlying
	Value         float64
	PriceToBeat   float64
	ChangePercent float64
}

// RotateReason 轮换原因
type RotateReason string

const (
	RotateMarketEnded RotateReason = "marketEnded"
	RotateManual      RotateReason = "manual"
	RotateError       RotateReason = "error"
)

// RotateEvent 市场轮换
type RotateEvent struct {
	PreviousMarket *domain.Market
	NewMarket      *domain.Market
	Reason         RotateReason
	Timestamp      time.Time
}

// SettleStrategy 结算策略
type SettleStrategy string

const (
	SettleRedeem SettleStrategy = "redeem"
	SettleSell   SettleStrategy = "sell"
)

// SettledEvent 持仓结算结果
type SettledEvent struct {
	Success        bool
	Strategy       SettleStrategy
	AmountReceived float64
	TxHash         string
	Error          string
}
