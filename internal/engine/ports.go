package engine

import (
	"context"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
)

// MarketHandlers 订单簿订阅回调
type MarketHandlers struct {
	OnOrderbook func(events.BookUpdate)
	OnError     func(error)
}

// OracleHandlers 预言机价格订阅回调
type OracleHandlers struct {
	OnPrice func(events.OraclePrice)
}

// Subscription 订阅句柄
type Subscription interface {
	Unsubscribe()
}

// Transport 实时传输层：在一条 WebSocket 连接上复用订单簿与预言机两路流。
// 重连由传输层自动处理，丢失的消息以下一个全量快照补齐。
type Transport interface {
	SubscribeMarkets(tokenIDs []string, h MarketHandlers) (Subscription, error)
	SubscribeOraclePrices(symbols []string, h OracleHandlers) (Subscription, error)
	// Ready 在首次握手成功后关闭
	Ready() <-chan struct{}
}

// OrderSide 下单方向
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderResult 市价单结果。部分成交按上报的 share 数量视为成功。
type OrderResult struct {
	Success           bool
	OrderID           string
	TransactionHashes []string
	AvgPrice          float64 // 实际成交均价（0 表示未上报）
	SharesFilled      float64 // 实际成交数量（0 表示未上报）
	ErrorMessage      string
}

// OrderExecutor 订单执行适配器：只有立即成交语义（IOC/FOK）。
// BUY 时 amount 为 quote 单位金额，SELL 时为 share 数量。
type OrderExecutor interface {
	MarketOrder(ctx context.Context, tokenID string, side OrderSide, amount float64) (*OrderResult, error)
}

// MergeResult merge 结果
type MergeResult struct {
	Success bool
	TxHash  string
}

// RedeemResult redeem 结果
type RedeemResult struct {
	Success      bool
	USDCReceived float64
	TxHash       string
}

// Resolution 市场裁决状态
type Resolution struct {
	IsResolved bool
	Winner     domain.Side
}

// TokenPair redeem 需要的两侧 tokenID
type TokenPair struct {
	YesTokenID string
	NoTokenID  string
}

// Settlement 链上结算适配器（交易构造委托给实现方）。
type Settlement interface {
	// Merge 把等量的两侧 token 合并成 quote。前置条件：两侧持仓均 >= shares。
	Merge(ctx context.Context, conditionID string, shares float64) (*MergeResult, error)
	// RedeemByTokenIds 在预言机裁决后赎回胜方。
	RedeemByTokenIds(ctx context.Context, conditionID string, pair TokenPair) (*RedeemResult, error)
	// GetMarketResolution 查询裁决状态（赎回 ticker 使用）。
	GetMarketResolution(ctx context.Context, conditionID string) (*Resolution, error)
}
