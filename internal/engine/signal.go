package engine

import (
	"time"

	"github.com/betbot/diparb/internal/domain"
)

// SignalType 信号类型
type SignalType string

const (
	SignalLeg1 SignalType = "leg1"
	SignalLeg2 SignalType = "leg2"
)

// SignalSource 信号来源
type SignalSource string

const (
	SourceDip        SignalSource = "dip"
	SourceSurge      SignalSource = "surge"
	SourceMispricing SignalSource = "mispricing"
	SourceHedge      SignalSource = "hedge"
)

// Signal 检测器产出的交易信号。
// Leg1：买入 DipSide；Leg2：买入 Leg1 的对侧完成对冲。
type Signal struct {
	Type    SignalType
	Source  SignalSource
	RoundID string

	// DipSide 要买入的一侧
	DipSide      domain.Side
	CurrentPrice float64
	// DropPercent (ref-current)/ref；surge 信号记录对侧的涨幅
	DropPercent float64
	// OpenPrice dip/surge 信号记录滑动窗口参考价，mispricing 记录开轮价
	OpenPrice   float64
	OppositeAsk float64
	// TargetPrice 下单限价 = current * (1 + maxSlippage)
	TargetPrice float64

	// Leg1 估算字段
	EstimatedTotalCost  float64
	EstimatedProfitRate float64

	// Leg2 字段
	Leg1Price          float64
	TotalCost          float64
	ExpectedProfitRate float64

	Time time.Time
}
