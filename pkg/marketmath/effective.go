package marketmath

import "fmt"

// TopOfBook 表示 YES/NO 的一档盘口（价格域 (0,1)，0 表示缺失）。
//
// 说明：
// - updown 市场的两本订单簿互为镜像，单边缺失时仍可通过对侧推导有效价格。
// - 本结构只承载“最小决策必要信息”，更丰富的 processed orderbook 由服务层构建。
type TopOfBook struct {
	YesBid float64
	YesAsk float64
	NoBid  float64
	NoAsk  float64
}

func (t TopOfBook) Validate() error {
	// 允许单边为 0（表示缺失），但不能全缺。
	if t.YesBid <= 0 && t.YesAsk <= 0 && t.NoBid <= 0 && t.NoAsk <= 0 {
		return fmt.Errorf("top-of-book is empty")
	}
	check := func(name string, v float64) error {
		if v == 0 {
			return nil
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("%s out of range: %f", name, v)
		}
		return nil
	}
	if err := check("yesBid", t.YesBid); err != nil {
		return err
	}
	if err := check("yesAsk", t.YesAsk); err != nil {
		return err
	}
	if err := check("noBid", t.NoBid); err != nil {
		return err
	}
	if err := check("noAsk", t.NoAsk); err != nil {
		return err
	}
	return nil
}

// EffectivePrices 有效价格（考虑订单簿镜像特性）。
//
// 核心等价关系：
//   Buy YES @ P  ≡  Sell NO @ (1-P)
//   Buy NO  @ P  ≡  Sell YES @ (1-P)
//
// 因此，买入某一侧的“有效成本”应同时考虑：
// - 直接在该 token 的 ask 买入
// - 通过对侧 bid 的镜像价格买入
type EffectivePrices struct {
	EffectiveBuyYes  float64
	EffectiveBuyNo   float64
	EffectiveSellYes float64
	EffectiveSellNo  float64
}

// GetEffectivePrices 计算有效价格。
func GetEffectivePrices(t TopOfBook) (EffectivePrices, error) {
	if err := t.Validate(); err != nil {
		return EffectivePrices{}, err
	}

	// helper: min/max but ignore <=0 values
	minPos := func(a, b float64) float64 {
		if a <= 0 {
			return b
		}
		if b <= 0 {
			return a
		}
		if a < b {
			return a
		}
		return b
	}
	maxPos := func(a, b float64) float64 {
		if a <= 0 {
			return b
		}
		if b <= 0 {
			return a
		}
		if a > b {
			return a
		}
		return b
	}

	// 镜像换算：1 - price
	mirror := func(p float64) float64 {
		if p <= 0 {
			return 0
		}
		return 1 - p
	}

	e := EffectivePrices{
		// 买 YES：min(YES.ask, 1 - NO.bid)
		EffectiveBuyYes: minPos(t.YesAsk, mirror(t.NoBid)),
		// 买 NO：min(NO.ask, 1 - YES.bid)
		EffectiveBuyNo: minPos(t.NoAsk, mirror(t.YesBid)),
		// 卖 YES：max(YES.bid, 1 - NO.ask)
		EffectiveSellYes: maxPos(t.YesBid, mirror(t.NoAsk)),
		// 卖 NO：max(NO.bid, 1 - YES.ask)
		EffectiveSellNo: maxPos(t.NoBid, mirror(t.YesAsk)),
	}
	return e, nil
}

const (
	// DefaultArbThreshold 套利检测默认阈值（profit 必须超过它才报机会）
	DefaultArbThreshold = 0.005

	// depthEpsilon 防止深度比除零
	depthEpsilon = 1e-9
)

// ArbitrageType 套利方向
type ArbitrageType string

const (
	ArbitrageNone  ArbitrageType = "none"
	ArbitrageLong  ArbitrageType = "long"
	ArbitrageShort ArbitrageType = "short"
)

type ArbitrageOpportunity struct {
	Type ArbitrageType

	// Profit: long = 1 - cost, short = revenue - 1
	Profit float64

	// 解释字段（用于可观测性/复盘）
	LongCost     float64
	ShortRevenue float64
	BuyYes       float64
	BuyNo        float64
	SellYes      float64
	SellNo       float64
	Action       string
}

// CheckArbitrage 使用有效价格判断 complete-set 的套利机会：
// - long: Buy YES + Buy NO < 1（买齐两侧后 merge 成 1）
// - short: Sell YES + Sell NO > 1（split 出一对后两侧卖出）
// threshold <= 0 时使用 DefaultArbThreshold。
func CheckArbitrage(t TopOfBook, threshold float64) (*ArbitrageOpportunity, error) {
	if threshold <= 0 {
		threshold = DefaultArbThreshold
	}
	eff, err := GetEffectivePrices(t)
	if err != nil {
		return nil, err
	}

	longCost := eff.EffectiveBuyYes + eff.EffectiveBuyNo
	shortRev := eff.EffectiveSellYes + eff.EffectiveSellNo

	if eff.EffectiveBuyYes > 0 && eff.EffectiveBuyNo > 0 {
		if profit := 1 - longCost; profit > threshold {
			return &ArbitrageOpportunity{
				Type:         ArbitrageLong,
				Profit:       profit,
				LongCost:     longCost,
				ShortRevenue: shortRev,
				BuyYes:       eff.EffectiveBuyYes,
				BuyNo:        eff.EffectiveBuyNo,
				SellYes:      eff.EffectiveSellYes,
				SellNo:       eff.EffectiveSellNo,
				Action: fmt.Sprintf("buy YES @%.4f + buy NO @%.4f, merge for %.4f profit",
					eff.EffectiveBuyYes, eff.EffectiveBuyNo, profit),
			}, nil
		}
	}

	if eff.EffectiveSellYes > 0 && eff.EffectiveSellNo > 0 {
		if profit := shortRev - 1; profit > threshold {
			return &ArbitrageOpportunity{
				Type:         ArbitrageShort,
				Profit:       profit,
				LongCost:     longCost,
				ShortRevenue: shortRev,
				BuyYes:       eff.EffectiveBuyYes,
				BuyNo:        eff.EffectiveBuyNo,
				SellYes:      eff.EffectiveSellYes,
				SellNo:       eff.EffectiveSellNo,
				Action: fmt.Sprintf("split, sell YES @%.4f + sell NO @%.4f for %.4f profit",
					eff.EffectiveSellYes, eff.EffectiveSellNo, profit),
			}, nil
		}
	}

	return nil, nil
}

// ImbalanceRatio 盘口失衡比：totalBidDepth / (totalAskDepth + ε)
func ImbalanceRatio(totalBidDepth, totalAskDepth float64) float64 {
	return totalBidDepth / (totalAskDepth + depthEpsilon)
}
