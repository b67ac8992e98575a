package engine

import (
	"time"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/history"
)

// detect 跑当前阶段的检测器。调用方持有 e.mu。
func (e *Engine) detect(now time.Time) *Signal {
	switch e.round.Phase {
	case domain.PhaseWaiting:
		return e.detectLeg1(now)
	case domain.PhaseLeg1Filled:
		return e.detectLeg2(now)
	}
	return nil
}

// detectLeg1 waiting 阶段的进场检测。按优先级评估，第一个命中的信号胜出：
// (a) 瞬时下跌 (b) 瞬时上涨买对侧 (c) 预言机错价。
// 只在开轮后的进场窗口内放行。
func (e *Engine) detectLeg1(now time.Time) *Signal {
	// leg1SignalEmitted 闩锁 + 阶段检查共同保证一轮至多一次 Leg1
	if e.round.Leg1SignalEmitted {
		return nil
	}
	window := time.Duration(e.opts.WindowMinutes * float64(time.Minute))
	if e.round.Elapsed(now) > window {
		return nil
	}

	cutoff := now.Add(-time.Duration(e.opts.SlidingWindowMs) * time.Millisecond)
	ref, hasRef := e.ring.RefAt(cutoff)

	// (a) 瞬时下跌：UP 优先，再看 DOWN。
	// 窗口必须足够短：情绪性抛售通常 <=3s，更宽的窗口会把趋势行情误判进来。
	if hasRef {
		for _, side := range []domain.Side{domain.SideUp, domain.SideDown} {
			if sig := e.dipSignal(now, side, ref); sig != nil {
				return sig
			}
		}
	}

	// (b) 瞬时上涨：一侧暴涨时买入对侧
	if hasRef && e.opts.surgeEnabled() {
		for _, side := range []domain.Side{domain.SideUp, domain.SideDown} {
			if sig := e.surgeSignal(now, side, ref); sig != nil {
				return sig
			}
		}
	}

	// (c) 错价：需要 price-to-beat 和当前预言机价格都已知
	if e.round.PriceToBeat > 0 && e.oracleSeen {
		if sig := e.mispricingSignal(now); sig != nil {
			return sig
		}
	}

	return nil
}

func askOf(p history.Point, side domain.Side) float64 {
	if side == domain.SideUp {
		return p.UpAsk
	}
	return p.DownAsk
}

// dipSignal 检查 side 是否在滑动窗口内下跌超过阈值
func (e *Engine) dipSignal(now time.Time, side domain.Side, ref history.Point) *Signal {
	refAsk := askOf(ref, side)
	current := e.bestAsk[side]
	if refAsk <= 0 || current <= 0 {
		return nil
	}
	drop := (refAsk - current) / refAsk
	if drop < e.opts.DipThreshold {
		return nil
	}
	oppositeAsk := e.bestAsk[side.Opposite()]
	target := current * (1 + e.opts.MaxSlippage)
	cost := target + oppositeAsk
	sig := &Signal{
		Type:                SignalLeg1,
		Source:              SourceDip,
		RoundID:             e.round.ID,
		DipSide:             side,
		CurrentPrice:        current,
		DropPercent:         drop,
		OpenPrice:           refAsk, // 滑动窗口参考价，不是开轮价
		OppositeAsk:         oppositeAsk,
		TargetPrice:         target,
		EstimatedTotalCost:  cost,
		EstimatedProfitRate: profitRate(cost),
		Time:                now,
	}
	if !e.validateLeg1(sig) {
		return nil
	}
	return sig
}

// surgeSignal side 暴涨时买入对侧
func (e *Engine) surgeSignal(now time.Time, side domain.Side, ref history.Point) *Signal {
	refAsk := askOf(ref, side)
	current := e.bestAsk[side]
	if refAsk <= 0 || current <= 0 {
		return nil
	}
	surge := (current - refAsk) / refAsk
	if surge < e.opts.SurgeThreshold {
		return nil
	}
	buySide := side.Opposite()
	buyCurrent := e.bestAsk[buySide]
	if buyCurrent <= 0 {
		return nil
	}
	target := buyCurrent * (1 + e.opts.MaxSlippage)
	cost := target + current
	sig := &Signal{
		Type:                SignalLeg1,
		Source:              SourceSurge,
		RoundID:             e.round.ID,
		DipSide:             buySide,
		CurrentPrice:        buyCurrent,
		DropPercent:         surge,
		OpenPrice:           askOf(ref, buySide), // 买入侧的滑动窗口参考价
		OppositeAsk:         current,
		TargetPrice:         target,
		EstimatedTotalCost:  cost,
		EstimatedProfitRate: profitRate(cost),
		Time:                now,
	}
	if !validPrice(sig.CurrentPrice) {
		return nil
	}
	if !e.priceGuardsOK(sig) {
		return nil
	}
	return sig
}

// mispricingSignal 用预言机价格估算名义胜率，与盘口比较。
// p_up = clamp(0.5 + 10*(cur-ptb)/ptb, 0.05, 0.95)
func (e *Engine) mispricingSignal(now time.Time) *Signal {
	ptb := e.round.PriceToBeat
	cur := e.oraclePrice
	pUp := clamp(0.5+10*(cur-ptb)/ptb, 0.05, 0.95)

	type cand struct {
		side domain.Side
		p    float64
		open float64
	}
	for _, c := range []cand{
		{domain.SideUp, pUp, e.round.UpOpen},
		{domain.SideDown, 1 - pUp, e.round.DownOpen},
	} {
		ask := e.bestAsk[c.side]
		if ask <= 0 {
			continue
		}
		edge := c.p - ask
		if edge < e.opts.DipThreshold {
			continue
		}
		oppositeAsk := e.bestAsk[c.side.Opposite()]
		target := ask * (1 + e.opts.MaxSlippage)
		cost := target + oppositeAsk
		sig := &Signal{
			Type:                SignalLeg1,
			Source:              SourceMispricing,
			RoundID:             e.round.ID,
			DipSide:             c.side,
			CurrentPrice:        ask,
			DropPercent:         edge,
			OpenPrice:           c.open, // 错价信号记录开轮价
			OppositeAsk:         oppositeAsk,
			TargetPrice:         target,
			EstimatedTotalCost:  cost,
			EstimatedProfitRate: profitRate(cost),
			Time:                now,
		}
		if !validPrice(sig.CurrentPrice) {
			continue
		}
		if !e.priceGuardsOK(sig) {
			continue
		}
		return sig
	}
	return nil
}

// detectLeg2 leg1_filled 阶段的对冲检测。
// sumTarget 只在 Leg2 评估：Leg1 的职责是低价拿到下跌侧，
// 结构性利润闸门属于对冲时刻。
func (e *Engine) detectLeg2(now time.Time) *Signal {
	leg1 := e.round.Leg1
	hedgeSide := leg1.Side.Opposite()
	ask := e.bestAsk[hedgeSide]
	if !validPrice(ask) {
		return nil
	}
	totalCost := leg1.Price + ask
	if totalCost > e.opts.SumTarget {
		return nil
	}
	if profitRate(totalCost) < e.opts.MinProfitRate {
		return nil
	}
	sig := &Signal{
		Type:               SignalLeg2,
		Source:             SourceHedge,
		RoundID:            e.round.ID,
		DipSide:            hedgeSide,
		CurrentPrice:       ask,
		TargetPrice:        ask * (1 + e.opts.MaxSlippage),
		Leg1Price:          leg1.Price,
		TotalCost:          totalCost,
		ExpectedProfitRate: profitRate(totalCost),
		Time:               now,
	}
	if !e.priceGuardsOK(sig) {
		return nil
	}
	return sig
}

// validateLeg1 纵深防御：价格必须在 (0,1)，dip 跌幅必须达到阈值
func (e *Engine) validateLeg1(sig *Signal) bool {
	if !validPrice(sig.CurrentPrice) {
		return false
	}
	if sig.Source == SourceDip && sig.DropPercent < e.opts.DipThreshold {
		return false
	}
	return e.priceGuardsOK(sig)
}

// priceGuardsOK 盘口健康检查：买入价上限 + 价差上限（默认关闭）
func (e *Engine) priceGuardsOK(sig *Signal) bool {
	if e.opts.MaxBuyPriceCents > 0 {
		if int(sig.CurrentPrice*100+0.5) > e.opts.MaxBuyPriceCents {
			return false
		}
	}
	if e.opts.MaxSpreadCents > 0 {
		bid := e.bestBid[sig.DipSide]
		if bid > 0 {
			spread := int(sig.CurrentPrice*100+0.5) - int(bid*100+0.5)
			if spread < 0 {
				spread = -spread
			}
			if spread > e.opts.MaxSpreadCents {
				return false
			}
		}
	}
	return true
}

func profitRate(cost float64) float64 {
	if cost <= 0 {
		return 0
	}
	return (1 - cost) / cost
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
