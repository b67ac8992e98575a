package engine

import (
	"context"
	"time"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
)

// orderTimeout 单次下单/merge 的超时
const orderTimeout = 25 * time.Second

// ExecResult 手动执行端点的结构化返回
type ExecResult struct {
	Success bool
	Leg     string // "leg1" | "leg2" | "merge"
	RoundID string
	Price   float64
	Shares  float64
	Elapsed time.Duration
	Error   string
}

// ExecuteLeg1 手动执行 Leg1。正在执行中会被抑制；冷却期只在自动执行路径
// （handleBook）里检查，这里不检查。
func (e *Engine) ExecuteLeg1(sig Signal) *ExecResult {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()
	if !e.isExecuting.CompareAndSwap(false, true) {
		return &ExecResult{Success: false, Leg: "leg1", RoundID: sig.RoundID, Error: "执行中，已抑制并发执行"}
	}
	defer e.isExecuting.Store(false)
	return e.executeLeg1Locked(gen, sig)
}

// ExecuteLeg2 手动执行 Leg2
func (e *Engine) ExecuteLeg2(sig Signal) *ExecResult {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()
	if !e.isExecuting.CompareAndSwap(false, true) {
		return &ExecResult{Success: false, Leg: "leg2", RoundID: sig.RoundID, Error: "执行中，已抑制并发执行"}
	}
	defer e.isExecuting.Store(false)
	return e.executeLeg2Locked(gen, sig)
}

func (e *Engine) executeLeg1Locked(gen uint64, sig Signal) *ExecResult {
	start := e.nowFn()

	e.mu.Lock()
	if !e.active || e.generation != gen || e.round == nil ||
		e.round.Phase != domain.PhaseWaiting ||
		(sig.RoundID != "" && sig.RoundID != e.round.ID) {
		e.mu.Unlock()
		return &ExecResult{Success: false, Leg: "leg1", RoundID: sig.RoundID, Error: "轮状态不允许 Leg1"}
	}
	market := e.market
	shares := e.opts.Shares
	roundID := e.round.ID
	e.mu.Unlock()

	tokenID := market.TokenID(sig.DipSide)
	amount := shares * sig.TargetPrice

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()
	res, err := e.executor.MarketOrder(ctx, tokenID, OrderBuy, amount)
	elapsed := e.nowFn().Sub(start)

	if err != nil || res == nil || !res.Success {
		msg := "下单失败"
		if err != nil {
			msg = err.Error()
		} else if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		// 执行失败不改变轮阶段，统计不递增
		e.logf().Errorf("❌ Leg1 下单失败: side=%s target=%.3f err=%s", sig.DipSide, sig.TargetPrice, msg)
		e.bus.emitExecution(events.ExecutionEvent{
			Success: false, Leg: "leg1", RoundID: roundID,
			Side: sig.DipSide, Elapsed: elapsed, Error: msg,
		})
		return &ExecResult{Success: false, Leg: "leg1", RoundID: roundID, Elapsed: elapsed, Error: msg}
	}

	fillPrice := sig.TargetPrice
	if res.AvgPrice > 0 {
		fillPrice = res.AvgPrice
	}
	fillShares := shares
	if res.SharesFilled > 0 {
		// 部分成交按上报数量视为成功
		fillShares = res.SharesFilled
	}

	now := e.nowFn()
	e.mu.Lock()
	// 引擎停止或轮已切换：执行结果不再影响轮状态
	if !e.active || e.generation != gen || e.round == nil || e.round.ID != roundID ||
		e.round.Phase != domain.PhaseWaiting {
		e.mu.Unlock()
		return &ExecResult{Success: false, Leg: "leg1", RoundID: roundID, Elapsed: elapsed, Error: "执行完成但引擎已停止，结果被忽略"}
	}
	leg := &domain.Leg{
		Side: sig.DipSide, Price: fillPrice, Shares: fillShares,
		TokenID: tokenID, FilledAt: now,
	}
	e.round.Leg1 = leg
	e.round.Phase = domain.PhaseLeg1Filled
	e.round.TotalCost = fillPrice
	e.stats.Leg1Filled++
	e.stats.TotalSpent += fillPrice * fillShares
	e.lastExecutionTime = now
	e.mu.Unlock()

	e.logf().Infof("✅ Leg1 成交: side=%s price=%.3f shares=%.0f elapsed=%v",
		sig.DipSide, fillPrice, fillShares, elapsed)
	e.bus.emitExecution(events.ExecutionEvent{
		Success: true, Leg: "leg1", RoundID: roundID,
		Side: sig.DipSide, Price: fillPrice, Shares: fillShares, Elapsed: elapsed,
	})
	return &ExecResult{Success: true, Leg: "leg1", RoundID: roundID, Price: fillPrice, Shares: fillShares, Elapsed: elapsed}
}

func (e *Engine) executeLeg2Locked(gen uint64, sig Signal) *ExecResult {
	start := e.nowFn()

	e.mu.Lock()
	if !e.active || e.generation != gen || e.round == nil ||
		e.round.Phase != domain.PhaseLeg1Filled ||
		(sig.RoundID != "" && sig.RoundID != e.round.ID) {
		e.mu.Unlock()
		return &ExecResult{Success: false, Leg: "leg2", RoundID: sig.RoundID, Error: "轮状态不允许 Leg2"}
	}
	market := e.market
	shares := e.opts.Shares
	roundID := e.round.ID
	leg1 := e.round.Leg1
	autoMerge := e.opts.mergeEnabled()
	e.mu.Unlock()

	hedgeSide := leg1.Side.Opposite()
	tokenID := market.TokenID(hedgeSide)
	amount := shares * sig.TargetPrice

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()
	res, err := e.executor.MarketOrder(ctx, tokenID, OrderBuy, amount)
	elapsed := e.nowFn().Sub(start)

	if err != nil || res == nil || !res.Success {
		msg := "下单失败"
		if err != nil {
			msg = err.Error()
		} else if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		e.logf().Errorf("❌ Leg2 下单失败: side=%s target=%.3f err=%s", hedgeSide, sig.TargetPrice, msg)
		e.bus.emitExecution(events.ExecutionEvent{
			Success: false, Leg: "leg2", RoundID: roundID,
			Side: hedgeSide, Elapsed: elapsed, Error: msg,
		})
		return &ExecResult{Success: false, Leg: "leg2", RoundID: roundID, Elapsed: elapsed, Error: msg}
	}

	fillPrice := sig.TargetPrice
	if res.AvgPrice > 0 {
		fillPrice = res.AvgPrice
	}
	fillShares := shares
	if res.SharesFilled > 0 {
		fillShares = res.SharesFilled
	}

	now := e.nowFn()
	e.mu.Lock()
	if !e.active || e.generation != gen || e.round == nil || e.round.ID != roundID ||
		e.round.Phase != domain.PhaseLeg1Filled {
		e.mu.Unlock()
		return &ExecResult{Success: false, Leg: "leg2", RoundID: roundID, Elapsed: elapsed, Error: "执行完成但引擎已停止，结果被忽略"}
	}
	leg := &domain.Leg{
		Side: hedgeSide, Price: fillPrice, Shares: fillShares,
		TokenID: tokenID, FilledAt: now,
	}
	e.round.Leg2 = leg
	e.round.Phase = domain.PhaseCompleted
	totalCost := leg1.Price + fillPrice
	profit := fillShares * (1 - totalCost)
	e.round.TotalCost = totalCost
	e.round.Profit = profit
	e.stats.Leg2Filled++
	e.stats.RoundsCompleted++
	e.stats.RoundsSuccessful++
	e.stats.TotalSpent += fillPrice * fillShares
	e.stats.TotalProfit += profit
	e.lastExecutionTime = now
	conditionID := market.ConditionID
	leg1Copy := leg1
	statsSnapshot := e.stats
	e.mu.Unlock()

	e.logf().Infof("✅ Leg2 成交: side=%s price=%.3f totalCost=%.3f profit=%.2f",
		hedgeSide, fillPrice, totalCost, profit)
	e.bus.emitExecution(events.ExecutionEvent{
		Success: true, Leg: "leg2", RoundID: roundID,
		Side: hedgeSide, Price: fillPrice, Shares: fillShares, Elapsed: elapsed,
	})

	merged := false
	mergeTx := ""
	if autoMerge && e.settlement != nil {
		mctx, mcancel := context.WithTimeout(context.Background(), orderTimeout)
		mres, merr := e.settlement.Merge(mctx, conditionID, fillShares)
		mcancel()
		if merr != nil {
			e.logf().Warnf("⚠️ 自动 merge 失败: %v", merr)
			e.bus.emitError(NewError(KindExecutionFailed, true, merr))
		} else if mres != nil && mres.Success {
			merged = true
			mergeTx = mres.TxHash
			e.logf().Infof("🔀 已 merge: shares=%.0f tx=%s", fillShares, mergeTx)
		}
	}

	e.bus.emitRoundComplete(events.RoundCompleteEvent{
		RoundID:     roundID,
		Status:      events.RoundCompleted,
		Leg1:        leg1Copy,
		Leg2:        leg,
		TotalCost:   totalCost,
		Profit:      profit,
		Merged:      merged,
		MergeTxHash: mergeTx,
	})
	e.saveStats(statsSnapshot)

	return &ExecResult{Success: true, Leg: "leg2", RoundID: roundID, Price: fillPrice, Shares: fillShares, Elapsed: elapsed}
}

// MergePosition 手动把当前轮的等量两侧持仓 merge 成 quote
func (e *Engine) MergePosition() *ExecResult {
	start := e.nowFn()

	e.mu.Lock()
	if e.market == nil || e.round == nil || e.round.Leg1 == nil || e.round.Leg2 == nil {
		e.mu.Unlock()
		return &ExecResult{Success: false, Leg: "merge", Error: "没有可 merge 的完整持仓"}
	}
	conditionID := e.market.ConditionID
	roundID := e.round.ID
	shares := e.round.Leg1.Shares
	if e.round.Leg2.Shares < shares {
		shares = e.round.Leg2.Shares
	}
	e.mu.Unlock()

	if e.settlement == nil {
		return &ExecResult{Success: false, Leg: "merge", RoundID: roundID, Error: "没有结算适配器"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()
	res, err := e.settlement.Merge(ctx, conditionID, shares)
	elapsed := e.nowFn().Sub(start)
	if err != nil || res == nil || !res.Success {
		msg := "merge 失败"
		if err != nil {
			msg = err.Error()
		}
		e.bus.emitExecution(events.ExecutionEvent{Success: false, Leg: "merge", RoundID: roundID, Elapsed: elapsed, Error: msg})
		return &ExecResult{Success: false, Leg: "merge", RoundID: roundID, Elapsed: elapsed, Error: msg}
	}
	e.bus.emitExecution(events.ExecutionEvent{Success: true, Leg: "merge", RoundID: roundID, Shares: shares, Elapsed: elapsed})
	return &ExecResult{Success: true, Leg: "merge", RoundID: roundID, Shares: shares, Elapsed: elapsed}
}
