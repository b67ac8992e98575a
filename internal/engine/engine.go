// Package engine 实现 dip-arbitrage 引擎：
// 对单个 updown 市场维护一轮状态机，消费订单簿与预言机两路流，
// 产出 Leg1/Leg2 信号并（可选）自动执行两腿对冲。
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/history"
	"github.com/betbot/diparb/pkg/persistence"
)

var log = logrus.WithField("module", "engine")

// readyWaitTimeout 等待传输层就绪的上限；超时后乐观继续。
const readyWaitTimeout = 10 * time.Second

// Statistics 单调计数器快照
type Statistics struct {
	RoundsMonitored  int64
	RoundsCompleted  int64
	RoundsSuccessful int64
	RoundsExpired    int64
	SignalsDetected  int64
	Leg1Filled       int64
	Leg2Filled       int64
	TotalSpent       float64
	TotalProfit      float64
	RunningTime      time.Duration
}

// Engine dip-arbitrage 引擎。一个实例独占一个市场和它的当前轮。
// 单写者模型：round/history/counters 的全部修改都发生在传输层的
// 投递回调里；supervisor 只通过公开方法并发访问，由同一把锁保护。
type Engine struct {
	mu   sync.Mutex
	opts Options
	bus  *Bus

	transport  Transport
	executor   OrderExecutor
	settlement Settlement

	market      *domain.Market
	active      bool
	startedAt   time.Time
	warmupUntil time.Time

	round   *domain.Round
	ring    *history.Ring
	bestAsk map[domain.Side]float64
	bestBid map[domain.Side]float64

	oraclePrice float64
	oracleSeen  bool

	stats             Statistics
	lastExecutionTime time.Time
	isExecuting       atomic.Bool
	// generation 每次 Stop 递增；在飞的执行结果落地前校验它，
	// 引擎停止后这些结果不再影响轮状态。
	generation uint64

	marketSub Subscription
	oracleSub Subscription

	// statsStore 可选的统计快照存储（best-effort）
	statsStore persistence.Store

	nowFn func() time.Time
}

// SetStatsStore 设置统计快照存储（可选）
func (e *Engine) SetStatsStore(store persistence.Store) {
	e.mu.Lock()
	e.statsStore = store
	e.mu.Unlock()
}

// saveStats best-effort 保存统计快照，不阻塞投递回调
func (e *Engine) saveStats(s Statistics) {
	e.mu.Lock()
	store := e.statsStore
	e.mu.Unlock()
	if store == nil {
		return
	}
	go func() {
		if err := store.Save(s); err != nil {
			e.logf().Debugf("统计快照保存失败: %v", err)
		}
	}()
}

// New 创建引擎
func New(transport Transport, executor OrderExecutor, settlement Settlement, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		opts:       opts,
		bus:        NewBus(),
		transport:  transport,
		executor:   executor,
		settlement: settlement,
		ring:       history.NewRing(history.DefaultCapacity),
		bestAsk:    make(map[domain.Side]float64),
		bestBid:    make(map[domain.Side]float64),
		nowFn:      time.Now,
	}, nil
}

// Bus 返回事件总线（注册观察者用）
func (e *Engine) Bus() *Bus { return e.bus }

// Configure 原子替换配置
func (e *Engine) Configure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
	e.logf().Infof("⚙️ 配置已更新: shares=%.0f sumTarget=%.2f dipThreshold=%.2f window=%dms",
		opts.Shares, opts.SumTarget, opts.DipThreshold, opts.SlidingWindowMs)
	return nil
}

// Options 返回当前配置快照
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// Market 返回当前监控的市场（未启动返回 nil）
func (e *Engine) Market() *domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market
}

// IsActive 引擎是否在运行
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// RoundSnapshot 返回当前轮的浅拷贝（supervisor 结算时读取）
func (e *Engine) RoundSnapshot() *domain.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return nil
	}
	cp := *e.round
	return &cp
}

// BestBid 当前缓存的最优买价（结算估值用）
func (e *Engine) BestBid(side domain.Side) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bestBid[side]
}

// Start 开始监控一个市场。引擎已激活时返回错误。
// 订阅两侧 token 的订单簿与标的的预言机价格，
// 等待传输层就绪最多 10 秒，超时后乐观继续。
func (e *Engine) Start(market *domain.Market) error {
	if market == nil || !market.IsValid() {
		return Validationf("市场无效：缺少 tokenID 或结束时间")
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return Validationf("引擎已在运行 (market=%s)", e.market.Slug)
	}
	e.active = true
	e.market = market
	e.startedAt = e.nowFn()
	e.round = nil
	e.ring.Reset()
	e.bestAsk = make(map[domain.Side]float64)
	e.bestBid = make(map[domain.Side]float64)
	e.oraclePrice = 0
	e.oracleSeen = false
	if e.opts.WarmupMs > 0 {
		e.warmupUntil = e.startedAt.Add(time.Duration(e.opts.WarmupMs) * time.Millisecond)
	} else {
		e.warmupUntil = time.Time{}
	}
	gen := e.generation
	e.mu.Unlock()

	sub, err := e.transport.SubscribeMarkets(
		[]string{market.UpToken.TokenID, market.DownToken.TokenID},
		MarketHandlers{
			OnOrderbook: func(u events.BookUpdate) { e.handleBook(gen, u) },
			OnError:     func(err error) { e.bus.emitError(NewError(KindTransport, true, err)) },
		})
	if err != nil {
		e.mu.Lock()
		e.active = false
		e.market = nil
		e.mu.Unlock()
		return NewError(KindTransport, true, err)
	}

	osub, err := e.transport.SubscribeOraclePrices(
		[]string{market.Underlying.OracleSymbol()},
		OracleHandlers{OnPrice: func(p events.OraclePrice) { e.handleOracle(gen, p) }})
	if err != nil {
		sub.Unsubscribe()
		e.mu.Lock()
		e.active = false
		e.market = nil
		e.mu.Unlock()
		return NewError(KindTransport, true, err)
	}

	e.mu.Lock()
	e.marketSub = sub
	e.oracleSub = osub
	e.mu.Unlock()

	// 等待传输层就绪，超时后乐观继续（下一个全量快照会补齐状态）
	select {
	case <-e.transport.Ready():
	case <-time.After(readyWaitTimeout):
		e.logf().Warnf("⚠️ 等待传输层就绪超时 (%v)，乐观继续", readyWaitTimeout)
	}

	e.logf().Infof("✅ 引擎已启动: market=%s end=%s", market.Slug, market.EndTime.Format("15:04:05"))
	e.bus.emitStarted(market)
	return nil
}

// Stop 停止监控。幂等；不清空待赎回队列（由 supervisor 持有）。
// 在飞的执行调用会跑完，但结果不再影响轮状态。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.generation++
	marketSub, oracleSub := e.marketSub, e.oracleSub
	e.marketSub, e.oracleSub = nil, nil

	// 市场结束抢占：Leg1 已成交但 Leg2 未完成时补发 partial
	var partial *events.RoundCompleteEvent
	if e.round != nil && e.round.Phase == domain.PhaseLeg1Filled {
		partial = &events.RoundCompleteEvent{
			RoundID:   e.round.ID,
			Status:    events.RoundPartial,
			Leg1:      e.round.Leg1,
			TotalCost: e.round.Leg1.Price,
		}
	}
	e.mu.Unlock()

	if marketSub != nil {
		marketSub.Unsubscribe()
	}
	if oracleSub != nil {
		oracleSub.Unsubscribe()
	}
	if partial != nil {
		e.bus.emitRoundComplete(*partial)
	}
	e.logf().Infof("🛑 引擎已停止")
	e.bus.emitStopped()
}

// Statistics 返回计数器快照
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	if e.active {
		s.RunningTime = e.nowFn().Sub(e.startedAt)
	}
	return s
}

// handleOracle 预言机价格回调。symbol 不匹配直接忽略。
func (e *Engine) handleOracle(gen uint64, p events.OraclePrice) {
	e.mu.Lock()
	if !e.active || e.generation != gen || e.market == nil {
		e.mu.Unlock()
		return
	}
	if p.Symbol != e.market.Underlying.OracleSymbol() {
		e.mu.Unlock()
		return
	}
	e.oraclePrice = p.Price
	e.oracleSeen = true

	var priceToBeat float64
	if e.round != nil {
		priceToBeat = e.round.PriceToBeat
	}
	underlying := e.market.Underlying
	e.mu.Unlock()

	changePercent := 0.0
	if priceToBeat > 0 {
		changePercent = (p.Price - priceToBeat) / priceToBeat * 100
	}
	e.bus.emitPriceUpdate(events.PriceUpdateEvent{
		Underlying:    underlying,
		Value:         p.Price,
		PriceToBeat:   priceToBeat,
		ChangePercent: changePercent,
	})
}

// handleBook 订单簿回调：更新缓存、维护轮状态、跑检测器。
// 回调里所有错误都转成 error 事件，绝不抛回传输层。
func (e *Engine) handleBook(gen uint64, u events.BookUpdate) {
	defer func() {
		if r := recover(); r != nil {
			e.bus.emitError(NewError(KindFatal, false, errorsFromPanic(r)))
		}
	}()

	e.mu.Lock()
	if !e.active || e.generation != gen || e.market == nil {
		e.mu.Unlock()
		return
	}

	side, ok := e.market.SideOf(u.TokenID)
	if !ok {
		e.mu.Unlock()
		return
	}

	now := u.Timestamp
	if now.IsZero() {
		now = e.nowFn()
	}

	// 1. 更新本地盘口缓存（无效档位忽略）
	if ask, ok := u.BestAsk(); ok && validPrice(ask.Price) {
		e.bestAsk[side] = ask.Price
	}
	if bid, ok := u.BestBid(); ok && validPrice(bid.Price) {
		e.bestBid[side] = bid.Price
	}

	upAsk := e.bestAsk[domain.SideUp]
	downAsk := e.bestAsk[domain.SideDown]

	// 2. 两侧盘口齐全时记入历史环
	if upAsk > 0 && downAsk > 0 {
		e.ring.Append(history.Point{Time: now, UpAsk: upAsk, DownAsk: downAsk})
	}

	marketEnded := e.market.Ended(now)

	// 3. 没有活动轮（或上一轮已终结）且市场未结束时开新轮
	var newRoundEvt *events.NewRoundEvent
	if (e.round == nil || e.round.Phase.Terminal()) && !marketEnded && upAsk > 0 && downAsk > 0 {
		e.round = &domain.Round{
			ID:          uuid.NewString(),
			StartTime:   now,
			EndTime:     e.market.EndTime,
			PriceToBeat: e.oraclePrice,
			UpOpen:      upAsk,
			DownOpen:    downAsk,
			Phase:       domain.PhaseWaiting,
		}
		e.ring.Reset()
		e.ring.Append(history.Point{Time: now, UpAsk: upAsk, DownAsk: downAsk})
		e.stats.RoundsMonitored++
		newRoundEvt = &events.NewRoundEvent{
			RoundID:     e.round.ID,
			PriceToBeat: e.round.PriceToBeat,
			UpOpen:      upAsk,
			DownOpen:    downAsk,
			StartTime:   now,
			EndTime:     e.round.EndTime,
		}
	}

	// 4. Leg2 超时检查
	var expiredEvt *events.RoundCompleteEvent
	if e.round != nil && e.round.Phase == domain.PhaseLeg1Filled {
		timeout := time.Duration(e.opts.Leg2TimeoutSeconds) * time.Second
		if now.Sub(e.round.Leg1.FilledAt) > timeout {
			e.round.Phase = domain.PhaseExpired
			e.stats.RoundsCompleted++
			e.stats.RoundsExpired++
			expiredEvt = &events.RoundCompleteEvent{
				RoundID:   e.round.ID,
				Status:    events.RoundExpired,
				Leg1:      e.round.Leg1,
				TotalCost: e.round.Leg1.Price,
			}
		}
	}

	// 5. 跑当前阶段的检测器
	var sig *Signal
	inWarmup := !e.warmupUntil.IsZero() && now.Before(e.warmupUntil)
	if e.round != nil && !e.round.Phase.Terminal() && !marketEnded && !inWarmup {
		sig = e.detect(now)
		if sig != nil {
			e.stats.SignalsDetected++
			if sig.Type == SignalLeg1 {
				e.round.Leg1SignalEmitted = true
			}
		}
	}

	autoExec := false
	if sig != nil && e.opts.AutoExecute {
		cooldown := time.Duration(e.opts.ExecutionCooldownMs) * time.Millisecond
		if (e.lastExecutionTime.IsZero() || now.Sub(e.lastExecutionTime) >= cooldown) &&
			e.isExecuting.CompareAndSwap(false, true) {
			autoExec = true
		}
	}
	e.mu.Unlock()

	if newRoundEvt != nil {
		e.logf().Infof("🆕 新一轮: round=%s priceToBeat=%.2f up=%.3f down=%.3f",
			shortID(newRoundEvt.RoundID), newRoundEvt.PriceToBeat, newRoundEvt.UpOpen, newRoundEvt.DownOpen)
		e.bus.emitNewRound(*newRoundEvt)
	}
	if expiredEvt != nil {
		e.logf().Warnf("⏰ Leg2 超时, 本轮过期: round=%s", shortID(expiredEvt.RoundID))
		e.bus.emitRoundComplete(*expiredEvt)
	}
	if sig != nil {
		e.logf().Infof("📣 信号: type=%s source=%s side=%s price=%.3f drop=%.1f%%",
			sig.Type, sig.Source, sig.DipSide, sig.CurrentPrice, sig.DropPercent*100)
		e.bus.emitSignal(*sig)
		if autoExec {
			go e.runAutoExecution(gen, *sig)
		}
	}
}

// runAutoExecution 异步执行自动交易；isExecuting 抑制重入。
func (e *Engine) runAutoExecution(gen uint64, sig Signal) {
	defer e.isExecuting.Store(false)
	switch sig.Type {
	case SignalLeg1:
		e.executeLeg1Locked(gen, sig)
	case SignalLeg2:
		e.executeLeg2Locked(gen, sig)
	}
}

func (e *Engine) logf() *logrus.Entry {
	e.mu.Lock()
	sink := e.opts.LogSink
	e.mu.Unlock()
	if sink != nil {
		return sink
	}
	return log
}

func validPrice(p float64) bool { return p > 0 && p < 1 }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
