package rotation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/diparb/internal/discovery"
	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
)

type fakeSub struct{}

func (fakeSub) Unsubscribe() {}

// fakeTransport 捕获回调供测试投递
type fakeTransport struct {
	mu    sync.Mutex
	ready chan struct{}
	mh    engine.MarketHandlers
}

func newFakeTransport() *fakeTransport {
	ready := make(chan struct{})
	close(ready)
	return &fakeTransport{ready: ready}
}

func (t *fakeTransport) Ready() <-chan struct{} { return t.ready }

func (t *fakeTransport) SubscribeMarkets(_ []string, h engine.MarketHandlers) (engine.Subscription, error) {
	t.mu.Lock()
	t.mh = h
	t.mu.Unlock()
	return fakeSub{}, nil
}

func (t *fakeTransport) SubscribeOraclePrices(_ []string, _ engine.OracleHandlers) (engine.Subscription, error) {
	return fakeSub{}, nil
}

func (t *fakeTransport) feedBook(tokenID string, ask float64, ts time.Time) {
	t.mu.Lock()
	h := t.mh
	t.mu.Unlock()
	if h.OnOrderbook != nil {
		h.OnOrderbook(events.BookUpdate{
			TokenID:   tokenID,
			Bids:      []events.PriceLevel{{Price: ask - 0.01, Size: 100}},
			Asks:      []events.PriceLevel{{Price: ask, Size: 100}},
			Timestamp: ts,
		})
	}
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string // side
}

func (e *fakeExecutor) MarketOrder(_ context.Context, tokenID string, side engine.OrderSide, amount float64) (*engine.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, string(side))
	return &engine.OrderResult{Success: true, AvgPrice: 0.45, SharesFilled: 20}, nil
}

type fakeSettlement struct {
	mu          sync.Mutex
	resolved    bool
	redeemCalls int
}

func (s *fakeSettlement) Merge(_ context.Context, _ string, _ float64) (*engine.MergeResult, error) {
	return &engine.MergeResult{Success: true}, nil
}

func (s *fakeSettlement) RedeemByTokenIds(_ context.Context, _ string, _ engine.TokenPair) (*engine.RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeemCalls++
	return &engine.RedeemResult{Success: true, USDCReceived: 20, TxHash: "0xabc"}, nil
}

func (s *fakeSettlement) GetMarketResolution(_ context.Context, _ string) (*engine.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &engine.Resolution{IsResolved: s.resolved, Winner: domain.SideUp}, nil
}

type fakeScanner struct {
	markets []*domain.Market
}

func (s *fakeScanner) ScanCryptoShortTermMarkets(_ context.Context, _ discovery.Query) ([]*domain.Market, error) {
	return s.markets, nil
}

func mkMarket(slug, upTok, downTok string, end time.Time) *domain.Market {
	return &domain.Market{
		ConditionID: "0x" + slug,
		Slug:        slug,
		Underlying:  domain.UnderlyingBTC,
		Duration:    15 * time.Minute,
		EndTime:     end,
		UpToken:     domain.OutcomeToken{TokenID: upTok, Side: domain.SideUp},
		DownToken:   domain.OutcomeToken{TokenID: downTok, Side: domain.SideDown},
	}
}

// setup 组装：引擎处于 leg1_filled、市场已结束
func setup(t *testing.T, strategy events.SettleStrategy) (*Supervisor, *engine.Engine, *fakeTransport, *fakeExecutor, *fakeSettlement, *domain.Market, *domain.Market) {
	t.Helper()
	now := time.Now()

	tr := newFakeTransport()
	ex := &fakeExecutor{}
	st := &fakeSettlement{}
	opts := engine.Options{Shares: 20}
	eng, err := engine.New(tr, ex, st, opts)
	require.NoError(t, err)

	// 市场已结束（10s 前），但喂的订单簿时间戳在结束前，轮照常建立
	ended := mkMarket("btc-updown-15m-100", "a-up", "a-down", now.Add(-10*time.Second))
	next := mkMarket("btc-updown-15m-200", "b-up", "b-down", now.Add(15*time.Minute))
	require.NoError(t, eng.Start(ended))

	var sigs []engine.Signal
	eng.Bus().OnSignal(func(s engine.Signal) { sigs = append(sigs, s) })

	t0 := now.Add(-10 * time.Minute)
	tr.feedBook("a-up", 0.40, t0)
	tr.feedBook("a-down", 0.60, t0)
	t1 := t0.Add(4 * time.Second)
	tr.feedBook("a-up", 0.30, t1) // 25% dip
	require.Len(t, sigs, 1)
	require.True(t, eng.ExecuteLeg1(sigs[0]).Success)
	require.Equal(t, domain.PhaseLeg1Filled, eng.RoundSnapshot().Phase)

	sup := NewSupervisor(eng, &fakeScanner{markets: []*domain.Market{next}}, ex, st)
	cfg := Config{
		Underlyings:    []domain.Underlying{domain.UnderlyingBTC},
		Duration:       15 * time.Minute,
		SettleStrategy: strategy,
	}
	require.NoError(t, cfg.Validate())
	sup.cfg = cfg
	return sup, eng, tr, ex, st, ended, next
}

// TestRotation_MarketEnd_RedeemStrategy 场景：市场结束 -> 登记赎回 ->
// 换新市场 -> 裁决后赎回成功并出队
func TestRotation_MarketEnd_RedeemStrategy(t *testing.T) {
	sup, eng, _, _, st, ended, next := setup(t, events.SettleRedeem)

	var rotates []events.RotateEvent
	var settled []events.SettledEvent
	eng.Bus().OnRotate(func(e events.RotateEvent) { rotates = append(rotates, e) })
	eng.Bus().OnSettled(func(e events.SettledEvent) { settled = append(settled, e) })

	sup.rotationTick()

	// 已登记待赎回
	pendings := sup.PendingRedemptions()
	require.Len(t, pendings, 1)
	require.Equal(t, ended.Slug, pendings[0].Market.Slug)

	// 引擎已切到新市场
	require.Equal(t, next.Slug, eng.Market().Slug)
	require.Len(t, rotates, 1)
	require.Equal(t, events.RotateMarketEnded, rotates[0].Reason)

	// 等待期未满: 不做任何事
	sup.redemptionTick()
	require.Len(t, sup.PendingRedemptions(), 1)
	require.Equal(t, 0, st.redeemCalls)

	// 5 分钟后: 先未裁决 -> 重试计数；再裁决 -> 赎回并出队
	sup.nowFn = func() time.Time { return time.Now().Add(6 * time.Minute) }
	sup.redemptionTick()
	pendings = sup.PendingRedemptions()
	require.Len(t, pendings, 1)
	require.Equal(t, 1, pendings[0].RetryCount)

	st.mu.Lock()
	st.resolved = true
	st.mu.Unlock()
	sup.redemptionTick()

	require.Empty(t, sup.PendingRedemptions(), "赎回成功后应出队")
	require.Equal(t, 1, st.redeemCalls)
	require.Len(t, settled, 1)
	require.True(t, settled[0].Success)
	require.Equal(t, events.SettleRedeem, settled[0].Strategy)
	require.InDelta(t, 20, settled[0].AmountReceived, 1e-9)
}

// TestRotation_MarketEnd_SellStrategy 立即卖出策略
func TestRotation_MarketEnd_SellStrategy(t *testing.T) {
	sup, eng, _, ex, _, _, next := setup(t, events.SettleSell)

	var settled []events.SettledEvent
	eng.Bus().OnSettled(func(e events.SettledEvent) { settled = append(settled, e) })

	sup.rotationTick()

	require.Empty(t, sup.PendingRedemptions(), "sell 策略不应登记赎回")
	require.Equal(t, next.Slug, eng.Market().Slug)

	ex.mu.Lock()
	sells := 0
	for _, s := range ex.calls {
		if s == "SELL" {
			sells++
		}
	}
	ex.mu.Unlock()
	require.Equal(t, 1, sells, "只有 Leg1 持仓, 卖一次")

	require.Len(t, settled, 1)
	require.True(t, settled[0].Success)
	require.Equal(t, events.SettleSell, settled[0].Strategy)
	require.Greater(t, settled[0].AmountReceived, 0.0, "应使用实际执行返回估值")
}

// TestRedemption_RetryCap 超过重试上限后放弃并发失败事件
func TestRedemption_RetryCap(t *testing.T) {
	sup, eng, _, _, st, _, _ := setup(t, events.SettleRedeem)

	var settled []events.SettledEvent
	eng.Bus().OnSettled(func(e events.SettledEvent) { settled = append(settled, e) })

	sup.rotationTick()
	require.Len(t, sup.PendingRedemptions(), 1)

	sup.nowFn = func() time.Time { return time.Now().Add(6 * time.Minute) }

	// 始终未裁决: 每 tick 计一次重试
	for i := 0; i < maxRedeemRetries+1; i++ {
		sup.redemptionTick()
	}
	pendings := sup.PendingRedemptions()
	require.Len(t, pendings, 1)
	require.Equal(t, maxRedeemRetries+1, pendings[0].RetryCount)

	// 下一个 tick 超限, 放弃
	sup.redemptionTick()
	require.Empty(t, sup.PendingRedemptions())
	require.Len(t, settled, 1)
	require.False(t, settled[0].Success)
	require.Equal(t, 0, st.redeemCalls)
}

// TestEnableDisable_RoundTrip disable 后可重新 enable，且重复 enable 报错
func TestEnableDisable_RoundTrip(t *testing.T) {
	tr := newFakeTransport()
	ex := &fakeExecutor{}
	st := &fakeSettlement{}
	eng, err := engine.New(tr, ex, st, engine.Options{})
	require.NoError(t, err)

	sup := NewSupervisor(eng, &fakeScanner{}, ex, st)
	cfg := Config{
		Underlyings: []domain.Underlying{domain.UnderlyingBTC},
		Duration:    15 * time.Minute,
	}

	require.NoError(t, sup.EnableRotation(cfg))
	require.Error(t, sup.EnableRotation(cfg), "重复 enable 应报错")
	sup.DisableRotation()
	sup.DisableRotation() // 幂等
	require.NoError(t, sup.EnableRotation(cfg), "disable 后应能重新 enable")
	sup.DisableRotation()
}

// TestConfig_Defaults 轮换配置默认值
func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	require.InDelta(t, 2, cfg.PreloadMinutes, 1e-9)
	require.True(t, *cfg.AutoSettle)
	require.Equal(t, events.SettleRedeem, cfg.SettleStrategy)
	require.InDelta(t, 5, cfg.RedeemWaitMinutes, 1e-9)
	require.Equal(t, 30, cfg.RedeemRetryIntervalSeconds)
}
