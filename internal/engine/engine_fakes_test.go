package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
)

// fakeClock 可控时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeSub 记录取消订阅次数
type fakeSub struct {
	mu     *sync.Mutex
	unsubs *int
}

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	*s.unsubs++
	s.mu.Unlock()
}

// fakeTransport 捕获订阅回调，测试直接投递事件
type fakeTransport struct {
	mu      sync.Mutex
	ready   chan struct{}
	mh      MarketHandlers
	oh      OracleHandlers
	unsubs  int
	failSub bool
}

func newFakeTransport() *fakeTransport {
	ready := make(chan struct{})
	close(ready)
	return &fakeTransport{ready: ready}
}

func (t *fakeTransport) Ready() <-chan struct{} { return t.ready }

func (t *fakeTransport) SubscribeMarkets(tokenIDs []string, h MarketHandlers) (Subscription, error) {
	if t.failSub {
		return nil, context.DeadlineExceeded
	}
	t.mu.Lock()
	t.mh = h
	t.mu.Unlock()
	return &fakeSub{mu: &t.mu, unsubs: &t.unsubs}, nil
}

func (t *fakeTransport) SubscribeOraclePrices(symbols []string, h OracleHandlers) (Subscription, error) {
	t.mu.Lock()
	t.oh = h
	t.mu.Unlock()
	return &fakeSub{mu: &t.mu, unsubs: &t.unsubs}, nil
}

func (t *fakeTransport) feedBook(tokenID string, bid, ask float64, ts time.Time) {
	t.mu.Lock()
	h := t.mh
	t.mu.Unlock()
	if h.OnOrderbook == nil {
		return
	}
	u := events.BookUpdate{TokenID: tokenID, Timestamp: ts}
	if bid > 0 {
		u.Bids = []events.PriceLevel{{Price: bid, Size: 100}}
	}
	if ask > 0 {
		u.Asks = []events.PriceLevel{{Price: ask, Size: 100}}
	}
	h.OnOrderbook(u)
}

func (t *fakeTransport) feedOracle(symbol string, price float64, ts time.Time) {
	t.mu.Lock()
	h := t.oh
	t.mu.Unlock()
	if h.OnPrice == nil {
		return
	}
	h.OnPrice(events.OraclePrice{Symbol: symbol, Price: price, Timestamp: ts})
}

type execCall struct {
	TokenID string
	Side    OrderSide
	Amount  float64
}

// fakeExecutor 可配置的执行适配器
type fakeExecutor struct {
	mu           sync.Mutex
	calls        []execCall
	fail         bool
	nextAvgPrice float64
	nextShares   float64
}

func (e *fakeExecutor) MarketOrder(_ context.Context, tokenID string, side OrderSide, amount float64) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, execCall{TokenID: tokenID, Side: side, Amount: amount})
	if e.fail {
		return &OrderResult{Success: false, ErrorMessage: "insufficient liquidity"}, nil
	}
	return &OrderResult{
		Success:      true,
		OrderID:      "order-1",
		AvgPrice:     e.nextAvgPrice,
		SharesFilled: e.nextShares,
	}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeSettlement 可配置的结算适配器
type fakeSettlement struct {
	mu          sync.Mutex
	mergeCalls  int
	redeemCalls int
	resolved    bool
	winner      domain.Side
	failRedeem  bool
	failMerge   bool
}

func (s *fakeSettlement) Merge(_ context.Context, conditionID string, shares float64) (*MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeCalls++
	if s.failMerge {
		return &MergeResult{Success: false}, nil
	}
	return &MergeResult{Success: true, TxHash: "0xmerge"}, nil
}

func (s *fakeSettlement) RedeemByTokenIds(_ context.Context, conditionID string, pair TokenPair) (*RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redeemCalls++
	if s.failRedeem {
		return &RedeemResult{Success: false}, nil
	}
	return &RedeemResult{Success: true, USDCReceived: 20, TxHash: "0xredeem"}, nil
}

func (s *fakeSettlement) GetMarketResolution(_ context.Context, conditionID string) (*Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Resolution{IsResolved: s.resolved, Winner: s.winner}, nil
}

// testMarket 测试市场
func testMarket(end time.Time) *domain.Market {
	return &domain.Market{
		ConditionID: "0x" + strings.Repeat("c1", 32),
		Slug:        "btc-updown-15m-1700000000",
		Underlying:  domain.UnderlyingBTC,
		Duration:    15 * time.Minute,
		EndTime:     end,
		UpToken:     domain.OutcomeToken{TokenID: "tok-up", Side: domain.SideUp},
		DownToken:   domain.OutcomeToken{TokenID: "tok-down", Side: domain.SideDown},
	}
}

// newTestEngine 组装带 fake 依赖的引擎
func newTestEngine(opts Options) (*Engine, *fakeTransport, *fakeExecutor, *fakeSettlement, *fakeClock) {
	tr := newFakeTransport()
	ex := &fakeExecutor{}
	st := &fakeSettlement{}
	eng, err := New(tr, ex, st, opts)
	if err != nil {
		panic(err)
	}
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	eng.nowFn = clk.now
	return eng, tr, ex, st, clk
}
