package orderbook

import (
	"math"
	"strings"
	"testing"

	"github.com/betbot/diparb/pkg/marketmath"
	"github.com/betbot/diparb/pkg/sdk/api"
)

func snap(tokenID string, bid, ask float64) *Snapshot {
	s := &Snapshot{TokenID: tokenID}
	if bid > 0 {
		s.Bids = []Level{{Price: bid, Size: 100}}
	}
	if ask > 0 {
		s.Asks = []Level{{Price: ask, Size: 100}}
	}
	return s
}

// TestAnalyze_LongArb 场景：yesAsk=0.45 yesBid=0.40 noAsk=0.50 noBid=0.45
// effectiveBuyYes=0.45, effectiveBuyNo=0.50, longArbProfit=0.05 -> long 机会
func TestAnalyze_LongArb(t *testing.T) {
	a := Analyze(snap("yes", 0.40, 0.45), snap("no", 0.45, 0.50), 0.005)

	if math.Abs(a.Effective.EffectiveBuyYes-0.45) > 1e-9 {
		t.Fatalf("effectiveBuyYes got=%f want=0.45", a.Effective.EffectiveBuyYes)
	}
	if math.Abs(a.Effective.EffectiveBuyNo-0.50) > 1e-9 {
		t.Fatalf("effectiveBuyNo got=%f want=0.50", a.Effective.EffectiveBuyNo)
	}
	if math.Abs(a.LongArbProfit-0.05) > 1e-9 {
		t.Fatalf("longArbProfit got=%f want=0.05", a.LongArbProfit)
	}
	if a.Opportunity == nil || a.Opportunity.Type != marketmath.ArbitrageLong {
		t.Fatalf("应检测到 long 机会, got %+v", a.Opportunity)
	}
	// action string 要包含两个有效价格
	if !strings.Contains(a.Opportunity.Action, "0.4500") || !strings.Contains(a.Opportunity.Action, "0.5000") {
		t.Fatalf("action 应包含有效价格: %s", a.Opportunity.Action)
	}
}

// TestAnalyze_MirrorNoArb 场景：yesAsk=0.60 yesBid=0.45 noAsk=0.50 noBid=0.35
// effectiveBuyYes=min(0.60, 0.65)=0.60, effectiveBuyNo=min(0.50, 0.55)=0.50 -> 无套利
func TestAnalyze_MirrorNoArb(t *testing.T) {
	a := Analyze(snap("yes", 0.45, 0.60), snap("no", 0.35, 0.50), 0.005)

	if math.Abs(a.Effective.EffectiveBuyYes-0.60) > 1e-9 {
		t.Fatalf("effectiveBuyYes got=%f want=0.60", a.Effective.EffectiveBuyYes)
	}
	if math.Abs(a.Effective.EffectiveBuyNo-0.50) > 1e-9 {
		t.Fatalf("effectiveBuyNo got=%f want=0.50", a.Effective.EffectiveBuyNo)
	}
	if a.Opportunity != nil {
		t.Fatalf("不应有套利机会, got %+v", a.Opportunity)
	}
	if math.Abs(a.AskSum-1.10) > 1e-9 {
		t.Fatalf("askSum got=%f want=1.10", a.AskSum)
	}
	if math.Abs(a.BidSum-0.80) > 1e-9 {
		t.Fatalf("bidSum got=%f want=0.80", a.BidSum)
	}
}

func TestAnalyze_DepthAndImbalance(t *testing.T) {
	yes := &Snapshot{
		Bids: []Level{{Price: 0.50, Size: 100}, {Price: 0.49, Size: 100}},
		Asks: []Level{{Price: 0.52, Size: 50}},
	}
	no := &Snapshot{
		Bids: []Level{{Price: 0.46, Size: 100}},
		Asks: []Level{{Price: 0.50, Size: 50}},
	}
	a := Analyze(yes, no, 0.005)

	// yesBidDepth = 0.50*100 + 0.49*100 = 99
	if math.Abs(a.YesBidDepth-99) > 1e-9 {
		t.Fatalf("yesBidDepth got=%f want=99", a.YesBidDepth)
	}
	wantImbalance := (99.0 + 46.0) / (26.0 + 25.0 + 1e-9)
	if math.Abs(a.ImbalanceRatio-wantImbalance) > 1e-6 {
		t.Fatalf("imbalance got=%f want=%f", a.ImbalanceRatio, wantImbalance)
	}
}

// TestNormalize 字符串价格解析、排序保证、无效档位丢弃、缺失时间戳兜底
func TestNormalize(t *testing.T) {
	raw := &api.RawOrderBook{
		AssetID: "tok",
		Bids: []api.RawBookLevel{
			{Price: "0.40", Size: "10"},
			{Price: "0.45", Size: "20"},
			{Price: "bad", Size: "1"},
			{Price: "0.42", Size: "0"},
		},
		Asks: []api.RawBookLevel{
			{Price: "0.55", Size: "10"},
			{Price: "0.50", Size: "5"},
		},
	}
	s := Normalize("tok", raw)

	if len(s.Bids) != 2 {
		t.Fatalf("无效档位应被丢弃, got %d", len(s.Bids))
	}
	if s.Bids[0].Price != 0.45 {
		t.Fatalf("bids 应降序, got best=%f", s.Bids[0].Price)
	}
	if s.Asks[0].Price != 0.50 {
		t.Fatalf("asks 应升序, got best=%f", s.Asks[0].Price)
	}
	if s.Timestamp.IsZero() {
		t.Fatal("缺失时间戳应替换为墙钟时间")
	}
}

func TestNormalize_MillisTimestamp(t *testing.T) {
	raw := &api.RawOrderBook{Timestamp: "1700000000000"}
	s := Normalize("tok", raw)
	if s.Timestamp.Unix() != 1700000000 {
		t.Fatalf("毫秒级时间戳应被转换, got %d", s.Timestamp.Unix())
	}
}
