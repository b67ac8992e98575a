// Package orderbook 提供规范化的订单簿快照和衍生的价差/套利指标。
package orderbook

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/pkg/marketmath"
	"github.com/betbot/diparb/pkg/sdk/api"
)

var log = logrus.WithField("module", "orderbook")

// Level 已解析的单档
type Level struct {
	Price float64
	Size  float64
}

// Snapshot 单个 token 的规范化快照：bids 降序、asks 升序。
type Snapshot struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// BestBid 最优买价（缺失返回 0 值）
func (s *Snapshot) BestBid() Level {
	if len(s.Bids) == 0 {
		return Level{}
	}
	return s.Bids[0]
}

// BestAsk 最优卖价
func (s *Snapshot) BestAsk() Level {
	if len(s.Asks) == 0 {
		return Level{}
	}
	return s.Asks[0]
}

// depth Σ price·size
func depth(levels []Level) float64 {
	total := 0.0
	for _, l := range levels {
		total += l.Price * l.Size
	}
	return total
}

// PairAnalysis 一对 YES/NO 订单簿的衍生指标
type PairAnalysis struct {
	YesBestBid     float64
	YesBestBidSize float64
	YesBestAsk     float64
	YesBestAskSize float64
	NoBestBid      float64
	NoBestBidSize  float64
	NoBestAsk      float64
	NoBestAskSize  float64

	YesBidDepth float64
	YesAskDepth float64
	NoBidDepth  float64
	NoAskDepth  float64

	AskSum float64
	BidSum float64

	Effective marketmath.EffectivePrices

	LongArbProfit  float64
	ShortArbProfit float64
	ImbalanceRatio float64

	// Opportunity 超过阈值的套利机会（没有则为 nil）
	Opportunity *marketmath.ArbitrageOpportunity
}

// BookAPI 快照来源（api.Client 满足它）
type BookAPI interface {
	GetOrderBook(ctx context.Context, tokenID string) (*api.RawOrderBook, error)
}

// Service 订单簿服务
type Service struct {
	api       BookAPI
	threshold float64
}

// NewService threshold <= 0 时使用默认套利阈值
func NewService(a BookAPI, threshold float64) *Service {
	if threshold <= 0 {
		threshold = marketmath.DefaultArbThreshold
	}
	return &Service{api: a, threshold: threshold}
}

// GetSnapshot 拉取并规范化一个 token 的订单簿。
// 原始价格/数量可能是字符串；无效档位丢弃；时间戳缺失用墙钟替代。
func (s *Service) GetSnapshot(ctx context.Context, tokenID string) (*Snapshot, error) {
	raw, err := s.api.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return Normalize(tokenID, raw), nil
}

// Normalize 把原始订单簿转成规范化快照
func Normalize(tokenID string, raw *api.RawOrderBook) *Snapshot {
	snap := &Snapshot{TokenID: tokenID}
	snap.Bids = parseLevels(raw.Bids)
	snap.Asks = parseLevels(raw.Asks)
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })

	if ts, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil && ts > 0 {
		if ts > 1e12 {
			snap.Timestamp = time.UnixMilli(ts)
		} else {
			snap.Timestamp = time.Unix(ts, 0)
		}
	} else {
		snap.Timestamp = time.Now()
	}
	return snap
}

func parseLevels(raw []api.RawBookLevel) []Level {
	out := make([]Level, 0, len(raw))
	for _, l := range raw {
		p, err1 := strconv.ParseFloat(l.Price, 64)
		sz, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil || p <= 0 || sz <= 0 {
			continue
		}
		out = append(out, Level{Price: p, Size: sz})
	}
	return out
}

// AnalyzePair 拉取市场两侧快照并计算衍生指标
func (s *Service) AnalyzePair(ctx context.Context, market *domain.Market) (*PairAnalysis, error) {
	if !market.IsValid() {
		return nil, errors.New("市场缺少 tokenID")
	}
	yes, err := s.GetSnapshot(ctx, market.UpToken.TokenID)
	if err != nil {
		return nil, errors.Wrap(err, "YES 快照失败")
	}
	no, err := s.GetSnapshot(ctx, market.DownToken.TokenID)
	if err != nil {
		return nil, errors.Wrap(err, "NO 快照失败")
	}
	analysis := Analyze(yes, no, s.threshold)
	if analysis.Opportunity != nil {
		log.Infof("💡 套利机会: type=%s profit=%.4f action=%s",
			analysis.Opportunity.Type, analysis.Opportunity.Profit, analysis.Opportunity.Action)
	}
	return analysis, nil
}

// Analyze 纯函数：从两侧快照计算全部衍生指标
func Analyze(yes, no *Snapshot, threshold float64) *PairAnalysis {
	a := &PairAnalysis{
		YesBestBid:     yes.BestBid().Price,
		YesBestBidSize: yes.BestBid().Size,
		YesBestAsk:     yes.BestAsk().Price,
		YesBestAskSize: yes.BestAsk().Size,
		NoBestBid:      no.BestBid().Price,
		NoBestBidSize:  no.BestBid().Size,
		NoBestAsk:      no.BestAsk().Price,
		NoBestAskSize:  no.BestAsk().Size,
		YesBidDepth:    depth(yes.Bids),
		YesAskDepth:    depth(yes.Asks),
		NoBidDepth:     depth(no.Bids),
		NoAskDepth:     depth(no.Asks),
	}
	a.AskSum = a.YesBestAsk + a.NoBestAsk
	a.BidSum = a.YesBestBid + a.NoBestBid

	tob := marketmath.TopOfBook{
		YesBid: a.YesBestBid,
		YesAsk: a.YesBestAsk,
		NoBid:  a.NoBestBid,
		NoAsk:  a.NoBestAsk,
	}
	if eff, err := marketmath.GetEffectivePrices(tob); err == nil {
		a.Effective = eff
		if eff.EffectiveBuyYes > 0 && eff.EffectiveBuyNo > 0 {
			a.LongArbProfit = 1 - (eff.EffectiveBuyYes + eff.EffectiveBuyNo)
		}
		if eff.EffectiveSellYes > 0 && eff.EffectiveSellNo > 0 {
			a.ShortArbProfit = (eff.EffectiveSellYes + eff.EffectiveSellNo) - 1
		}
		if opp, err := marketmath.CheckArbitrage(tob, threshold); err == nil {
			a.Opportunity = opp
		}
	}

	a.ImbalanceRatio = marketmath.ImbalanceRatio(a.YesBidDepth+a.NoBidDepth, a.YesAskDepth+a.NoAskDepth)
	return a
}
