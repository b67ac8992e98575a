// Package discovery 枚举即将到期的短周期 updown 市场。
// slug 模板：{coin}-updown-{5m|15m}-{unixStartSeconds}，
// 起点按周期秒数对齐。
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/pkg/sdk/api"
)

var log = logrus.WithField("module", "discovery")

const (
	// fetchBatchSize slug 并行抓取的批大小
	fetchBatchSize = 10
	// tokenResolveRetries 每个市场 token 解析的重试次数
	tokenResolveRetries = 3
	// tokenResolveBackoff 重试间隔
	tokenResolveBackoff = 1 * time.Second
)

// SortBy 排序方式
type SortBy string

const (
	SortByEndDate   SortBy = "endDate"   // 最早结束优先
	SortByVolume    SortBy = "volume"    // 24h 成交量降序
	SortByLiquidity SortBy = "liquidity" // 流动性降序
)

// Query 扫描参数
type Query struct {
	Underlyings        []domain.Underlying
	Durations          []time.Duration // 5m / 15m
	MinMinutesUntilEnd float64
	MaxMinutesUntilEnd float64
	Limit              int
	SortBy             SortBy
}

// API 发现服务依赖的 HTTP 接口（api.Client 满足它）
type API interface {
	GetMarketBySlug(ctx context.Context, slug string) (*api.GammaMarket, error)
	GetClobMarket(ctx context.Context, conditionID string) (*api.ClobMarket, error)
}

// Scanner 市场发现服务
type Scanner struct {
	api   API
	nowFn func() time.Time
}

// NewScanner 创建 Scanner
func NewScanner(a API) *Scanner {
	return &Scanner{api: a, nowFn: time.Now}
}

// Slug 生成市场 slug
func Slug(u domain.Underlying, duration time.Duration, startUnix int64) string {
	return fmt.Sprintf("%s-updown-%s-%d", u.Coin(), durationLabel(duration), startUnix)
}

func durationLabel(d time.Duration) string {
	if d == 5*time.Minute {
		return "5m"
	}
	return "15m"
}

// candidateSlugs 枚举结束时间可能落在 [minEnd, maxEnd] 的所有 slug。
// 对每个周期：起点范围 [floor((minEnd-interval)/interval)*interval,
// ceil(maxEnd/interval)*interval]，再与币种做笛卡尔积。
func (s *Scanner) candidateSlugs(q Query, now time.Time) []slugRef {
	var out []slugRef
	for _, d := range q.Durations {
		interval := int64(d.Seconds())
		if interval <= 0 {
			continue
		}
		minEnd := now.Add(time.Duration(q.MinMinutesUntilEnd * float64(time.Minute))).Unix()
		maxEnd := now.Add(time.Duration(q.MaxMinutesUntilEnd * float64(time.Minute))).Unix()
		lo := (minEnd - interval) / interval * interval
		hi := (maxEnd + interval - 1) / interval * interval
		for start := lo; start <= hi; start += interval {
			for _, u := range q.Underlyings {
				out = append(out, slugRef{
					slug:       Slug(u, d, start),
					underlying: u,
					duration:   d,
				})
			}
		}
	}
	return out
}

type slugRef struct {
	slug       string
	underlying domain.Underlying
	duration   time.Duration
}

type candidate struct {
	market *domain.Market
	gamma  *api.GammaMarket
}

// ScanCryptoShortTermMarkets 扫描符合条件的市场并解析两侧 token。
func (s *Scanner) ScanCryptoShortTermMarkets(ctx context.Context, q Query) ([]*domain.Market, error) {
	if len(q.Underlyings) == 0 || len(q.Durations) == 0 {
		return nil, errors.New("扫描参数缺少 underlyings 或 durations")
	}
	if q.MaxMinutesUntilEnd <= q.MinMinutesUntilEnd {
		return nil, errors.Errorf("结束时间窗口无效: [%f, %f]", q.MinMinutesUntilEnd, q.MaxMinutesUntilEnd)
	}

	now := s.nowFn()
	refs := s.candidateSlugs(q, now)
	log.Debugf("候选 slug %d 个", len(refs))

	// 并行分批抓取
	results := make([]*candidate, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchBatchSize)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			gm, err := s.api.GetMarketBySlug(gctx, ref.slug)
			if err != nil {
				// 单个 slug 失败直接跳过
				log.Debugf("slug 抓取失败, 跳过: %s (%v)", ref.slug, err)
				return nil
			}
			if gm == nil || !gm.IsTradable() {
				return nil
			}
			endTime, ok := parseEndTime(gm)
			if !ok {
				return nil
			}
			minEnd := now.Add(time.Duration(q.MinMinutesUntilEnd * float64(time.Minute)))
			maxEnd := now.Add(time.Duration(q.MaxMinutesUntilEnd * float64(time.Minute)))
			if endTime.Before(minEnd) || endTime.After(maxEnd) {
				return nil
			}
			m, err := s.resolveTokens(gctx, gm, ref, endTime)
			if err != nil {
				log.Warnf("token 解析失败, 跳过: %s (%v)", ref.slug, err)
				return nil
			}
			results[i] = &candidate{market: m, gamma: gm}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cands := make([]*candidate, 0)
	for _, c := range results {
		if c != nil {
			cands = append(cands, c)
		}
	}

	sortCandidates(cands, q.SortBy)

	limit := q.Limit
	if limit <= 0 || limit > len(cands) {
		limit = len(cands)
	}
	out := make([]*domain.Market, 0, limit)
	for _, c := range cands[:limit] {
		out = append(out, c.market)
	}
	log.Infof("🔍 扫描完成: 候选 %d, 命中 %d, 返回 %d", len(refs), len(cands), len(out))
	return out, nil
}

func sortCandidates(cands []*candidate, by SortBy) {
	switch by {
	case SortByVolume:
		sort.Slice(cands, func(i, j int) bool {
			return cands[i].gamma.Volume24Hr.Float64() > cands[j].gamma.Volume24Hr.Float64()
		})
	case SortByLiquidity:
		sort.Slice(cands, func(i, j int) bool {
			return cands[i].gamma.Liquidity.Float64() > cands[j].gamma.Liquidity.Float64()
		})
	default: // endDate
		sort.Slice(cands, func(i, j int) bool {
			return cands[i].market.EndTime.Before(cands[j].market.EndTime)
		})
	}
}

func parseEndTime(gm *api.GammaMarket) (time.Time, bool) {
	for _, raw := range []string{gm.EndDateISO, gm.EndDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveTokens 解析两侧 tokenID：优先用 CLOB 的 outcome 标注
// （大小写不敏感匹配 up/yes、down/no），缺失时按下标映射
// （tokens[0]=UP，tokens[1]=DOWN）。传输失败重试 3 次，间隔 1s。
func (s *Scanner) resolveTokens(ctx context.Context, gm *api.GammaMarket, ref slugRef, endTime time.Time) (*domain.Market, error) {
	var cm *api.ClobMarket
	var err error
	for attempt := 0; attempt < tokenResolveRetries; attempt++ {
		cm, err = s.api.GetClobMarket(ctx, gm.ConditionID)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(tokenResolveBackoff):
		}
	}

	market := &domain.Market{
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Underlying:  ref.underlying,
		Duration:    ref.duration,
		EndTime:     endTime,
	}

	if cm != nil && len(cm.Tokens) >= 2 {
		assignTokens(market, cm.Tokens)
	} else {
		// CLOB 不可用时退回 gamma 的 clobTokenIds
		ids, idErr := gm.TokenIDs()
		if idErr != nil || len(ids) < 2 {
			return nil, errors.Errorf("无法解析 token (slug=%s, clobErr=%v)", gm.Slug, err)
		}
		names := gm.OutcomeNames()
		tokens := make([]api.ClobToken, len(ids))
		for i, id := range ids {
			tokens[i] = api.ClobToken{TokenID: id}
			if i < len(names) {
				tokens[i].Outcome = names[i]
			}
		}
		assignTokens(market, tokens)
	}

	if !market.IsValid() {
		return nil, errors.Errorf("市场缺少 tokenID (slug=%s)", gm.Slug)
	}
	return market, nil
}

// assignTokens outcome 标注优先，否则按下标映射
func assignTokens(m *domain.Market, tokens []api.ClobToken) {
	assigned := false
	for _, t := range tokens {
		if side, ok := domain.ParseOutcome(t.Outcome); ok {
			ot := domain.OutcomeToken{TokenID: t.TokenID, Side: side, Price: t.Price.Float64(), Winner: t.Winner}
			if side == domain.SideUp {
				m.UpToken = ot
			} else {
				m.DownToken = ot
			}
			assigned = true
		}
	}
	if assigned && m.UpToken.TokenID != "" && m.DownToken.TokenID != "" {
		return
	}
	if len(tokens) >= 2 {
		m.UpToken = domain.OutcomeToken{TokenID: tokens[0].TokenID, Side: domain.SideUp, Price: tokens[0].Price.Float64(), Winner: tokens[0].Winner}
		m.DownToken = domain.OutcomeToken{TokenID: tokens[1].TokenID, Side: domain.SideDown, Price: tokens[1].Price.Float64(), Winner: tokens[1].Winner}
	}
}
