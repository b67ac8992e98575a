// Package rotation 实现自动轮换 supervisor：
// 在周期边界把引擎无缝切到下一个市场，并把留在已结束市场里的
// 持仓卖出或在预言机裁决后赎回。
package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/discovery"
	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/pkg/logger"
)

var log = logrus.WithField("module", "rotation")

const (
	// rotationInterval 轮换检查周期
	rotationInterval = 30 * time.Second
	// scanMinMinutes / scanMaxMinutes 扫描候选市场的结束时间窗口
	scanMinMinutes = 5
	scanMaxMinutes = 30
	// maxRedeemRetries 每个待赎回项的重试上限
	maxRedeemRetries = 20
)

// Config 轮换配置
type Config struct {
	Underlyings []domain.Underlying `yaml:"underlyings" json:"underlyings"`
	// Duration 市场周期（5m 或 15m）
	Duration time.Duration `yaml:"duration" json:"duration"`
	// PreloadMinutes 周期结束前多少分钟预载下一个市场
	PreloadMinutes float64 `yaml:"preloadMinutes" json:"preloadMinutes"`
	// AutoSettle 市场结束时是否自动处理持仓
	AutoSettle *bool `yaml:"autoSettle" json:"autoSettle"`
	// SettleStrategy redeem（等裁决后赎回）或 sell（立即卖出）
	SettleStrategy events.SettleStrategy `yaml:"settleStrategy" json:"settleStrategy"`
	// RedeemWaitMinutes 市场结束后至少等待多久才尝试赎回
	RedeemWaitMinutes float64 `yaml:"redeemWaitMinutes" json:"redeemWaitMinutes"`
	// RedeemRetryIntervalSeconds 赎回 ticker 的周期
	RedeemRetryIntervalSeconds int `yaml:"redeemRetryIntervalSeconds" json:"redeemRetryIntervalSeconds"`
}

// Validate 校验并填充默认值
func (c *Config) Validate() error {
	if c.PreloadMinutes <= 0 {
		c.PreloadMinutes = 2
	}
	if c.AutoSettle == nil {
		def := true
		c.AutoSettle = &def
	}
	if c.SettleStrategy == "" {
		c.SettleStrategy = events.SettleRedeem
	}
	if c.RedeemWaitMinutes <= 0 {
		c.RedeemWaitMinutes = 5
	}
	if c.RedeemRetryIntervalSeconds <= 0 {
		c.RedeemRetryIntervalSeconds = 30
	}
	if c.Duration == 0 {
		c.Duration = 15 * time.Minute
	}
	return nil
}

func (c Config) autoSettleOn() bool { return c.AutoSettle == nil || *c.AutoSettle }

// PendingRedemption 延迟结算任务
type PendingRedemption struct {
	Market        *domain.Market
	Round         *domain.Round
	MarketEndTime time.Time
	EnqueuedAt    time.Time
	RetryCount    int
	LastRetryAt   time.Time
}

// Scanner 市场发现接口（discovery.Scanner 满足它）
type Scanner interface {
	ScanCryptoShortTermMarkets(ctx context.Context, q discovery.Query) ([]*domain.Market, error)
}

// Supervisor 自动轮换监督器。独占待赎回队列和下一个市场的交接槽。
type Supervisor struct {
	eng        *engine.Engine
	scanner    Scanner
	executor   engine.OrderExecutor
	settlement engine.Settlement

	mu         sync.Mutex
	cfg        Config
	enabled    bool
	nextMarket *domain.Market
	pending    []*PendingRedemption
	stopCh     chan struct{}
	wg         sync.WaitGroup

	nowFn func() time.Time
}

// NewSupervisor 创建 supervisor
func NewSupervisor(eng *engine.Engine, scanner Scanner, executor engine.OrderExecutor, settlement engine.Settlement) *Supervisor {
	return &Supervisor{
		eng:        eng,
		scanner:    scanner,
		executor:   executor,
		settlement: settlement,
		nowFn:      time.Now,
	}
}

// EnableRotation 启动轮换与赎回两个 ticker（enable 时立即跑一次轮换检查）
func (s *Supervisor) EnableRotation(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return engine.Validationf("轮换已启用")
	}
	s.enabled = true
	s.cfg = cfg
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	log.Infof("🔄 自动轮换已启用: underlyings=%v duration=%v preload=%.0fm settle=%s",
		cfg.Underlyings, cfg.Duration, cfg.PreloadMinutes, cfg.SettleStrategy)

	s.wg.Add(2)
	go s.rotationLoop(stopCh)
	go s.redemptionLoop(stopCh, time.Duration(cfg.RedeemRetryIntervalSeconds)*time.Second)
	return nil
}

// DisableRotation 停止 ticker；待赎回项保留在队列里但会告警。
func (s *Supervisor) DisableRotation() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	close(s.stopCh)
	pending := len(s.pending)
	s.mu.Unlock()

	s.wg.Wait()
	if pending > 0 {
		log.Warnf("⚠️ 轮换已停用，仍有 %d 个待赎回项不会被处理", pending)
	} else {
		log.Infof("🔕 轮换已停用")
	}
}

// RotateNow 强制立即扫描并切换
func (s *Supervisor) RotateNow() error {
	return s.rotate(events.RotateManual)
}

// PendingRedemptions 返回待赎回队列快照
func (s *Supervisor) PendingRedemptions() []PendingRedemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingRedemption, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, *p)
	}
	return out
}

func (s *Supervisor) rotationLoop(stopCh chan struct{}) {
	defer s.wg.Done()

	// enable 时立即跑一次
	s.rotationTick()

	ticker := time.NewTicker(rotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.rotationTick()
		}
	}
}

// rotationTick 每 30s：先预载、再检查市场是否结束。
func (s *Supervisor) rotationTick() {
	market := s.eng.Market()
	if market == nil {
		return
	}
	now := s.nowFn()
	timeUntilEnd := market.TimeUntilEnd(now)

	s.mu.Lock()
	cfg := s.cfg
	havePreload := s.nextMarket != nil
	s.mu.Unlock()

	preload := time.Duration(cfg.PreloadMinutes * float64(time.Minute))
	if timeUntilEnd <= preload && !havePreload {
		if next := s.scanNext(market); next != nil {
			s.mu.Lock()
			s.nextMarket = next
			s.mu.Unlock()
			log.Infof("📦 已预载下一个市场: %s (end=%s)", next.Slug, next.EndTime.Format("15:04:05"))
		}
	}

	if timeUntilEnd <= 0 {
		if err := s.rotate(events.RotateMarketEnded); err != nil {
			log.Errorf("❌ 轮换失败: %v", err)
		}
	}
}

// rotate 结束当前市场：先处理持仓，再停引擎、起下一个市场。
func (s *Supervisor) rotate(reason events.RotateReason) error {
	prev := s.eng.Market()

	s.mu.Lock()
	cfg := s.cfg
	next := s.nextMarket
	s.nextMarket = nil
	s.mu.Unlock()

	// 持仓处理要在 Stop 之前读取轮快照（Stop 会发 partial 事件）
	if prev != nil && cfg.autoSettleOn() {
		if round := s.eng.RoundSnapshot(); round != nil && round.HoldsPosition() && round.Leg2 == nil {
			switch cfg.SettleStrategy {
			case events.SettleSell:
				s.immediateSell(prev, round)
			default:
				s.enqueueRedemption(prev, round)
			}
		}
	}

	s.eng.Stop()

	if next == nil {
		next = s.scanNext(prev)
	}
	if next == nil {
		return engine.NewError(engine.KindMarketNotFound, true,
			errorsNoCandidate(prev))
	}

	if err := s.eng.Start(next); err != nil {
		s.eng.Bus().EmitRotate(events.RotateEvent{
			PreviousMarket: prev, NewMarket: next,
			Reason: events.RotateError, Timestamp: s.nowFn(),
		})
		return err
	}

	logger.SetMarketSlug(next.Slug)
	s.eng.Bus().EmitRotate(events.RotateEvent{
		PreviousMarket: prev, NewMarket: next,
		Reason: reason, Timestamp: s.nowFn(),
	})
	log.Infof("🔁 已轮换到新市场: %s (reason=%s)", next.Slug, reason)
	return nil
}

// scanNext 扫描候选市场，取结束最早的一个（排除当前市场）
func (s *Supervisor) scanNext(current *domain.Market) *domain.Market {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	markets, err := s.scanner.ScanCryptoShortTermMarkets(ctx, discovery.Query{
		Underlyings:        cfg.Underlyings,
		Durations:          []time.Duration{cfg.Duration},
		MinMinutesUntilEnd: scanMinMinutes,
		MaxMinutesUntilEnd: scanMaxMinutes,
		Limit:              5,
		SortBy:             discovery.SortByEndDate,
	})
	if err != nil {
		log.Warnf("⚠️ 扫描候选市场失败: %v", err)
		return nil
	}
	for _, m := range markets {
		if current != nil && m.ConditionID == current.ConditionID {
			continue
		}
		return m
	}
	return nil
}

func errorsNoCandidate(prev *domain.Market) error {
	slug := ""
	if prev != nil {
		slug = prev.Slug
	}
	return engine.Validationf("没有可轮换的候选市场 (previous=%s)", slug).Err
}
