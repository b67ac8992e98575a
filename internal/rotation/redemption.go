package rotation

import (
	"context"
	"time"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
)

// enqueueRedemption 市场结束时把持仓登记到待赎回队列
func (s *Supervisor) enqueueRedemption(market *domain.Market, round *domain.Round) {
	p := &PendingRedemption{
		Market:        market,
		Round:         round,
		MarketEndTime: market.EndTime,
		EnqueuedAt:    s.nowFn(),
	}
	s.mu.Lock()
	s.pending = append(s.pending, p)
	n := len(s.pending)
	s.mu.Unlock()
	log.Infof("📥 已登记待赎回: market=%s side=%s shares=%.0f (队列 %d)",
		market.Slug, round.Leg1.Side, round.Leg1.Shares, n)
}

func (s *Supervisor) redemptionLoop(stopCh chan struct{}, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.redemptionTick()
		}
	}
}

// redemptionTick 逐个检查待赎回项：
// 等待期未满的跳过；未裁决的计一次重试；已裁决的赎回并移出队列；
// 重试超限的放弃并发 settled 失败事件。
func (s *Supervisor) redemptionTick() {
	now := s.nowFn()

	s.mu.Lock()
	cfg := s.cfg
	items := make([]*PendingRedemption, len(s.pending))
	copy(items, s.pending)
	s.mu.Unlock()

	wait := time.Duration(cfg.RedeemWaitMinutes * float64(time.Minute))

	for _, p := range items {
		if now.Sub(p.MarketEndTime) < wait {
			continue
		}
		if p.RetryCount > maxRedeemRetries {
			s.remove(p)
			log.Errorf("❌ 赎回放弃 (重试 %d 次): market=%s", p.RetryCount, p.Market.Slug)
			s.eng.Bus().EmitSettled(events.SettledEvent{
				Success: false, Strategy: events.SettleRedeem,
				Error: "resolution pending: 超过重试上限",
			})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := s.settlement.GetMarketResolution(ctx, p.Market.ConditionID)
		cancel()
		if err != nil || res == nil || !res.IsResolved {
			p.RetryCount++
			p.LastRetryAt = now
			log.Debugf("⏳ 市场未裁决, 继续等待: market=%s retry=%d", p.Market.Slug, p.RetryCount)
			continue
		}

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		rres, err := s.settlement.RedeemByTokenIds(ctx, p.Market.ConditionID, engine.TokenPair{
			YesTokenID: p.Market.UpToken.TokenID,
			NoTokenID:  p.Market.DownToken.TokenID,
		})
		cancel()
		if err != nil || rres == nil || !rres.Success {
			p.RetryCount++
			p.LastRetryAt = now
			msg := "redeem 失败"
			if err != nil {
				msg = err.Error()
			}
			log.Warnf("⚠️ 赎回失败 (retry=%d): market=%s err=%s", p.RetryCount, p.Market.Slug, msg)
			continue
		}

		s.remove(p)
		log.Infof("💰 赎回成功: market=%s usdc=%.2f tx=%s", p.Market.Slug, rres.USDCReceived, rres.TxHash)
		s.eng.Bus().EmitSettled(events.SettledEvent{
			Success:        true,
			Strategy:       events.SettleRedeem,
			AmountReceived: rres.USDCReceived,
			TxHash:         rres.TxHash,
		})
	}
}

func (s *Supervisor) remove(target *PendingRedemption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending[:0]
	for _, p := range s.pending {
		if p != target {
			out = append(out, p)
		}
	}
	s.pending = out
}

// immediateSell 立即卖出策略：两条腿分别市价卖出。
// amountReceived 优先取执行返回的实际成交额，
// 没有上报时退回按该侧 bestBid 估值（仅用于上报）。
func (s *Supervisor) immediateSell(market *domain.Market, round *domain.Round) {
	total := 0.0
	ok := true
	var lastErr string

	for _, leg := range []*domain.Leg{round.Leg1, round.Leg2} {
		if leg == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := s.executor.MarketOrder(ctx, leg.TokenID, engine.OrderSell, leg.Shares)
		cancel()
		if err != nil || res == nil || !res.Success {
			ok = false
			if err != nil {
				lastErr = err.Error()
			} else if res != nil {
				lastErr = res.ErrorMessage
			}
			log.Warnf("⚠️ 立即卖出失败: side=%s err=%s", leg.Side, lastErr)
			continue
		}
		if res.AvgPrice > 0 && res.SharesFilled > 0 {
			total += res.AvgPrice * res.SharesFilled
		} else {
			total += s.eng.BestBid(leg.Side) * leg.Shares
		}
	}

	log.Infof("💸 持仓已卖出: market=%s received≈%.2f", market.Slug, total)
	s.eng.Bus().EmitSettled(events.SettledEvent{
		Success:        ok,
		Strategy:       events.SettleSell,
		AmountReceived: total,
		Error:          lastErr,
	})
}
