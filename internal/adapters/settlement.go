package adapters

import (
	"context"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/pkg/sdk/api"
)

// RelayerSettlement 把 relayer 的 merge/redeem 适配成 engine.Settlement。
// 链上交易构造全部由 relayer 完成（gasless）。
type RelayerSettlement struct {
	client *api.Client
}

// NewRelayerSettlement 创建结算适配器
func NewRelayerSettlement(client *api.Client) *RelayerSettlement {
	return &RelayerSettlement{client: client}
}

func (s *RelayerSettlement) Merge(ctx context.Context, conditionID string, shares float64) (*engine.MergeResult, error) {
	resp, err := s.client.MergePositions(ctx, conditionID, shares)
	if err != nil {
		return nil, err
	}
	return &engine.MergeResult{Success: true, TxHash: txHash(resp)}, nil
}

func (s *RelayerSettlement) RedeemByTokenIds(ctx context.Context, conditionID string, pair engine.TokenPair) (*engine.RedeemResult, error) {
	resp, err := s.client.RedeemPositions(ctx, conditionID, pair.YesTokenID, pair.NoTokenID)
	if err != nil {
		return nil, err
	}
	return &engine.RedeemResult{
		Success:      true,
		USDCReceived: resp.USDCReceived.Float64(),
		TxHash:       txHash(resp),
	}, nil
}

// GetMarketResolution 用 CLOB 市场信息判断裁决状态：
// closed 且标出 winner 才算已裁决。
func (s *RelayerSettlement) GetMarketResolution(ctx context.Context, conditionID string) (*engine.Resolution, error) {
	m, err := s.client.GetClobMarket(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	res := &engine.Resolution{}
	if !m.Closed {
		return res, nil
	}
	for _, t := range m.Tokens {
		if t.Winner {
			if side, ok := domain.ParseOutcome(t.Outcome); ok {
				res.IsResolved = true
				res.Winner = side
			}
		}
	}
	return res, nil
}

func txHash(resp *api.RelayerResponse) string {
	if resp.TransactionHash != "" {
		return resp.TransactionHash
	}
	return resp.Hash
}
