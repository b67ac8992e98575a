package api

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// shareDecimals CTF token 精度（1.00 share = 1e6）
const shareDecimals = 6

// sharesToUnits share 数量换算为链上最小单位
func sharesToUnits(shares float64) string {
	return decimal.NewFromFloat(shares).Shift(shareDecimals).Floor().String()
}

// NormalizeConditionID 校验并归一化 conditionID（bytes32 hex）。
// relayer 对大小写敏感，统一走 common.Hash。
func NormalizeConditionID(conditionID string) (string, error) {
	s := strings.TrimSpace(conditionID)
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return "", errors.Errorf("无效的 conditionID: %q", conditionID)
	}
	return common.HexToHash(s).Hex(), nil
}

// MergePositions 通过 relayer 把等量两侧 token 合并成 USDC（gasless，
// 交易构造由 relayer 完成）。
func (c *Client) MergePositions(ctx context.Context, conditionID string, shares float64) (*RelayerResponse, error) {
	cid, err := NormalizeConditionID(conditionID)
	if err != nil {
		return nil, err
	}
	var out RelayerResponse
	resp, err := c.relayer.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"type":        "MERGE",
			"conditionId": cid,
			"amount":      sharesToUnits(shares),
		}).
		SetResult(&out).
		Post("/execute")
	if err != nil {
		return nil, errors.Wrapf(err, "relayer merge condition=%s", cid)
	}
	if resp.IsError() {
		return nil, errors.Errorf("relayer merge condition=%s: http %d body=%s", cid, resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// RedeemPositions 在市场裁决后通过 relayer 赎回胜方。
func (c *Client) RedeemPositions(ctx context.Context, conditionID, yesTokenID, noTokenID string) (*RelayerResponse, error) {
	cid, err := NormalizeConditionID(conditionID)
	if err != nil {
		return nil, err
	}
	var out RelayerResponse
	resp, err := c.relayer.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"type":        "REDEEM",
			"conditionId": cid,
			"tokenIds":    []string{yesTokenID, noTokenID},
		}).
		SetResult(&out).
		Post("/execute")
	if err != nil {
		return nil, errors.Wrapf(err, "relayer redeem condition=%s", cid)
	}
	if resp.IsError() {
		return nil, errors.Errorf("relayer redeem condition=%s: http %d body=%s", cid, resp.StatusCode(), resp.String())
	}
	return &out, nil
}
