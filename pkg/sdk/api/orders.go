package api

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderSigner 订单签名委托。订单/交易构造不在本仓库内实现，
// 由调用方注入（例如官方 SDK 的 EIP-712 签名器）。
type OrderSigner interface {
	// SignOrder 返回订单签名和 owner（L2 api key）
	SignOrder(req *OrderRequest) (signature string, owner string, err error)
}

// quoteTick CLOB 的 quote 金额精度（USDC 两位小数下单粒度）
var quoteTick = decimal.New(1, -2)

// RoundQuoteAmount 把 shares*price 的金额按 tick 精度向下取整
func RoundQuoteAmount(amount float64) float64 {
	d := decimal.NewFromFloat(amount)
	f, _ := d.Div(quoteTick).Floor().Mul(quoteTick).Float64()
	return f
}

// PlaceMarketOrder 下一笔立即成交（FAK/IOC）市价单。
// side=BUY 时 amount 为 quote 金额，side=SELL 时为 share 数量。
func (c *Client) PlaceMarketOrder(ctx context.Context, signer OrderSigner, tokenID, side string, amount float64) (*OrderResponse, error) {
	req := &OrderRequest{
		TokenID:   tokenID,
		Side:      side,
		Amount:    decimal.NewFromFloat(RoundQuoteAmount(amount)).String(),
		OrderType: "FAK",
	}
	if signer != nil {
		sig, owner, err := signer.SignOrder(req)
		if err != nil {
			return nil, errors.Wrap(err, "订单签名失败")
		}
		req.Signature = sig
		req.Owner = owner
	}

	var out OrderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/order")
	if err != nil {
		return nil, errors.Wrapf(err, "clob /order token=%s", tokenID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("clob /order token=%s: http %d body=%s", tokenID, resp.StatusCode(), resp.String())
	}
	return &out, nil
}
