package adapters

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/pkg/sdk/api"
)

var log = logrus.WithField("module", "adapters")

// ClobExecutor 把 CLOB 的 FAK 下单适配成 engine.OrderExecutor。
// 订单签名委托给注入的 signer。
type ClobExecutor struct {
	client *api.Client
	signer api.OrderSigner
}

// NewClobExecutor 创建执行适配器
func NewClobExecutor(client *api.Client, signer api.OrderSigner) *ClobExecutor {
	return &ClobExecutor{client: client, signer: signer}
}

// MarketOrder 立即成交市价单。部分成交按上报数量视为成功。
func (e *ClobExecutor) MarketOrder(ctx context.Context, tokenID string, side engine.OrderSide, amount float64) (*engine.OrderResult, error) {
	resp, err := e.client.PlaceMarketOrder(ctx, e.signer, tokenID, string(side), amount)
	if err != nil {
		return nil, err
	}
	res := &engine.OrderResult{
		Success:           resp.Success && (resp.Status == "matched" || resp.Status == ""),
		OrderID:           resp.OrderID,
		TransactionHashes: resp.TransactionsHashes,
		AvgPrice:          resp.AvgPrice.Float64(),
		SharesFilled:      resp.SizeMatched.Float64(),
		ErrorMessage:      resp.ErrorMsg,
	}
	if !res.Success && res.ErrorMessage == "" {
		res.ErrorMessage = "订单未成交 (status=" + resp.Status + ")"
	}
	log.Debugf("下单结果: token=%s side=%s amount=%.2f success=%v status=%s",
		tokenID, side, amount, res.Success, resp.Status)
	return res, nil
}
