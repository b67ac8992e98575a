// Package adapters 把 pkg/sdk 的客户端接到引擎的端口上。
// 只转发纯事件数据，不把引擎实例塞进回调。
package adapters

import (
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/pkg/sdk/websocket"
)

// WSTransport 把 websocket.Client 适配成 engine.Transport
type WSTransport struct {
	client *websocket.Client
}

// NewWSTransport 创建适配器
func NewWSTransport(client *websocket.Client) *WSTransport {
	return &WSTransport{client: client}
}

func (t *WSTransport) Ready() <-chan struct{} { return t.client.Ready() }

func (t *WSTransport) SubscribeMarkets(tokenIDs []string, h engine.MarketHandlers) (engine.Subscription, error) {
	return t.client.SubscribeMarkets(tokenIDs,
		func(snap websocket.BookSnapshot) {
			if h.OnOrderbook == nil {
				return
			}
			h.OnOrderbook(events.BookUpdate{
				TokenID:   snap.AssetID,
				Bids:      toLevels(snap.Bids),
				Asks:      toLevels(snap.Asks),
				Timestamp: snap.Timestamp,
			})
		},
		func(err error) {
			if h.OnError != nil {
				h.OnError(err)
			}
		})
}

func (t *WSTransport) SubscribeOraclePrices(symbols []string, h engine.OracleHandlers) (engine.Subscription, error) {
	return t.client.SubscribeOraclePrices(symbols, func(p websocket.CryptoPrice) {
		if h.OnPrice == nil {
			return
		}
		h.OnPrice(events.OraclePrice{Symbol: p.Symbol, Price: p.Price, Timestamp: p.Timestamp})
	})
}

func toLevels(in []websocket.BookLevel) []events.PriceLevel {
	out := make([]events.PriceLevel, len(in))
	for i, l := range in {
		out[i] = events.PriceLevel{Price: l.Price, Size: l.Size}
	}
	return out
}
