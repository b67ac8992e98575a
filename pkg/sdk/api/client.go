// Package api 封装 Polymarket 的 gamma / CLOB / relayer HTTP API。
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	defaultClobBaseURL    = "https://clob.polymarket.com"
	defaultGammaBaseURL   = "https://gamma-api.polymarket.com"
	defaultRelayerBaseURL = "https://relayer-v2.polymarket.com"
)

// Client handles Polymarket API interactions.
type Client struct {
	clob    *resty.Client
	gamma   *resty.Client
	relayer *resty.Client
}

// Config API 端点配置（为空使用官方默认值）
type Config struct {
	ClobBaseURL    string `yaml:"clobBaseURL" json:"clobBaseURL"`
	GammaBaseURL   string `yaml:"gammaBaseURL" json:"gammaBaseURL"`
	RelayerBaseURL string `yaml:"relayerBaseURL" json:"relayerBaseURL"`
}

// newResty resty 会自动从环境变量读取代理配置（HTTP_PROXY 等）
func newResty(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return d, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		}).
		SetHeader("Accept", "*/*").
		SetHeader("User-Agent", "diparb/1.0")
}

// NewClient creates a new Polymarket API client.
func NewClient(cfg Config) *Client {
	if cfg.ClobBaseURL == "" {
		cfg.ClobBaseURL = defaultClobBaseURL
	}
	if cfg.GammaBaseURL == "" {
		cfg.GammaBaseURL = defaultGammaBaseURL
	}
	if cfg.RelayerBaseURL == "" {
		cfg.RelayerBaseURL = defaultRelayerBaseURL
	}
	return &Client{
		clob:    newResty(cfg.ClobBaseURL),
		gamma:   newResty(cfg.GammaBaseURL),
		relayer: newResty(cfg.RelayerBaseURL),
	}
}

// GetMarketBySlug 按 slug 查询 gamma 市场；不存在返回 (nil, nil)。
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (*GammaMarket, error) {
	var out []GammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&out).
		Get("/markets")
	if err != nil {
		return nil, errors.Wrapf(err, "gamma /markets?slug=%s", slug)
	}
	if resp.IsError() {
		if resp.StatusCode() == 404 {
			return nil, nil
		}
		return nil, errors.Errorf("gamma /markets?slug=%s: http %d", slug, resp.StatusCode())
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// GetClobMarket 按 conditionID 查询 CLOB 市场（含 token/outcome/winner）。
func (c *Client) GetClobMarket(ctx context.Context, conditionID string) (*ClobMarket, error) {
	var out ClobMarket
	resp, err := c.clob.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/markets/%s", conditionID))
	if err != nil {
		return nil, errors.Wrapf(err, "clob /markets/%s", conditionID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("clob /markets/%s: http %d", conditionID, resp.StatusCode())
	}
	if out.ConditionID == "" {
		return nil, errors.Errorf("clob /markets/%s: 响应缺少 condition_id", conditionID)
	}
	return &out, nil
}

// GetOrderBook 拉取一个 token 的原始订单簿
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*RawOrderBook, error) {
	var out RawOrderBook
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/book")
	if err != nil {
		return nil, errors.Wrapf(err, "clob /book?token_id=%s", tokenID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("clob /book?token_id=%s: http %d", tokenID, resp.StatusCode())
	}
	return &out, nil
}
