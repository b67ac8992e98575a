package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "ws")

const (
	defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	defaultMaxRetries = 3
	maxBatchSize      = 100
)

// Config WebSocket 客户端配置
type Config struct {
	URL                  string
	ProxyURL             string
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	ReconnectEnabled     bool
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		URL:                  defaultWSURL,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         10 * time.Second,
		ReconnectEnabled:     true,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 100,
	}
}

// marketSub 一条订单簿订阅
type marketSub struct {
	id       int
	tokenIDs map[string]bool
	onBook   BookHandler
	onError  ErrorHandler
}

// priceSub 一条价格订阅
type priceSub struct {
	id      int
	symbols map[string]bool
	onPrice PriceHandler
}

// Client 管理市场数据 WebSocket 连接。
// 把一条物理连接复用成订单簿（按 token）与预言机价格（按 symbol）两路逻辑流。
// 重连自动进行；重连期间丢失的消息不补发，下一个全量快照会补齐状态。
type Client struct {
	config *Config

	conn   *websocket.Conn
	connMu sync.Mutex

	running   bool
	runningMu sync.RWMutex

	subMu      sync.RWMutex
	nextSubID  int
	marketSubs map[int]*marketSub
	priceSubs  map[int]*priceSub

	// readyCh 首次握手成功后关闭（connected 事件）
	readyCh   chan struct{}
	readyOnce sync.Once

	stopCh chan struct{}
	doneCh chan struct{}

	reconnectAttempts int
	reconnectMu       sync.Mutex
}

// NewClient 创建客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.URL == "" {
		config.URL = defaultWSURL
	}
	return &Client{
		config:     config,
		marketSubs: make(map[int]*marketSub),
		priceSubs:  make(map[int]*priceSub),
		readyCh:    make(chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Ready 首次握手成功后关闭
func (c *Client) Ready() <-chan struct{} { return c.readyCh }

// Start 连接并开始读取
func (c *Client) Start() error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("WebSocket 客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	log.Infof("已启动连接到 %s", c.config.URL)
	return nil
}

// Stop 优雅关闭
func (c *Client) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Warnf("关闭超时")
	}
	log.Infof("已停止")
}

// Subscription 订阅句柄
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe 取消订阅（幂等）
func (s *Subscription) Unsubscribe() {
	if s != nil && s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// SubscribeMarkets 订阅一组 token 的订单簿
func (c *Client) SubscribeMarkets(tokenIDs []string, onBook BookHandler, onError ErrorHandler) (*Subscription, error) {
	c.subMu.Lock()
	c.nextSubID++
	sub := &marketSub{
		id:       c.nextSubID,
		tokenIDs: make(map[string]bool, len(tokenIDs)),
		onBook:   onBook,
		onError:  onError,
	}
	for _, id := range tokenIDs {
		sub.tokenIDs[id] = true
	}
	c.marketSubs[sub.id] = sub
	c.subMu.Unlock()

	if err := c.sendMarketSubscription(tokenIDs); err != nil {
		// 订阅消息发送失败不致命：重连后会全量重订
		log.Warnf("订阅发送失败（将在重连后重试）: %v", err)
	}

	id := sub.id
	return &Subscription{unsubscribe: func() {
		c.subMu.Lock()
		delete(c.marketSubs, id)
		remaining := c.remainingTokensLocked()
		c.subMu.Unlock()
		c.sendUnsubscribe(tokenIDs, remaining)
	}}, nil
}

// SubscribeOraclePrices 订阅一组 symbol 的价格流
func (c *Client) SubscribeOraclePrices(symbols []string, onPrice PriceHandler) (*Subscription, error) {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, normalizeSymbol(s))
	}

	c.subMu.Lock()
	c.nextSubID++
	sub := &priceSub{
		id:      c.nextSubID,
		symbols: make(map[string]bool, len(normalized)),
		onPrice: onPrice,
	}
	for _, s := range normalized {
		sub.symbols[s] = true
	}
	c.priceSubs[sub.id] = sub
	c.subMu.Unlock()

	if err := c.sendPriceSubscription(normalized); err != nil {
		log.Warnf("价格订阅发送失败（将在重连后重试）: %v", err)
	}

	id := sub.id
	return &Subscription{unsubscribe: func() {
		c.subMu.Lock()
		delete(c.priceSubs, id)
		c.subMu.Unlock()
	}}, nil
}

func (c *Client) remainingTokensLocked() map[string]bool {
	remaining := make(map[string]bool)
	for _, s := range c.marketSubs {
		for id := range s.tokenIDs {
			remaining[id] = true
		}
	}
	return remaining
}

// connect 建立连接（带重试）
func (c *Client) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	if c.config.ProxyURL != "" {
		proxyURL, err := url.Parse(c.config.ProxyURL)
		if err != nil {
			return fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "diparb/1.0")

	var conn *websocket.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, _, err = dialer.Dial(c.config.URL, headers)
		if err == nil {
			break
		}
		if i < defaultMaxRetries-1 {
			log.Warnf("连接尝试 %d/%d 失败: %v, 重试中...", i+1, defaultMaxRetries, err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn
	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	// connected 事件：首次握手成功
	c.readyOnce.Do(func() { close(c.readyCh) })
	return nil
}

func (c *Client) writeJSON(msg interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("未连接")
	}
	return c.conn.WriteJSON(msg)
}

// sendMarketSubscription 发送订单簿订阅（每批最多 100 个 token）
func (c *Client) sendMarketSubscription(tokenIDs []string) error {
	for i := 0; i < len(tokenIDs); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		if err := c.writeJSON(map[string]interface{}{
			"type":       "market",
			"assets_ids": tokenIDs[i:end],
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendPriceSubscription(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return c.writeJSON(map[string]interface{}{
		"type":    "subscribe",
		"channel": "crypto_prices",
		"symbols": symbols,
	})
}

// sendUnsubscribe 只取消没有任何订阅仍引用的 token
func (c *Client) sendUnsubscribe(tokenIDs []string, stillNeeded map[string]bool) {
	toRemove := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if !stillNeeded[id] {
			toRemove = append(toRemove, id)
		}
	}
	if len(toRemove) == 0 {
		return
	}
	if err := c.writeJSON(map[string]interface{}{
		"type":       "unsubscribe",
		"assets_ids": toRemove,
	}); err != nil {
		log.Debugf("取消订阅发送失败: %v", err)
	}
}

// resubscribe 重连后全量重订
func (c *Client) resubscribe() {
	c.subMu.RLock()
	tokens := make([]string, 0)
	for id := range c.remainingTokensLocked() {
		tokens = append(tokens, id)
	}
	symbols := make([]string, 0)
	seen := make(map[string]bool)
	for _, s := range c.priceSubs {
		for sym := range s.symbols {
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	c.subMu.RUnlock()

	if len(tokens) > 0 {
		if err := c.sendMarketSubscription(tokens); err != nil {
			log.Warnf("重新订阅失败: %v", err)
		}
	}
	if len(symbols) > 0 {
		if err := c.sendPriceSubscription(symbols); err != nil {
			log.Warnf("价格重新订阅失败: %v", err)
		}
	}
}

// readLoop 持续读取消息；连接断开时清理并重连
func (c *Client) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if c.config.ReconnectEnabled {
				c.reconnect()
			}
			time.Sleep(1 * time.Second)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Infof("连接正常关闭")
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			log.Warnf("读取错误: %v, 重连中...", err)
			if c.config.ReconnectEnabled {
				c.reconnect()
			} else {
				time.Sleep(1 * time.Second)
			}
			continue
		}

		c.handleMessage(message)
	}
}

// pingLoop 定期发送 "PING" 文本心跳（服务端回 "PONG"）
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				log.Debugf("PING 发送失败: %v", err)
			}
		}
	}
}

// reconnect 重连（线性退避，封顶）
func (c *Client) reconnect() {
	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if attempts > c.config.MaxReconnectAttempts {
		c.dispatchError(fmt.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts))
		return
	}

	delay := c.config.ReconnectDelay * time.Duration(attempts)
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}
	log.Infof("%v 后重连 (尝试 %d/%d)...", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.stopCh:
		return
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		log.Warnf("重连失败: %v", err)
		return
	}
	c.resubscribe()
}

// handleMessage 解析并按订阅分发。分发对每条订阅串行。
func (c *Client) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
		// "PONG" 等文本消息
		return
	}

	var msgs []rawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			c.dispatchError(fmt.Errorf("解析消息数组失败: %w", err))
			return
		}
	} else {
		var m rawMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			c.dispatchError(fmt.Errorf("解析消息失败: %w", err))
			return
		}
		msgs = []rawMessage{m}
	}

	for i := range msgs {
		c.dispatch(&msgs[i])
	}
}

func (c *Client) dispatch(m *rawMessage) {
	switch {
	case m.Topic == "crypto_prices" || m.EventType == "crypto_price":
		price, ok := parseCryptoPrice(m)
		if !ok {
			return
		}
		c.subMu.RLock()
		for _, s := range c.priceSubs {
			if s.symbols[price.Symbol] {
				s.onPrice(price)
			}
		}
		c.subMu.RUnlock()

	case m.EventType == "book" || len(m.Bids) > 0 || len(m.Asks) > 0:
		if m.AssetID == "" {
			return
		}
		snap := parseBookSnapshot(m)
		c.subMu.RLock()
		for _, s := range c.marketSubs {
			if s.tokenIDs[snap.AssetID] {
				s.onBook(snap)
			}
		}
		c.subMu.RUnlock()
	}
}

func (c *Client) dispatchError(err error) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, s := range c.marketSubs {
		if s.onError != nil {
			s.onError(err)
		}
	}
}
