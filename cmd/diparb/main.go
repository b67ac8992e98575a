// diparb：updown 市场 dip-arbitrage 机器人。
// 用法：diparb -config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/diparb/internal/adapters"
	"github.com/betbot/diparb/internal/discovery"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/rotation"
	"github.com/betbot/diparb/pkg/config"
	"github.com/betbot/diparb/pkg/logger"
	"github.com/betbot/diparb/pkg/persistence"
	"github.com/betbot/diparb/pkg/sdk/api"
	"github.com/betbot/diparb/pkg/sdk/websocket"
	"github.com/betbot/diparb/pkg/sigchan"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.ToLogger()); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}
	log := logrus.WithField("module", "main")

	// 传输层
	wsCfg := websocket.DefaultConfig()
	if cfg.WS.URL != "" {
		wsCfg.URL = cfg.WS.URL
	}
	wsCfg.ProxyURL = cfg.WS.ProxyURL
	wsClient := websocket.NewClient(wsCfg)
	if err := wsClient.Start(); err != nil {
		log.Fatalf("WebSocket 启动失败: %v", err)
	}
	defer wsClient.Stop()

	// HTTP / 适配器
	apiClient := api.NewClient(cfg.API)
	transport := adapters.NewWSTransport(wsClient)
	// 订单签名由调用方注入（POLYMARKET_PRIVATE_KEY 等密钥不进本仓库）
	executor := adapters.NewClobExecutor(apiClient, nil)
	settlement := adapters.NewRelayerSettlement(apiClient)

	if cfg.Engine.AutoExecute {
		log.Warnf("⚠️ autoExecute 已开启但未注入订单签名器，下单会被 CLOB 拒绝")
	}

	eng, err := engine.New(transport, executor, settlement, cfg.Engine)
	if err != nil {
		log.Fatalf("引擎创建失败: %v", err)
	}
	eng.SetStatsStore(persistence.NewJSONFileService(cfg.DataDir).NewStore("stats", "engine", "cumulative"))
	registerObservers(eng, log)

	scanner := discovery.NewScanner(apiClient)
	sup := rotation.NewSupervisor(eng, scanner, executor, settlement)

	rotCfg, err := cfg.Rotation.ToRotation()
	if err != nil {
		log.Fatalf("rotation 配置无效: %v", err)
	}

	// 启动市场：扫描一个最早结束的候选
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	markets, err := scanner.ScanCryptoShortTermMarkets(ctx, discovery.Query{
		Underlyings:        rotCfg.Underlyings,
		Durations:          []time.Duration{rotCfg.Duration},
		MinMinutesUntilEnd: 5,
		MaxMinutesUntilEnd: 30,
		Limit:              1,
		SortBy:             discovery.SortByEndDate,
	})
	cancel()
	if err != nil || len(markets) == 0 {
		log.Fatalf("没有可监控的市场: %v", err)
	}
	if err := eng.Start(markets[0]); err != nil {
		log.Fatalf("引擎启动失败: %v", err)
	}
	logger.SetMarketSlug(markets[0].Slug)

	if cfg.Rotation.Enabled {
		if err := sup.EnableRotation(rotCfg); err != nil {
			log.Fatalf("轮换启用失败: %v", err)
		}
	}

	// SIGHUP 触发手动轮换（非阻塞合并）
	rotateSig := sigchan.New(1)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			rotateSig.Emit()
		}
	}()
	go func() {
		for range rotateSig.C() {
			log.Infof("收到 SIGHUP, 手动轮换")
			if err := sup.RotateNow(); err != nil {
				log.Errorf("手动轮换失败: %v", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infof("收到退出信号, 正在关闭...")
	sup.DisableRotation()
	eng.Stop()

	stats := eng.Statistics()
	log.Infof("📊 本次运行: rounds=%d completed=%d successful=%d expired=%d profit=%.2f",
		stats.RoundsMonitored, stats.RoundsCompleted, stats.RoundsSuccessful,
		stats.RoundsExpired, stats.TotalProfit)
}

// registerObservers 把出站事件接到日志上
func registerObservers(eng *engine.Engine, log *logrus.Entry) {
	bus := eng.Bus()
	bus.OnNewRound(func(e events.NewRoundEvent) {
		log.Infof("🆕 round=%s priceToBeat=%.2f up=%.3f down=%.3f", e.RoundID[:8], e.PriceToBeat, e.UpOpen, e.DownOpen)
	})
	bus.OnSignal(func(s engine.Signal) {
		log.Infof("📣 %s/%s side=%s price=%.3f target=%.3f", s.Type, s.Source, s.DipSide, s.CurrentPrice, s.TargetPrice)
	})
	bus.OnExecution(func(e events.ExecutionEvent) {
		if e.Success {
			log.Infof("✅ %s 成交 price=%.3f shares=%.0f (%v)", e.Leg, e.Price, e.Shares, e.Elapsed)
		} else {
			log.Warnf("❌ %s 失败: %s", e.Leg, e.Error)
		}
	})
	bus.OnRoundComplete(func(e events.RoundCompleteEvent) {
		log.Infof("🏁 round=%s status=%s cost=%.3f profit=%.2f merged=%v", e.RoundID[:8], e.Status, e.TotalCost, e.Profit, e.Merged)
	})
	bus.OnRotate(func(e events.RotateEvent) {
		log.Infof("🔁 rotate -> %s (reason=%s)", e.NewMarket.Slug, e.Reason)
	})
	bus.OnSettled(func(e events.SettledEvent) {
		log.Infof("💰 settled strategy=%s success=%v amount=%.2f", e.Strategy, e.Success, e.AmountReceived)
	})
	bus.OnError(func(err error) {
		log.Errorf("引擎错误: %v", err)
	})
}
