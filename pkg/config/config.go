// Package config 加载机器人 yaml 配置。
// 字段使用 camelCase tag；engine/rotation 段的默认值由对应模块的 Validate 填充，
// logging 段的默认值由 ToLogger 填充。
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/engine"
	"github.com/betbot/diparb/internal/events"
	"github.com/betbot/diparb/internal/rotation"
	"github.com/betbot/diparb/pkg/logger"
	"github.com/betbot/diparb/pkg/sdk/api"
)

// Logging 日志段
type Logging struct {
	Level      string `yaml:"level" json:"level"`
	OutputFile string `yaml:"outputFile" json:"outputFile"`
	MaxSize    int    `yaml:"maxSize" json:"maxSize"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAge     int    `yaml:"maxAge" json:"maxAge"`
	Compress   bool   `yaml:"compress" json:"compress"`
	LogByCycle bool   `yaml:"logByCycle" json:"logByCycle"`
}

// ToLogger 转成 logger.Config
func (l Logging) ToLogger() logger.Config {
	cfg := logger.Config{
		Level:      l.Level,
		OutputFile: l.OutputFile,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
		LogByCycle: l.LogByCycle,
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7
	}
	return cfg
}

// WS WebSocket 段
type WS struct {
	URL      string `yaml:"url" json:"url"`
	ProxyURL string `yaml:"proxyURL" json:"proxyURL"`
}

// Rotation 轮换段（yaml 友好形式）
type Rotation struct {
	Enabled                    bool     `yaml:"enabled" json:"enabled"`
	Underlyings                []string `yaml:"underlyings" json:"underlyings"`
	Duration                   string   `yaml:"duration" json:"duration"` // "5m" | "15m"
	PreloadMinutes             float64  `yaml:"preloadMinutes" json:"preloadMinutes"`
	AutoSettle                 *bool    `yaml:"autoSettle" json:"autoSettle"`
	SettleStrategy             string   `yaml:"settleStrategy" json:"settleStrategy"` // redeem | sell
	RedeemWaitMinutes          float64  `yaml:"redeemWaitMinutes" json:"redeemWaitMinutes"`
	RedeemRetryIntervalSeconds int      `yaml:"redeemRetryIntervalSeconds" json:"redeemRetryIntervalSeconds"`
}

// ToRotation 转成 rotation.Config
func (r Rotation) ToRotation() (rotation.Config, error) {
	cfg := rotation.Config{
		PreloadMinutes:             r.PreloadMinutes,
		AutoSettle:                 r.AutoSettle,
		RedeemWaitMinutes:          r.RedeemWaitMinutes,
		RedeemRetryIntervalSeconds: r.RedeemRetryIntervalSeconds,
	}
	for _, u := range r.Underlyings {
		parsed, ok := domain.ParseUnderlying(u)
		if !ok {
			return cfg, errors.Errorf("不支持的 underlying: %q", u)
		}
		cfg.Underlyings = append(cfg.Underlyings, parsed)
	}
	switch r.Duration {
	case "", "15m":
		cfg.Duration = 15 * time.Minute
	case "5m":
		cfg.Duration = 5 * time.Minute
	default:
		return cfg, errors.Errorf("不支持的 duration: %q（支持 5m/15m）", r.Duration)
	}
	switch r.SettleStrategy {
	case "", "redeem":
		cfg.SettleStrategy = events.SettleRedeem
	case "sell":
		cfg.SettleStrategy = events.SettleSell
	default:
		return cfg, errors.Errorf("不支持的 settleStrategy: %q", r.SettleStrategy)
	}
	return cfg, cfg.Validate()
}

// Config 机器人总配置
type Config struct {
	Logging  Logging        `yaml:"logging" json:"logging"`
	API      api.Config     `yaml:"api" json:"api"`
	WS       WS             `yaml:"ws" json:"ws"`
	Engine   engine.Options `yaml:"engine" json:"engine"`
	Rotation Rotation       `yaml:"rotation" json:"rotation"`
	// DataDir 持久化目录
	DataDir string `yaml:"dataDir" json:"dataDir"`
}

// Load 读取并校验配置文件
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取配置失败: %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "解析配置失败: %s", path)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, errors.Wrap(err, "engine 配置无效")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	return &cfg, nil
}
