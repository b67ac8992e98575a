package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Options 引擎配置。通过 Configure 整体原子替换。
type Options struct {
	// Shares 每条腿的 share 数量
	Shares float64 `yaml:"shares" json:"shares"`
	// SumTarget leg1.price + leg2.price 的可接受上限
	SumTarget float64 `yaml:"sumTarget" json:"sumTarget"`
	// DipThreshold 瞬时下跌比例阈值
	DipThreshold float64 `yaml:"dipThreshold" json:"dipThreshold"`
	// SurgeThreshold 瞬时上涨比例阈值
	SurgeThreshold float64 `yaml:"surgeThreshold" json:"surgeThreshold"`
	// SlidingWindowMs 滑动窗口长度（毫秒）。窗口必须足够短，
	// 才能把流动性冲击（情绪性抛售，通常 <=3s）和趋势行情区分开。
	SlidingWindowMs int `yaml:"slidingWindowMs" json:"slidingWindowMs"`
	// WindowMinutes 开轮后允许 Leg1 进场的窗口（分钟）
	WindowMinutes float64 `yaml:"windowMinutes" json:"windowMinutes"`
	// MaxSlippage 下单价相对盘口的滑点余量
	MaxSlippage float64 `yaml:"maxSlippage" json:"maxSlippage"`
	// MinProfitRate 最低可接受利润率
	MinProfitRate float64 `yaml:"minProfitRate" json:"minProfitRate"`
	// Leg2TimeoutSeconds Leg1 成交后等待对冲的超时（秒）
	Leg2TimeoutSeconds int `yaml:"leg2TimeoutSeconds" json:"leg2TimeoutSeconds"`
	// ExecutionCooldownMs 两次执行之间的最小间隔（毫秒）
	ExecutionCooldownMs int `yaml:"executionCooldownMs" json:"executionCooldownMs"`
	// AutoExecute 检测到信号后是否自动下单
	AutoExecute bool `yaml:"autoExecute" json:"autoExecute"`
	// EnableSurge 是否启用 surge 检测
	EnableSurge *bool `yaml:"enableSurge" json:"enableSurge"`
	// AutoMerge Leg2 成交后是否自动 merge
	AutoMerge *bool `yaml:"autoMerge" json:"autoMerge"`
	// WarmupMs 订阅后的预热期（毫秒），预热期内不发信号，
	// 避免刚连上 WS 时的脏快照误触发。0 表示关闭。
	WarmupMs int `yaml:"warmupMs" json:"warmupMs"`
	// MaxBuyPriceCents 买入价硬上限（分，0 表示关闭）
	MaxBuyPriceCents int `yaml:"maxBuyPriceCents" json:"maxBuyPriceCents"`
	// MaxSpreadCents 盘口价差上限（分，0 表示关闭）
	MaxSpreadCents int `yaml:"maxSpreadCents" json:"maxSpreadCents"`

	Debug   bool          `yaml:"debug" json:"debug"`
	LogSink *logrus.Entry `yaml:"-" json:"-"`

	// windowMinutesSet 区分“未设置”与“显式设为 0”（windowMinutes=0 时
	// 开轮后任何 tick 都不允许 Leg1）。yaml 解码无法区分两者，
	// 调用方通过 SetWindowMinutes 显式清零。
	windowMinutesSet bool
}

// ApplyDefaults 填充默认值
func (o *Options) ApplyDefaults() {
	if o.Shares <= 0 {
		o.Shares = 20
	}
	if o.SumTarget <= 0 {
		o.SumTarget = 0.95
	}
	if o.DipThreshold <= 0 {
		o.DipThreshold = 0.15
	}
	if o.SurgeThreshold <= 0 {
		o.SurgeThreshold = 0.15
	}
	if o.SlidingWindowMs <= 0 {
		o.SlidingWindowMs = 3000
	}
	if o.WindowMinutes < 0 || (o.WindowMinutes == 0 && !o.windowMinutesSet) {
		o.WindowMinutes = 2
	}
	if o.MaxSlippage <= 0 {
		o.MaxSlippage = 0.02
	}
	if o.MinProfitRate <= 0 {
		o.MinProfitRate = 0.03
	}
	if o.Leg2TimeoutSeconds <= 0 {
		o.Leg2TimeoutSeconds = 300
	}
	if o.ExecutionCooldownMs <= 0 {
		o.ExecutionCooldownMs = 3000
	}
	if o.EnableSurge == nil {
		def := true
		o.EnableSurge = &def
	}
	if o.AutoMerge == nil {
		def := true
		o.AutoMerge = &def
	}
}

// SetWindowMinutes 显式设置 Leg1 进场窗口（包括 0）。
func (o *Options) SetWindowMinutes(v float64) {
	o.WindowMinutes = v
	o.windowMinutesSet = true
}

// Validate 校验配置
func (o *Options) Validate() error {
	if o == nil {
		return fmt.Errorf("options 不能为空")
	}
	o.ApplyDefaults()
	if o.SumTarget >= 1 {
		return fmt.Errorf("sumTarget 必须 < 1, got %f", o.SumTarget)
	}
	if o.DipThreshold > 1 {
		return fmt.Errorf("dipThreshold 必须 <= 1, got %f", o.DipThreshold)
	}
	if o.MaxSlippage >= 0.5 {
		return fmt.Errorf("maxSlippage 过大: %f", o.MaxSlippage)
	}
	return nil
}

func (o Options) surgeEnabled() bool { return o.EnableSurge == nil || *o.EnableSurge }
func (o Options) mergeEnabled() bool { return o.AutoMerge == nil || *o.AutoMerge }
