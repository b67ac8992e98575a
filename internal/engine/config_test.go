package engine

import "testing"

// TestOptionsDefaults 配置默认值
func TestOptionsDefaults(t *testing.T) {
	opts := Options{}
	if err := opts.Validate(); err != nil {
		t.Fatalf("空配置应通过校验: %v", err)
	}
	if opts.Shares != 20 {
		t.Errorf("Shares 默认值应为 20, 实际为 %.0f", opts.Shares)
	}
	if opts.SumTarget != 0.95 {
		t.Errorf("SumTarget 默认值应为 0.95, 实际为 %.2f", opts.SumTarget)
	}
	if opts.DipThreshold != 0.15 {
		t.Errorf("DipThreshold 默认值应为 0.15, 实际为 %.2f", opts.DipThreshold)
	}
	if opts.SurgeThreshold != 0.15 {
		t.Errorf("SurgeThreshold 默认值应为 0.15, 实际为 %.2f", opts.SurgeThreshold)
	}
	if opts.SlidingWindowMs != 3000 {
		t.Errorf("SlidingWindowMs 默认值应为 3000, 实际为 %d", opts.SlidingWindowMs)
	}
	if opts.WindowMinutes != 2 {
		t.Errorf("WindowMinutes 默认值应为 2, 实际为 %.0f", opts.WindowMinutes)
	}
	if opts.MaxSlippage != 0.02 {
		t.Errorf("MaxSlippage 默认值应为 0.02, 实际为 %.2f", opts.MaxSlippage)
	}
	if opts.MinProfitRate != 0.03 {
		t.Errorf("MinProfitRate 默认值应为 0.03, 实际为 %.2f", opts.MinProfitRate)
	}
	if opts.Leg2TimeoutSeconds != 300 {
		t.Errorf("Leg2TimeoutSeconds 默认值应为 300, 实际为 %d", opts.Leg2TimeoutSeconds)
	}
	if opts.ExecutionCooldownMs != 3000 {
		t.Errorf("ExecutionCooldownMs 默认值应为 3000, 实际为 %d", opts.ExecutionCooldownMs)
	}
	if opts.AutoExecute {
		t.Error("AutoExecute 默认应为 false")
	}
	if !opts.surgeEnabled() {
		t.Error("EnableSurge 默认应为 true")
	}
	if !opts.mergeEnabled() {
		t.Error("AutoMerge 默认应为 true")
	}
}

// TestOptionsValidation 非法配置
func TestOptionsValidation(t *testing.T) {
	bad := Options{SumTarget: 1.2}
	if err := bad.Validate(); err == nil {
		t.Error("sumTarget >= 1 应校验失败")
	}
	bad = Options{DipThreshold: 1.5}
	if err := bad.Validate(); err == nil {
		t.Error("dipThreshold > 1 应校验失败")
	}
	bad = Options{MaxSlippage: 0.9}
	if err := bad.Validate(); err == nil {
		t.Error("过大的 maxSlippage 应校验失败")
	}
}

// TestSetWindowMinutes 显式清零与缺省的区分
func TestSetWindowMinutes(t *testing.T) {
	opts := Options{}
	opts.SetWindowMinutes(0)
	opts.ApplyDefaults()
	if opts.WindowMinutes != 0 {
		t.Errorf("显式设 0 不应被默认值覆盖, 实际为 %.0f", opts.WindowMinutes)
	}
}
