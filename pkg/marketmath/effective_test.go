package marketmath

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGetEffectivePrices(t *testing.T) {
	tob := TopOfBook{
		YesBid: 0.55,
		YesAsk: 0.56,
		NoBid:  0.47,
		NoAsk:  0.48,
	}
	eff, err := GetEffectivePrices(tob)
	if err != nil {
		t.Fatalf("GetEffectivePrices error: %v", err)
	}
	// effectiveBuyYes = min(0.56, 1-0.47=0.53) => 0.53
	if !almostEqual(eff.EffectiveBuyYes, 0.53) {
		t.Fatalf("EffectiveBuyYes got=%f want=%f", eff.EffectiveBuyYes, 0.53)
	}
	// effectiveBuyNo = min(0.48, 1-0.55=0.45) => 0.45
	if !almostEqual(eff.EffectiveBuyNo, 0.45) {
		t.Fatalf("EffectiveBuyNo got=%f want=%f", eff.EffectiveBuyNo, 0.45)
	}
	// effectiveSellYes = max(0.55, 1-0.48=0.52) => 0.55
	if !almostEqual(eff.EffectiveSellYes, 0.55) {
		t.Fatalf("EffectiveSellYes got=%f want=%f", eff.EffectiveSellYes, 0.55)
	}
	// effectiveSellNo = max(0.47, 1-0.56=0.44) => 0.47
	if !almostEqual(eff.EffectiveSellNo, 0.47) {
		t.Fatalf("EffectiveSellNo got=%f want=%f", eff.EffectiveSellNo, 0.47)
	}
}

func TestGetEffectivePrices_MirrorDominates(t *testing.T) {
	// yesAsk=0.60, noBid=0.35 => effectiveBuyYes = min(0.60, 0.65) = 0.60
	// noAsk=0.50, yesBid=0.45 => effectiveBuyNo = min(0.50, 0.55) = 0.50
	tob := TopOfBook{YesBid: 0.45, YesAsk: 0.60, NoBid: 0.35, NoAsk: 0.50}
	eff, err := GetEffectivePrices(tob)
	if err != nil {
		t.Fatalf("GetEffectivePrices error: %v", err)
	}
	if !almostEqual(eff.EffectiveBuyYes, 0.60) {
		t.Fatalf("EffectiveBuyYes got=%f want=0.60", eff.EffectiveBuyYes)
	}
	if !almostEqual(eff.EffectiveBuyNo, 0.50) {
		t.Fatalf("EffectiveBuyNo got=%f want=0.50", eff.EffectiveBuyNo)
	}
	// 总成本 1.10，没有套利机会
	arb, err := CheckArbitrage(tob, 0.005)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb != nil {
		t.Fatalf("不应该有套利机会, got %+v", arb)
	}
}

func TestCheckArbitrage_Long(t *testing.T) {
	// yesAsk=0.45, noAsk=0.50, noBid=0.45, yesBid=0.40
	// effectiveBuyYes = min(0.45, 1-0.45=0.55) = 0.45
	// effectiveBuyNo  = min(0.50, 1-0.40=0.60) = 0.50
	// longArbProfit = 1 - 0.95 = 0.05 > 0.005 => long
	tob := TopOfBook{YesBid: 0.40, YesAsk: 0.45, NoBid: 0.45, NoAsk: 0.50}
	arb, err := CheckArbitrage(tob, 0.005)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb == nil || arb.Type != ArbitrageLong {
		t.Fatalf("expected long arb, got %+v", arb)
	}
	if !almostEqual(arb.Profit, 0.05) {
		t.Fatalf("profit got=%f want=%f", arb.Profit, 0.05)
	}
	if arb.Action == "" {
		t.Fatalf("action string 不应为空")
	}
}

func TestCheckArbitrage_Short(t *testing.T) {
	// 卖出收益超过 1：yesBid=0.55, noBid=0.52
	tob := TopOfBook{YesBid: 0.55, YesAsk: 0.60, NoBid: 0.52, NoAsk: 0.56}
	arb, err := CheckArbitrage(tob, 0.005)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb == nil || arb.Type != ArbitrageShort {
		t.Fatalf("expected short arb, got %+v", arb)
	}
	// sellYes = max(0.55, 1-0.56=0.44)=0.55, sellNo = max(0.52, 1-0.60=0.40)=0.52
	if !almostEqual(arb.Profit, 0.07) {
		t.Fatalf("profit got=%f want=%f", arb.Profit, 0.07)
	}
}

func TestCheckArbitrage_BelowThreshold(t *testing.T) {
	// profit 0.004 低于默认阈值 0.005
	tob := TopOfBook{YesBid: 0.49, YesAsk: 0.498, NoBid: 0.49, NoAsk: 0.498}
	arb, err := CheckArbitrage(tob, 0)
	if err != nil {
		t.Fatalf("CheckArbitrage error: %v", err)
	}
	if arb != nil {
		t.Fatalf("低于阈值不应报机会, got %+v", arb)
	}
}

func TestValidate_Empty(t *testing.T) {
	if err := (TopOfBook{}).Validate(); err == nil {
		t.Fatal("全空盘口应该校验失败")
	}
	if err := (TopOfBook{YesAsk: 1.2}).Validate(); err == nil {
		t.Fatal("越界价格应该校验失败")
	}
}

func TestImbalanceRatio(t *testing.T) {
	r := ImbalanceRatio(100, 50)
	if math.Abs(r-2.0) > 1e-6 {
		t.Fatalf("imbalance got=%f want≈2.0", r)
	}
	// ask 深度为 0 时不 panic
	if ImbalanceRatio(1, 0) <= 0 {
		t.Fatal("ask 深度为 0 时应返回正值")
	}
}
