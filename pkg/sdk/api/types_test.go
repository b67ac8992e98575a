package api

import (
	"encoding/json"
	"testing"
)

func TestNumeric(t *testing.T) {
	var v struct {
		A Numeric `json:"a"`
		B Numeric `json:"b"`
		C Numeric `json:"c"`
		D Numeric `json:"d"`
	}
	raw := []byte(`{"a": 1.5, "b": "2.5", "c": null, "d": ""}`)
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if v.A.Float64() != 1.5 {
		t.Errorf("数字形式 got=%f", v.A.Float64())
	}
	if v.B.Float64() != 2.5 {
		t.Errorf("字符串形式 got=%f", v.B.Float64())
	}
	if v.C.Float64() != 0 || v.D.Float64() != 0 {
		t.Errorf("null/空串应为 0")
	}
}

func TestGammaMarket_TokenIDs(t *testing.T) {
	m := &GammaMarket{ClobTokenIds: `["tok-a","tok-b"]`, Outcomes: `["Up","Down"]`}
	ids, err := m.TokenIDs()
	if err != nil || len(ids) != 2 || ids[0] != "tok-a" {
		t.Fatalf("tokenIDs 解析失败: %v %v", ids, err)
	}
	names := m.OutcomeNames()
	if len(names) != 2 || names[1] != "Down" {
		t.Fatalf("outcomes 解析失败: %v", names)
	}
}

func TestGammaMarket_IsTradable(t *testing.T) {
	yes, no := true, false
	if (&GammaMarket{Active: &no}).IsTradable() {
		t.Error("inactive 不可交易")
	}
	if (&GammaMarket{Closed: &yes}).IsTradable() {
		t.Error("closed 不可交易")
	}
	if !(&GammaMarket{Active: &yes}).IsTradable() {
		t.Error("active 且未 closed 应可交易")
	}
}

func TestRoundQuoteAmount(t *testing.T) {
	if got := RoundQuoteAmount(7.141); got != 7.14 {
		t.Errorf("应向下取整到分, got=%f", got)
	}
	if got := RoundQuoteAmount(7.149999); got != 7.14 {
		t.Errorf("got=%f", got)
	}
}

func TestNormalizeConditionID(t *testing.T) {
	in := "0xABCDEF0000000000000000000000000000000000000000000000000000000001"
	out, err := NormalizeConditionID(in)
	if err != nil {
		t.Fatalf("合法 conditionID 被拒绝: %v", err)
	}
	if out != "0xabcdef0000000000000000000000000000000000000000000000000000000001" {
		t.Fatalf("应归一化为小写 hex, got=%s", out)
	}
	if _, err := NormalizeConditionID("abc"); err == nil {
		t.Fatal("非法 conditionID 应报错")
	}
}
