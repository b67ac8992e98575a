package history

import (
	"testing"
	"time"
)

func TestRingEviction(t *testing.T) {
	r := NewRing(3)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		r.Append(Point{Time: base.Add(time.Duration(i) * time.Second), UpAsk: float64(i)})
	}
	if r.Len() != 3 {
		t.Fatalf("容量 3 的环应保留 3 条, got %d", r.Len())
	}
	// 最老的应该是 i=2
	if got := r.At(0).UpAsk; got != 2 {
		t.Fatalf("最老记录应为 2, got %f", got)
	}
	latest, ok := r.Latest()
	if !ok || latest.UpAsk != 4 {
		t.Fatalf("最新记录应为 4, got %+v ok=%v", latest, ok)
	}
}

func TestRefAt(t *testing.T) {
	r := NewRing(10)
	base := time.Unix(1_700_000_000, 0)
	r.Append(Point{Time: base, UpAsk: 0.50})
	r.Append(Point{Time: base.Add(2 * time.Second), UpAsk: 0.45})
	r.Append(Point{Time: base.Add(4 * time.Second), UpAsk: 0.40})

	// cutoff = base+3s -> 应命中 base+2s 那条
	ref, ok := r.RefAt(base.Add(3 * time.Second))
	if !ok {
		t.Fatal("应该找到参考点")
	}
	if ref.UpAsk != 0.45 {
		t.Fatalf("参考点应为 0.45, got %f", ref.UpAsk)
	}

	// cutoff 早于最老记录 -> 无参考点
	if _, ok := r.RefAt(base.Add(-time.Second)); ok {
		t.Fatal("窗口超出历史时不应返回参考点")
	}
}

func TestReset(t *testing.T) {
	r := NewRing(4)
	r.Append(Point{Time: time.Now(), UpAsk: 1})
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Reset 后应为空, got %d", r.Len())
	}
	if _, ok := r.Latest(); ok {
		t.Fatal("Reset 后不应有最新记录")
	}
}
