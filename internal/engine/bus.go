package engine

import (
	"sync"

	"github.com/betbot/diparb/internal/domain"
	"github.com/betbot/diparb/internal/events"
)

// Bus 显式观察者集合：按事件类型保存回调列表，逐个调用。
// 回调只收到纯事件数据，不会拿到引擎实例。
type Bus struct {
	mu sync.RWMutex

	started       []func(*domain.Market)
	stopped       []func()
	newRound      []func(events.NewRoundEvent)
	signal        []func(Signal)
	execution     []func(events.ExecutionEvent)
	roundComplete []func(events.RoundCompleteEvent)
	priceUpdate   []func(events.PriceUpdateEvent)
	rotate        []func(events.RotateEvent)
	settled       []func(events.SettledEvent)
	errs          []func(error)
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) OnStarted(fn func(*domain.Market)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, fn)
}

func (b *Bus) OnStopped(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, fn)
}

func (b *Bus) OnNewRound(fn func(events.NewRoundEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newRound = append(b.newRound, fn)
}

func (b *Bus) OnSignal(fn func(Signal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signal = append(b.signal, fn)
}

func (b *Bus) OnExecution(fn func(events.ExecutionEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execution = append(b.execution, fn)
}

func (b *Bus) OnRoundComplete(fn func(events.RoundCompleteEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roundComplete = append(b.roundComplete, fn)
}

func (b *Bus) OnPriceUpdate(fn func(events.PriceUpdateEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priceUpdate = append(b.priceUpdate, fn)
}

func (b *Bus) OnRotate(fn func(events.RotateEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rotate = append(b.rotate, fn)
}

func (b *Bus) OnSettled(fn func(events.SettledEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settled = append(b.settled, fn)
}

func (b *Bus) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, fn)
}

func (b *Bus) emitStarted(m *domain.Market) {
	b.mu.RLock()
	fns := b.started
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (b *Bus) emitStopped() {
	b.mu.RLock()
	fns := b.stopped
	b.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *Bus) emitNewRound(e events.NewRoundEvent) {
	b.mu.RLock()
	fns := b.newRound
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (b *Bus) emitSignal(s Signal) {
	b.mu.RLock()
	fns := b.signal
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (b *Bus) emitExecution(e events.ExecutionEvent) {
	b.mu.RLock()
	fns := b.execution
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (b *Bus) emitRoundComplete(e events.RoundCompleteEvent) {
	b.mu.RLock()
	fns := b.roundComplete
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (b *Bus) emitPriceUpdate(e events.PriceUpdateEvent) {
	b.mu.RLock()
	fns := b.priceUpdate
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// EmitRotate 由 supervisor 调用
func (b *Bus) EmitRotate(e events.RotateEvent) {
	b.mu.RLock()
	fns := b.rotate
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// EmitSettled 由 supervisor 调用
func (b *Bus) EmitSettled(e events.SettledEvent) {
	b.mu.RLock()
	fns := b.settled
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (b *Bus) emitError(err error) {
	b.mu.RLock()
	fns := b.errs
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}
