package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// 小時計每 36 秒累加一單位 (1/100 小時)
	hourMeterResolution = 36 * time.Second

	// 隨機漫步的固定步長
	defaultWalkStep = 25
)

// SimulationEngine 週期性產生模擬量測值的引擎
//
// 每個 tick 重算小時計，並對每個有配置範圍的暫存器做有界隨機漫步：
// 抽 [0,100) 的離散均勻值，<25 上調一步、<50 下調一步、其餘不動，
// 並夾在配置範圍內。沒有配置範圍的暫存器初始化後不再變動。
type SimulationEngine struct {
	mu sync.Mutex

	store *RegisterStore

	// 各位址上次的邏輯值，首個 tick 懶初始化為範圍中點
	lastValues map[uint16]int64

	interval time.Duration
	step     int64

	// 可注入的時鐘與亂數來源 (測試用)
	now  func() time.Time
	draw func(n int) int

	startTime time.Time
	running   atomic.Bool
	cancel    context.CancelFunc

	logger *zap.Logger
}

// SimOption 模擬引擎配置選項
type SimOption func(*SimulationEngine)

// WithTickInterval 設定更新週期
func WithTickInterval(d time.Duration) SimOption {
	return func(e *SimulationEngine) {
		e.interval = d
	}
}

// WithWalkStep 設定隨機漫步步長
func WithWalkStep(step int64) SimOption {
	return func(e *SimulationEngine) {
		e.step = step
	}
}

// WithClock 注入時鐘
func WithClock(now func() time.Time) SimOption {
	return func(e *SimulationEngine) {
		e.now = now
	}
}

// WithDraw 注入亂數來源
func WithDraw(draw func(n int) int) SimOption {
	return func(e *SimulationEngine) {
		e.draw = draw
	}
}

// WithSimLogger 設定日誌
func WithSimLogger(logger *zap.Logger) SimOption {
	return func(e *SimulationEngine) {
		e.logger = logger
	}
}

// NewSimulationEngine 建立模擬引擎
func NewSimulationEngine(store *RegisterStore, opts ...SimOption) *SimulationEngine {
	e := &SimulationEngine{
		store:      store,
		lastValues: make(map[uint16]int64),
		interval:   time.Second,
		step:       defaultWalkStep,
		now:        time.Now,
		draw:       rand.Intn,
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start 啟動週期更新
func (e *SimulationEngine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("模擬引擎已經在運行中")
	}

	e.mu.Lock()
	e.startTime = e.now()
	e.mu.Unlock()

	ctx, e.cancel = context.WithCancel(ctx)
	go e.run(ctx)

	e.logger.Info("模擬引擎已啟動",
		zap.Duration("interval", e.interval),
		zap.Int("varying_registers", len(e.store.Catalog().BoundedAddresses())),
	)
	return nil
}

// Stop 停止週期更新，進行中的協議請求不受影響
func (e *SimulationEngine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.logger.Info("模擬引擎已停止")
}

// Running 引擎是否在運行
func (e *SimulationEngine) Running() bool {
	return e.running.Load()
}

// run 定時器迴圈，一個 tick 完成後才排下一個，tick 之間不重疊
func (e *SimulationEngine) run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Step()
		}
	}
}

// Step 執行一次 tick：更新小時計並漫步所有有範圍的暫存器
func (e *SimulationEngine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.startTime.IsZero() {
		e.startTime = e.now()
	}

	e.updateHourMeter()

	for _, addr := range e.store.Catalog().BoundedAddresses() {
		e.updateVaryingRegister(addr)
	}
}

// updateHourMeter 由經過的牆鐘時間導出小時計
func (e *SimulationEngine) updateHourMeter() {
	elapsed := e.now().Sub(e.startTime)
	meter := int64(elapsed / hourMeterResolution)

	if err := e.store.WriteLogical(RegHourMeter, meter); err != nil {
		e.logger.Warn("更新小時計失敗", zap.Error(err))
	}
}

// updateVaryingRegister 對單一暫存器做一步有界隨機漫步
func (e *SimulationEngine) updateVaryingRegister(addr uint16) {
	bounds, ok := e.store.Catalog().BoundsOf(addr)
	if !ok {
		return
	}

	last, seen := e.lastValues[addr]
	if !seen {
		last = bounds.Midpoint()
	}

	p := e.draw(100)
	switch {
	case p < 25:
		last = min(bounds.Max, last+e.step)
	case p < 50:
		last = max(bounds.Min, last-e.step)
	}
	e.lastValues[addr] = last

	if err := e.store.WriteLogical(addr, last); err != nil {
		e.logger.Warn("更新暫存器失敗",
			zap.Uint16("address", addr),
			zap.Error(err),
		)
	}
}
