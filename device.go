package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DeviceIdentity 裝置識別字串，連線識別時透傳給協議層
type DeviceIdentity struct {
	Vendor  string `json:"vendor" mapstructure:"vendor"`
	Product string `json:"product" mapstructure:"product"`
	Model   string `json:"model" mapstructure:"model"`
}

// DefaultIdentity Socomec Diris A40 的出廠識別
func DefaultIdentity() DeviceIdentity {
	return DeviceIdentity{
		Vendor:  "Socomec",
		Product: "Diris",
		Model:   "A40",
	}
}

// wordBlock 單一暫存器家族的字組儲存能力
type wordBlock interface {
	Validate(addr uint16, count int) bool
	Read(addr uint16, count int) ([]uint16, error)
	Write(addr uint16, values []uint16) error
}

// stubBlock 固定單元素的儲存區
// A40 只有保持暫存器有模擬內容，其餘三個家族各以一個元素打發
type stubBlock struct {
	mu    sync.RWMutex
	words []uint16
}

func newStubBlock() *stubBlock {
	return &stubBlock{words: []uint16{1}}
}

func (b *stubBlock) Validate(addr uint16, count int) bool {
	return count > 0 && int(addr)+count <= len(b.words)
}

func (b *stubBlock) Read(addr uint16, count int) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	end := int(addr) + count
	if end > len(b.words) {
		return nil, fmt.Errorf("位址超出範圍: %d-%d", addr, end-1)
	}
	result := make([]uint16, count)
	copy(result, b.words[addr:end])
	return result, nil
}

func (b *stubBlock) Write(addr uint16, values []uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := int(addr) + len(values)
	if end > len(b.words) {
		return fmt.Errorf("位址超出範圍: %d-%d", addr, end-1)
	}
	copy(b.words[addr:end], values)
	return nil
}

// Device 單一模擬 A40 裝置
//
// 對協議層呈現四個暫存器家族，並負責 A40 的位址編號慣例。
// A40 把部分暫存器從 1 起算，偏離 Modbus 規範 4.4 節的 0 起算慣例；
// 位移補償集中保留在本型別的三個入口，目前刻意停用 (位址原樣透傳)，
// 既有的客戶端軟體已在外部自行補償。
type Device struct {
	UnitID   uint8
	Identity DeviceIdentity

	holding *RegisterStore
	blocks  map[RegisterKind]wordBlock

	engine  *SimulationEngine
	simOpts []SimOption
	logger  *zap.Logger
}

// DeviceOption 裝置配置選項
type DeviceOption func(*Device)

// WithIdentity 設定裝置識別
func WithIdentity(id DeviceIdentity) DeviceOption {
	return func(d *Device) {
		d.Identity = id
	}
}

// WithDeviceLogger 設定日誌
func WithDeviceLogger(logger *zap.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = logger
	}
}

// WithSimulation 轉交模擬引擎選項
func WithSimulation(opts ...SimOption) DeviceOption {
	return func(d *Device) {
		d.simOpts = append(d.simOpts, opts...)
	}
}

// NewDevice 建立模擬裝置並播種其暫存器
func NewDevice(unitID uint8, catalog *RegisterCatalog, opts ...DeviceOption) (*Device, error) {
	store, err := NewRegisterStore(catalog)
	if err != nil {
		return nil, fmt.Errorf("建立暫存器儲存區失敗: %w", err)
	}

	d := &Device{
		UnitID:   unitID,
		Identity: DefaultIdentity(),
		holding:  store,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.blocks = map[RegisterKind]wordBlock{
		KindCoil:            newStubBlock(),
		KindDiscreteInput:   newStubBlock(),
		KindInputRegister:   newStubBlock(),
		KindHoldingRegister: store,
	}

	simOpts := append([]SimOption{WithSimLogger(d.logger)}, d.simOpts...)
	d.engine = NewSimulationEngine(store, simOpts...)

	return d, nil
}

// Start 啟動裝置的模擬更新
func (d *Device) Start(ctx context.Context) error {
	return d.engine.Start(ctx)
}

// Stop 停止模擬更新，進行中的請求不受影響
func (d *Device) Stop() {
	d.engine.Stop()
}

// Validate 檢查請求範圍是否在對應家族的儲存區內
func (d *Device) Validate(kind RegisterKind, addr uint16, count int) bool {
	// addr = addr + 1  // Modbus 規範 4.4 節的位移補償，刻意停用
	d.logger.Debug("validate",
		zap.Stringer("kind", kind),
		zap.Uint16("address", addr),
		zap.Int("count", count),
	)
	return d.blocks[kind].Validate(addr, count)
}

// Read 讀取對應家族的字組
func (d *Device) Read(kind RegisterKind, addr uint16, count int) ([]uint16, error) {
	// addr = addr + 1  // Modbus 規範 4.4 節的位移補償，刻意停用
	d.logger.Debug("read",
		zap.Stringer("kind", kind),
		zap.Uint16("address", addr),
		zap.Int("count", count),
	)
	return d.blocks[kind].Read(addr, count)
}

// Write 寫入對應家族的字組，範圍檢查是呼叫端的責任
func (d *Device) Write(kind RegisterKind, addr uint16, values []uint16) error {
	// addr = addr + 1  // Modbus 規範 4.4 節的位移補償，刻意停用
	d.logger.Debug("write",
		zap.Stringer("kind", kind),
		zap.Uint16("address", addr),
		zap.Int("count", len(values)),
	)
	return d.blocks[kind].Write(addr, values)
}

// Store 保持暫存器儲存區
func (d *Device) Store() *RegisterStore {
	return d.holding
}

// Engine 裝置的模擬引擎
func (d *Device) Engine() *SimulationEngine {
	return d.engine
}
