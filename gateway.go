package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// GatewayState 閘道器狀態
type GatewayState int32

const (
	GatewayStateStopped GatewayState = iota
	GatewayStateStarting
	GatewayStateRunning
	GatewayStateStopping
)

func (s GatewayState) String() string {
	switch s {
	case GatewayStateStopped:
		return "stopped"
	case GatewayStateStarting:
		return "starting"
	case GatewayStateRunning:
		return "running"
	case GatewayStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway Modbus TCP 閘道器
//
// 在單一 TCP 端點後面多工數個模擬 A40 裝置，以 MBAP 的 unit
// identifier 分派請求。同時連線數有固定上限，超出者直接拒絕。
type Gateway struct {
	mu sync.RWMutex

	config *Config

	state atomic.Int32

	devices map[uint8]*Device
	handler *RequestHandler

	listener net.Listener
	conns    map[net.Conn]struct{}
	connWG   sync.WaitGroup
	connSem  chan struct{}

	cancel context.CancelFunc

	stats GatewayStats

	logger *zap.Logger
}

// GatewayStats 閘道器統計資訊
type GatewayStats struct {
	StartTime           time.Time
	RequestCount        atomic.Uint64
	ErrorCount          atomic.Uint64
	BytesReceived       atomic.Uint64
	BytesSent           atomic.Uint64
	ActiveConnections   atomic.Int64
	RejectedConnections atomic.Uint64
}

// NewGateway 建立閘道器
func NewGateway(config *Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		config:  config,
		devices: make(map[uint8]*Device),
		handler: NewRequestHandler(logger),
		conns:   make(map[net.Conn]struct{}),
		logger:  logger,
	}
}

// Start 建立模擬裝置並開始監聽
// 目錄配置缺陷 (不支援的寬度、重疊的字組) 在此即失敗，不降級運行
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(GatewayStateStopped), int32(GatewayStateStarting)) {
		return fmt.Errorf("閘道器已經在運行中")
	}

	catalog, err := NewA40Catalog()
	if err != nil {
		g.state.Store(int32(GatewayStateStopped))
		return fmt.Errorf("建立暫存器目錄失敗: %w", err)
	}

	ctx, g.cancel = context.WithCancel(ctx)

	unitIDs := g.config.Devices.UnitIDs
	if g.config.Devices.Single {
		unitIDs = unitIDs[:1]
	}

	simOpts := []SimOption{
		WithTickInterval(g.config.Simulation.TickInterval),
		WithWalkStep(g.config.Simulation.WalkStep),
	}

	for _, unitID := range unitIDs {
		dev, err := NewDevice(unitID, catalog,
			WithIdentity(g.config.Identity),
			WithDeviceLogger(g.logger.With(zap.Uint8("unit_id", unitID))),
			WithSimulation(simOpts...),
		)
		if err != nil {
			g.stopDevices()
			g.state.Store(int32(GatewayStateStopped))
			return fmt.Errorf("建立裝置 (unit %d) 失敗: %w", unitID, err)
		}

		if err := dev.Start(ctx); err != nil {
			g.stopDevices()
			g.state.Store(int32(GatewayStateStopped))
			return fmt.Errorf("啟動裝置 (unit %d) 失敗: %w", unitID, err)
		}

		g.mu.Lock()
		g.devices[unitID] = dev
		g.mu.Unlock()
	}

	addr := fmt.Sprintf("%s:%d", g.config.Server.ListenAddress, g.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		g.stopDevices()
		g.state.Store(int32(GatewayStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", addr, err)
	}
	g.listener = listener
	g.connSem = make(chan struct{}, g.config.Server.MaxConnections)

	g.stats.StartTime = time.Now()
	g.state.Store(int32(GatewayStateRunning))

	go g.acceptLoop(ctx)

	g.logger.Info("閘道器已啟動",
		zap.String("addr", addr),
		zap.Int("devices", len(unitIDs)),
		zap.Int("max_connections", g.config.Server.MaxConnections),
		zap.String("vendor", g.config.Identity.Vendor),
		zap.String("product", g.config.Identity.Product),
		zap.String("model", g.config.Identity.Model),
	)

	return nil
}

// Stop 停止閘道器，先停模擬更新再收斂連線
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(GatewayStateRunning), int32(GatewayStateStopping)) {
		return nil
	}

	g.stopDevices()

	if g.cancel != nil {
		g.cancel()
	}
	if g.listener != nil {
		_ = g.listener.Close()
	}

	g.mu.Lock()
	for conn := range g.conns {
		_ = conn.Close()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("停止閘道器超時")
	}

	g.state.Store(int32(GatewayStateStopped))

	g.logger.Info("閘道器已停止",
		zap.Duration("uptime", time.Since(g.stats.StartTime)),
		zap.Uint64("requests", g.stats.RequestCount.Load()),
	)
	return nil
}

func (g *Gateway) stopDevices() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, dev := range g.devices {
		dev.Stop()
	}
}

// State 取得當前狀態
func (g *Gateway) State() GatewayState {
	return GatewayState(g.state.Load())
}

// Stats 取得統計資訊
func (g *Gateway) Stats() *GatewayStats {
	return &g.stats
}

// Device 取得指定 unit id 的裝置
func (g *Gateway) Device(unitID uint8) (*Device, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.config.Devices.Single {
		for _, dev := range g.devices {
			return dev, true
		}
		return nil, false
	}

	dev, ok := g.devices[unitID]
	return dev, ok
}

// ListDevices 列出所有裝置
func (g *Gateway) ListDevices() []*Device {
	g.mu.RLock()
	defer g.mu.RUnlock()

	devices := make([]*Device, 0, len(g.devices))
	for _, dev := range g.devices {
		devices = append(devices, dev)
	}
	return devices
}

// acceptLoop 接受連線，超出上限者直接拒絕
func (g *Gateway) acceptLoop(ctx context.Context) {
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			g.logger.Warn("接受連線失敗", zap.Error(err))
			continue
		}

		select {
		case g.connSem <- struct{}{}:
		default:
			g.stats.RejectedConnections.Add(1)
			g.logger.Warn("連線數已達上限，拒絕連線",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Int("limit", g.config.Server.MaxConnections),
			)
			_ = conn.Close()
			continue
		}

		g.mu.Lock()
		g.conns[conn] = struct{}{}
		g.mu.Unlock()
		g.stats.ActiveConnections.Add(1)

		g.connWG.Add(1)
		go g.serveConn(ctx, conn)
	}
}

// serveConn 處理單一連線上的請求序列
func (g *Gateway) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
		g.stats.ActiveConnections.Add(-1)
		<-g.connSem
		g.connWG.Done()
	}()

	logger := g.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Debug("連線已建立")

	for {
		if ctx.Err() != nil {
			return
		}

		if g.config.Server.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(g.config.Server.ReadTimeout))
		}

		packet, err := readMBAPFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("讀取請求失敗", zap.Error(err))
			}
			return
		}

		frame, err := mbserver.NewTCPFrame(packet)
		if err != nil {
			g.stats.ErrorCount.Add(1)
			logger.Debug("解析框架失敗", zap.Error(err))
			return
		}

		response := g.dispatch(frame)

		if g.config.Server.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(g.config.Server.WriteTimeout))
		}

		out := response.Bytes()
		if _, err := conn.Write(out); err != nil {
			logger.Debug("寫入回應失敗", zap.Error(err))
			return
		}

		g.stats.RequestCount.Add(1)
		g.stats.BytesReceived.Add(uint64(len(packet)))
		g.stats.BytesSent.Add(uint64(len(out)))
	}
}

// dispatch 依 unit identifier 分派請求給裝置
func (g *Gateway) dispatch(frame *mbserver.TCPFrame) mbserver.Framer {
	response := frame.Copy()

	dev, ok := g.Device(frame.Device)
	if !ok {
		g.stats.ErrorCount.Add(1)
		response.SetException(&mbserver.GatewayPathUnavailable)
		return response
	}

	data, exception := g.handler.Handle(dev, frame)
	if *exception != mbserver.Success {
		g.stats.ErrorCount.Add(1)
		response.SetException(exception)
		return response
	}

	response.SetData(data)
	return response
}

// readMBAPFrame 從連線讀出一個完整的 MBAP 框架
func readMBAPFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length > ModbusTCPMaxADULength-6 {
		return nil, fmt.Errorf("框架長度無效: %d", length)
	}

	rest := make([]byte, length)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return nil, err
	}

	return append(header, rest...), nil
}
