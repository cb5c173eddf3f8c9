//go:build integration

package main

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestGateway(t *testing.T, port int, modify func(*Config)) *Gateway {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	config := DefaultConfig()
	config.Server.ListenAddress = "127.0.0.1"
	config.Server.Port = port
	// 拉長更新週期讓讀值保持確定性
	config.Simulation.TickInterval = time.Hour
	if modify != nil {
		modify(config)
	}

	gateway := NewGateway(config, logger)
	require.NoError(t, gateway.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gateway.Stop(ctx)
	})

	// 等待伺服器啟動
	time.Sleep(100 * time.Millisecond)
	return gateway
}

func newTestClient(t *testing.T, port int, unitID byte) (modbus.Client, *modbus.TCPClientHandler) {
	t.Helper()

	handler := modbus.NewTCPClientHandler(fmt.Sprintf("127.0.0.1:%d", port))
	handler.Timeout = 5 * time.Second
	handler.SlaveId = unitID
	require.NoError(t, handler.Connect())
	t.Cleanup(func() { _ = handler.Close() })

	return modbus.NewClient(handler), handler
}

func TestGatewayIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	gateway := startTestGateway(t, 15020, nil)
	assert.Equal(t, GatewayStateRunning, gateway.State())

	client, _ := newTestClient(t, 15020, 1)

	// 測試讀取保持暫存器 (FC 03)
	t.Run("ReadHoldingRegisters", func(t *testing.T) {
		// 0xC558 初始值為範圍中點 25000
		results, err := client.ReadHoldingRegisters(0xC558, 2)
		require.NoError(t, err)
		require.Len(t, results, 4)

		value := uint32(results[0])<<24 | uint32(results[1])<<16 |
			uint32(results[2])<<8 | uint32(results[3])
		assert.Equal(t, uint32(25000), value)
	})

	// 測試寫入後讀回 (FC 16 + FC 03)
	t.Run("WriteAndReadBack", func(t *testing.T) {
		_, err := client.WriteMultipleRegisters(0xC650, 2, []byte{0x12, 0x34, 0x56, 0x78})
		require.NoError(t, err)

		results, err := client.ReadHoldingRegisters(0xC650, 2)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, results)
	})

	// 測試寫入單一暫存器 (FC 06)
	t.Run("WriteSingleRegister", func(t *testing.T) {
		_, err := client.WriteSingleRegister(0xC850, 0x1234)
		require.NoError(t, err)

		results, err := client.ReadHoldingRegisters(0xC850, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x12, 0x34}, results)
	})

	// 範圍外的讀取回 Illegal Data Address
	t.Run("ReadOutOfRange", func(t *testing.T) {
		_, err := client.ReadHoldingRegisters(0x0000, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exception '2'")
	})

	// 各裝置獨立：寫入 unit 1 不影響 unit 2
	t.Run("UnitIsolation", func(t *testing.T) {
		client2, _ := newTestClient(t, 15020, 2)

		_, err := client.WriteSingleRegister(0xC900, 0x00AA)
		require.NoError(t, err)

		results, err := client2.ReadHoldingRegisters(0xC900, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x00}, results)
	})

	// 未註冊的 unit id 回 Gateway Path Unavailable
	t.Run("UnknownUnit", func(t *testing.T) {
		client9, _ := newTestClient(t, 15020, 9)

		_, err := client9.ReadHoldingRegisters(0xC558, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exception '10'")
	})
}

func TestGatewayIntegration_SingleMode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	startTestGateway(t, 15021, func(c *Config) {
		c.Devices.Single = true
	})

	// 單裝置模式忽略 unit identifier
	client, _ := newTestClient(t, 15021, 42)

	results, err := client.ReadHoldingRegisters(0xC558, 2)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestGatewayIntegration_ConnectionLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	gateway := startTestGateway(t, 15022, func(c *Config) {
		c.Server.MaxConnections = 2
	})

	// 佔滿連線上限
	conns := make([]net.Conn, 0, 2)
	for i := 0; i < 2; i++ {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:15022", 2*time.Second)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	time.Sleep(100 * time.Millisecond)

	// 第三條連線被接受後立即關閉
	extra, err := net.DialTimeout("tcp", "127.0.0.1:15022", 2*time.Second)
	require.NoError(t, err)
	defer extra.Close()

	_ = extra.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = extra.Read(buf)
	assert.Error(t, err, "超出上限的連線應被關閉")

	assert.GreaterOrEqual(t, gateway.Stats().RejectedConnections.Load(), uint64(1))
}

func BenchmarkGatewayRead(b *testing.B) {
	logger, _ := zap.NewProduction()
	config := DefaultConfig()
	config.Server.ListenAddress = "127.0.0.1"
	config.Server.Port = 15023
	config.Simulation.TickInterval = time.Hour

	gateway := NewGateway(config, logger)
	if err := gateway.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gateway.Stop(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	handler := modbus.NewTCPClientHandler("127.0.0.1:15023")
	handler.Timeout = time.Second
	if err := handler.Connect(); err != nil {
		b.Fatal(err)
	}
	defer handler.Close()
	client := modbus.NewClient(handler)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.ReadHoldingRegisters(0xC550, 10); err != nil {
			b.Fatal(err)
		}
	}
}
