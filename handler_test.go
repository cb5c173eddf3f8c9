package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// newTestFrame 組裝一個 Modbus TCP 請求框架
func newTestFrame(unitID uint8, function uint8, data []byte) *mbserver.TCPFrame {
	return &mbserver.TCPFrame{
		TransactionIdentifier: 1,
		ProtocolIdentifier:    0,
		Length:                uint16(2 + len(data)),
		Device:                unitID,
		Function:              function,
		Data:                  data,
	}
}

func TestRequestHandler_ReadHoldingRegisters(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	// 讀取 0xC558 (初始值 25000 = 0x61A8)
	frame := newTestFrame(1, FuncCodeReadHoldingRegisters,
		[]byte{0xC5, 0x58, 0x00, 0x02})

	data, exception := handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)
	assert.Equal(t, []byte{0x04, 0x00, 0x00, 0x61, 0xA8}, data)
}

func TestRequestHandler_ReadSecondWord(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	require.NoError(t, dev.Store().WriteLogical(RegHourMeter, 0x12345678))

	// 單獨讀取雙字組暫存器的第二個字組
	frame := newTestFrame(1, FuncCodeReadHoldingRegisters,
		[]byte{0xC5, 0x51, 0x00, 0x01})

	data, exception := handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)
	assert.Equal(t, []byte{0x02, 0x56, 0x78}, data)
}

func TestRequestHandler_ReadOutOfRange(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	tests := []struct {
		name string
		data []byte
	}{
		{"目錄之前", []byte{0xC5, 0x4F, 0x00, 0x01}},
		{"目錄之外", []byte{0x00, 0x00, 0x00, 0x01}},
		{"跨出表尾", []byte{0xC5, 0x8C, 0x00, 0x04}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := newTestFrame(1, FuncCodeReadHoldingRegisters, tt.data)
			_, exception := handler.Handle(dev, frame)
			assert.Equal(t, mbserver.IllegalDataAddress, *exception)
		})
	}
}

func TestRequestHandler_ReadInvalidCount(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	// 數量為 0 與超過單次上限都是資料值異常
	frame := newTestFrame(1, FuncCodeReadHoldingRegisters,
		[]byte{0xC5, 0x50, 0x00, 0x00})
	_, exception := handler.Handle(dev, frame)
	assert.Equal(t, mbserver.IllegalDataValue, *exception)

	frame = newTestFrame(1, FuncCodeReadHoldingRegisters,
		[]byte{0xC5, 0x50, 0x00, 0x7E})
	_, exception = handler.Handle(dev, frame)
	assert.Equal(t, mbserver.IllegalDataValue, *exception)
}

func TestRequestHandler_WriteSingleRegister(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	// FC 06 回應回送位址與值
	frame := newTestFrame(1, FuncCodeWriteSingleRegister,
		[]byte{0xC6, 0x50, 0x12, 0x34})

	data, exception := handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)
	assert.Equal(t, []byte{0xC6, 0x50, 0x12, 0x34}, data)

	words, err := dev.Read(KindHoldingRegister, 0xC650, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234}, words)
}

func TestRequestHandler_WriteMultipleRegisters(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	frame := newTestFrame(1, FuncCodeWriteMultipleRegisters,
		[]byte{0xC6, 0x50, 0x00, 0x02, 0x04, 0xAA, 0xBB, 0xCC, 0xDD})

	data, exception := handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)
	assert.Equal(t, []byte{0xC6, 0x50, 0x00, 0x02}, data)

	words, err := dev.Read(KindHoldingRegister, 0xC650, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0xAABB, 0xCCDD}, words)
}

func TestRequestHandler_WriteMultipleByteCountMismatch(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	before, err := dev.Read(KindHoldingRegister, 0xC650, 2)
	require.NoError(t, err)

	// byte count 與數量不一致的寫入被拒絕且不改動狀態
	frame := newTestFrame(1, FuncCodeWriteMultipleRegisters,
		[]byte{0xC6, 0x50, 0x00, 0x02, 0x03, 0xAA, 0xBB, 0xCC})

	_, exception := handler.Handle(dev, frame)
	assert.Equal(t, mbserver.IllegalDataValue, *exception)

	after, err := dev.Read(KindHoldingRegister, 0xC650, 2)
	require.NoError(t, err)
	assert.Equal(t, before, after, "被拒絕的寫入不應改動暫存器")
}

func TestRequestHandler_WriteOutOfRange(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	frame := newTestFrame(1, FuncCodeWriteSingleRegister,
		[]byte{0x00, 0x00, 0x12, 0x34})

	_, exception := handler.Handle(dev, frame)
	assert.Equal(t, mbserver.IllegalDataAddress, *exception)
}

func TestRequestHandler_ReadCoils(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	// 線圈儲存區只有一個元素，初始值為 1
	frame := newTestFrame(1, FuncCodeReadCoils,
		[]byte{0x00, 0x00, 0x00, 0x01})

	data, exception := handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)
	assert.Equal(t, []byte{0x01, 0x01}, data)
}

func TestRequestHandler_WriteSingleCoil(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	// 0x0000 關、0xFF00 開，其餘值無效
	frame := newTestFrame(1, FuncCodeWriteSingleCoil,
		[]byte{0x00, 0x00, 0x00, 0x00})
	_, exception := handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)

	words, err := dev.Read(KindCoil, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, words)

	frame = newTestFrame(1, FuncCodeWriteSingleCoil,
		[]byte{0x00, 0x00, 0xFF, 0x00})
	_, exception = handler.Handle(dev, frame)
	require.Equal(t, mbserver.Success, *exception)

	frame = newTestFrame(1, FuncCodeWriteSingleCoil,
		[]byte{0x00, 0x00, 0x12, 0x34})
	_, exception = handler.Handle(dev, frame)
	assert.Equal(t, mbserver.IllegalDataValue, *exception)
}

func TestRequestHandler_IllegalFunction(t *testing.T) {
	dev := newTestDevice(t)
	handler := NewRequestHandler(zap.NewNop())

	frame := newTestFrame(1, 0x2B, []byte{0x0E, 0x01, 0x00})

	_, exception := handler.Handle(dev, frame)
	assert.Equal(t, mbserver.IllegalFunction, *exception)
}

func TestGateway_Dispatch(t *testing.T) {
	config := DefaultConfig()
	gateway := NewGateway(config, zap.NewNop())

	catalog, err := NewA40Catalog()
	require.NoError(t, err)

	dev, err := NewDevice(2, catalog)
	require.NoError(t, err)
	gateway.devices[2] = dev

	// 已註冊的 unit id 正常回應
	frame := newTestFrame(2, FuncCodeReadHoldingRegisters,
		[]byte{0xC5, 0x58, 0x00, 0x02})
	response := gateway.dispatch(frame)
	assert.Equal(t, uint8(FuncCodeReadHoldingRegisters), response.GetFunction())
	assert.Equal(t, []byte{0x04, 0x00, 0x00, 0x61, 0xA8}, response.GetData())

	// 未註冊的 unit id 回應閘道路徑不可用
	frame = newTestFrame(9, FuncCodeReadHoldingRegisters,
		[]byte{0xC5, 0x58, 0x00, 0x02})
	response = gateway.dispatch(frame)
	assert.Equal(t, uint8(FuncCodeReadHoldingRegisters)|0x80, response.GetFunction())
	assert.Equal(t, []byte{byte(mbserver.GatewayPathUnavailable)}, response.GetData())
}
