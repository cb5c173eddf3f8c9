package main

import (
	"encoding/binary"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// RequestHandler 把協議層解碼後的 (功能碼, 位址, 數量) 請求轉交給裝置
//
// 範圍檢查失敗以 Modbus 異常碼回應，引擎本身只回報布林判定。
type RequestHandler struct {
	logger *zap.Logger
}

// NewRequestHandler 建立請求處理器
func NewRequestHandler(logger *zap.Logger) *RequestHandler {
	return &RequestHandler{logger: logger}
}

// Handle 處理單一請求，回傳回應資料與異常碼
func (h *RequestHandler) Handle(dev *Device, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	funcCode := frame.GetFunction()
	kind, ok := KindOfFunction(funcCode)
	if !ok {
		return nil, &mbserver.IllegalFunction
	}

	switch funcCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		return h.readBits(dev, kind, frame.GetData())
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return h.readWords(dev, kind, frame.GetData())
	case FuncCodeWriteSingleCoil:
		return h.writeSingleCoil(dev, kind, frame.GetData())
	case FuncCodeWriteSingleRegister:
		return h.writeSingleRegister(dev, kind, frame.GetData())
	case FuncCodeWriteMultipleCoils:
		return h.writeMultipleCoils(dev, kind, frame.GetData())
	case FuncCodeWriteMultipleRegisters:
		return h.writeMultipleRegisters(dev, kind, frame.GetData())
	default:
		return nil, &mbserver.IllegalFunction
	}
}

// readWords 處理讀取暫存器請求 (FC 03/04)
func (h *RequestHandler) readWords(dev *Device, kind RegisterKind, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	if count < 1 || count > MaxRegistersPerRead {
		return nil, &mbserver.IllegalDataValue
	}

	if !dev.Validate(kind, addr, count) {
		h.logger.Debug("讀取範圍無效",
			zap.Stringer("kind", kind),
			zap.Uint16("address", addr),
			zap.Int("count", count),
		)
		return nil, &mbserver.IllegalDataAddress
	}

	words, err := dev.Read(kind, addr, count)
	if err != nil {
		return nil, &mbserver.IllegalDataAddress
	}

	return append([]byte{byte(len(words) * 2)}, RegistersToBytes(words)...), &mbserver.Success
}

// readBits 處理讀取線圈/離散輸入請求 (FC 01/02)
func (h *RequestHandler) readBits(dev *Device, kind RegisterKind, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	if count < 1 || count > 2000 {
		return nil, &mbserver.IllegalDataValue
	}

	if !dev.Validate(kind, addr, count) {
		return nil, &mbserver.IllegalDataAddress
	}

	words, err := dev.Read(kind, addr, count)
	if err != nil {
		return nil, &mbserver.IllegalDataAddress
	}

	packed := make([]byte, (count+7)/8)
	for i, w := range words {
		if w != 0 {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return append([]byte{byte(len(packed))}, packed...), &mbserver.Success
}

// writeSingleRegister 處理寫入單一暫存器請求 (FC 06)
func (h *RequestHandler) writeSingleRegister(dev *Device, kind RegisterKind, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if !dev.Validate(kind, addr, 1) {
		return nil, &mbserver.IllegalDataAddress
	}

	if err := dev.Write(kind, addr, []uint16{value}); err != nil {
		return nil, &mbserver.SlaveDeviceFailure
	}

	// 回應回送位址與值
	return data[0:4], &mbserver.Success
}

// writeMultipleRegisters 處理寫入多個暫存器請求 (FC 16)
func (h *RequestHandler) writeMultipleRegisters(dev *Device, kind RegisterKind, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 5 {
		return nil, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])

	// 數量與酬載長度不一致的寫入直接拒絕，不改動任何狀態
	if count < 1 || count > MaxRegistersPerWrite ||
		byteCount != count*2 || len(data) < 5+byteCount {
		return nil, &mbserver.IllegalDataValue
	}

	if !dev.Validate(kind, addr, count) {
		return nil, &mbserver.IllegalDataAddress
	}

	values := BytesToRegisters(data[5 : 5+byteCount])
	if err := dev.Write(kind, addr, values); err != nil {
		return nil, &mbserver.SlaveDeviceFailure
	}

	return data[0:4], &mbserver.Success
}

// writeSingleCoil 處理寫入單一線圈請求 (FC 05)
func (h *RequestHandler) writeSingleCoil(dev *Device, kind RegisterKind, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	raw := binary.BigEndian.Uint16(data[2:4])

	var value uint16
	switch raw {
	case 0x0000:
		value = 0
	case 0xFF00:
		value = 1
	default:
		return nil, &mbserver.IllegalDataValue
	}

	if !dev.Validate(kind, addr, 1) {
		return nil, &mbserver.IllegalDataAddress
	}

	if err := dev.Write(kind, addr, []uint16{value}); err != nil {
		return nil, &mbserver.SlaveDeviceFailure
	}

	return data[0:4], &mbserver.Success
}

// writeMultipleCoils 處理寫入多個線圈請求 (FC 15)
func (h *RequestHandler) writeMultipleCoils(dev *Device, kind RegisterKind, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 5 {
		return nil, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])

	if count < 1 || count > 1968 ||
		byteCount != (count+7)/8 || len(data) < 5+byteCount {
		return nil, &mbserver.IllegalDataValue
	}

	if !dev.Validate(kind, addr, count) {
		return nil, &mbserver.IllegalDataAddress
	}

	values := make([]uint16, count)
	for i := range values {
		if data[5+i/8]&(1<<(i%8)) != 0 {
			values[i] = 1
		}
	}
	if err := dev.Write(kind, addr, values); err != nil {
		return nil, &mbserver.SlaveDeviceFailure
	}

	return data[0:4], &mbserver.Success
}

// RegistersToBytes 將字組序列轉換為位元組 (Big Endian)
func RegistersToBytes(registers []uint16) []byte {
	bytes := make([]byte, len(registers)*2)
	for i, reg := range registers {
		binary.BigEndian.PutUint16(bytes[i*2:], reg)
	}
	return bytes
}

// BytesToRegisters 將位元組轉換為字組序列 (Big Endian)
func BytesToRegisters(data []byte) []uint16 {
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return registers
}
