package main

// Modbus 協議常數
const (
	// Modbus 功能碼
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	// Modbus TCP 常數
	ModbusTCPHeaderLength = 7 // MBAP Header 長度
	ModbusTCPMaxADULength = 260
	ModbusTCPDefaultPort  = 502

	// 單次請求的數量上限
	MaxRegistersPerRead  = 125
	MaxRegistersPerWrite = 123
)

// RegisterKind 請求所針對的暫存器家族 (依功能碼區分)
type RegisterKind int

const (
	KindCoil RegisterKind = iota
	KindDiscreteInput
	KindInputRegister
	KindHoldingRegister
)

func (k RegisterKind) String() string {
	switch k {
	case KindCoil:
		return "Coil"
	case KindDiscreteInput:
		return "DiscreteInput"
	case KindInputRegister:
		return "InputRegister"
	case KindHoldingRegister:
		return "HoldingRegister"
	default:
		return "Unknown"
	}
}

// KindOfFunction 將功能碼解碼為暫存器家族
func KindOfFunction(funcCode uint8) (RegisterKind, bool) {
	switch funcCode {
	case FuncCodeReadCoils, FuncCodeWriteSingleCoil, FuncCodeWriteMultipleCoils:
		return KindCoil, true
	case FuncCodeReadDiscreteInputs:
		return KindDiscreteInput, true
	case FuncCodeReadInputRegisters:
		return KindInputRegister, true
	case FuncCodeReadHoldingRegisters, FuncCodeWriteSingleRegister, FuncCodeWriteMultipleRegisters:
		return KindHoldingRegister, true
	default:
		return 0, false
	}
}
