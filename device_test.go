package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, opts ...DeviceOption) *Device {
	t.Helper()

	catalog, err := NewA40Catalog()
	require.NoError(t, err)

	dev, err := NewDevice(1, catalog, opts...)
	require.NoError(t, err)
	return dev
}

func TestDevice_DefaultIdentity(t *testing.T) {
	dev := newTestDevice(t)

	assert.Equal(t, uint8(1), dev.UnitID)
	assert.Equal(t, "Socomec", dev.Identity.Vendor)
	assert.Equal(t, "Diris", dev.Identity.Product)
	assert.Equal(t, "A40", dev.Identity.Model)
}

func TestDevice_CustomIdentity(t *testing.T) {
	dev := newTestDevice(t, WithIdentity(DeviceIdentity{
		Vendor:  "Socomec",
		Product: "Diris",
		Model:   "A41",
	}))

	assert.Equal(t, "A41", dev.Identity.Model)
}

func TestDevice_AddressPassthrough(t *testing.T) {
	dev := newTestDevice(t)

	// 位址原樣透傳：目錄兩端的邊界不受位移影響
	assert.True(t, dev.Validate(KindHoldingRegister, 0xC550, 1))
	assert.True(t, dev.Validate(KindHoldingRegister, 0xCA92, 1))
	assert.False(t, dev.Validate(KindHoldingRegister, 0xC54F, 1))
	assert.False(t, dev.Validate(KindHoldingRegister, 0xCA93, 1))
}

func TestDevice_HoldingRegisters(t *testing.T) {
	dev := newTestDevice(t)

	require.NoError(t, dev.Write(KindHoldingRegister, 0xC650, []uint16{0x0102, 0x0304}))

	words, err := dev.Read(KindHoldingRegister, 0xC650, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0102, 0x0304}, words)
}

func TestDevice_StubFamilies(t *testing.T) {
	dev := newTestDevice(t)

	// 線圈、離散輸入、輸入暫存器各只有一個元素
	for _, kind := range []RegisterKind{KindCoil, KindDiscreteInput, KindInputRegister} {
		assert.True(t, dev.Validate(kind, 0, 1), "%s 位址 0 應有效", kind)
		assert.False(t, dev.Validate(kind, 1, 1), "%s 位址 1 不應有效", kind)
		assert.False(t, dev.Validate(kind, 0, 2), "%s 長度 2 不應有效", kind)

		words, err := dev.Read(kind, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, []uint16{1}, words, "%s 初始值為 1", kind)
	}

	// 線圈可寫
	require.NoError(t, dev.Write(KindCoil, 0, []uint16{0}))
	words, err := dev.Read(KindCoil, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, words)
}

func TestDevice_SeededStore(t *testing.T) {
	dev := newTestDevice(t)

	value, err := dev.Store().ReadLogical(0xC558)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), value)
}
