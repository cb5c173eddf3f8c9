package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewA40Catalog(t *testing.T) {
	catalog, err := NewA40Catalog()
	require.NoError(t, err)

	// 六段配置表的位址與字組總數
	assert.Len(t, catalog.Addresses(), 459)
	assert.Equal(t, 547, catalog.SlotCount())
	assert.Len(t, catalog.BoundedAddresses(), 27)
}

func TestRegisterCatalog_WidthOf(t *testing.T) {
	catalog, err := NewA40Catalog()
	require.NoError(t, err)

	tests := []struct {
		addr  uint16
		width int
	}{
		{0xC550, 2}, // 表 1 起點 (小時計)
		{0xC58C, 2}, // 表 1 終點
		{0xC650, 2}, // 表 2
		{0xC750, 2}, // 表 3 雙字組段
		{0xC790, 1}, // 表 3 單字組段
		{0xC850, 1}, // 表 4
		{0xC900, 1}, // 表 5
		{0xCA92, 1}, // 表 6 終點
	}

	for _, tt := range tests {
		width, ok := catalog.WidthOf(tt.addr)
		require.True(t, ok, "0x%04X 應在目錄中", tt.addr)
		assert.Equal(t, tt.width, width, "0x%04X 的寬度", tt.addr)
	}

	// 雙字組暫存器的第二個字組不是獨立位址
	_, ok := catalog.WidthOf(0xC551)
	assert.False(t, ok)

	// 目錄之外
	_, ok = catalog.WidthOf(0x0000)
	assert.False(t, ok)
}

func TestRegisterCatalog_BoundsOf(t *testing.T) {
	catalog, err := NewA40Catalog()
	require.NoError(t, err)

	bounds, ok := catalog.BoundsOf(0xC558)
	require.True(t, ok)
	assert.Equal(t, ValueBounds{0, 50000}, bounds)

	bounds, ok = catalog.BoundsOf(RegFrequency)
	require.True(t, ok)
	assert.Equal(t, ValueBounds{3000, 7000}, bounds)

	bounds, ok = catalog.BoundsOf(0xC582)
	require.True(t, ok)
	assert.Equal(t, ValueBounds{-1000, 1000}, bounds)

	// 小時計沒有配置範圍，不參與隨機漫步
	_, ok = catalog.BoundsOf(RegHourMeter)
	assert.False(t, ok)
}

func TestValueBounds_Midpoint(t *testing.T) {
	assert.Equal(t, int64(25000), ValueBounds{0, 50000}.Midpoint())
	assert.Equal(t, int64(5000), ValueBounds{3000, 7000}.Midpoint())
	assert.Equal(t, int64(0), ValueBounds{-1000, 1000}.Midpoint())
}

func TestRegisterCatalog_OwnerOf(t *testing.T) {
	catalog, err := NewA40Catalog()
	require.NoError(t, err)

	// 雙字組暫存器佔用兩個連續字組
	owner, ok := catalog.OwnerOf(0xC550)
	require.True(t, ok)
	assert.Equal(t, uint16(0xC550), owner)

	owner, ok = catalog.OwnerOf(0xC551)
	require.True(t, ok)
	assert.Equal(t, uint16(0xC550), owner)

	// 表 1 終點 0xC58C 涵蓋到 0xC58D，0xC58E 是空洞
	_, ok = catalog.OwnerOf(0xC58D)
	assert.True(t, ok)

	_, ok = catalog.OwnerOf(0xC58E)
	assert.False(t, ok)
}
