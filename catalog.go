package main

import (
	"fmt"
	"sort"
)

// 幾個有具名意義的 A40 暫存器位址
const (
	RegHourMeter      uint16 = 0xC550 // 小時計 (1/100 小時)
	RegFrequency      uint16 = 0xC55E // 頻率 (1/100 Hz)
	RegPhaseCurrent1  uint16 = 0xC560 // 第一相電流 (1/100 A)
	RegNeutralCurrent uint16 = 0xC566 // 中性線電流 (1/100 A)
)

// ValueBounds 暫存器邏輯值的合法範圍 (含邊界)
type ValueBounds struct {
	Min int64
	Max int64
}

// Midpoint 範圍中點 (初始值與隨機漫步的起點)
func (b ValueBounds) Midpoint() int64 {
	return (b.Min + b.Max) / 2
}

// RegisterDescriptor 單一暫存器的靜態描述
// 寬度為邏輯值佔用的 16-bit 字組數，位址 A 佔用字組 A..A+Width-1
type RegisterDescriptor struct {
	Address uint16
	Width   int
	Bounds  *ValueBounds
}

// RegisterCatalog 完整位址空間的靜態目錄，建立後唯讀
type RegisterCatalog struct {
	descriptors map[uint16]*RegisterDescriptor
	slots       map[uint16]uint16 // 字組位址 -> 所屬暫存器位址
}

// A40 暫存器配置表 (Socomec Diris 產品手冊的六段連續範圍)
//
// 表 1-3 為雙字組暫存器 (表 3 尾端混入單字組)，表 4-6 為單字組。
func a40Tables() map[uint16]int {
	widths := make(map[uint16]int)

	addRange := func(start, end uint16, step uint16, width int) {
		for addr := start; addr <= end; addr += step {
			widths[addr] = width
		}
	}

	addRange(0xC550, 0xC58C, 2, 2) // 表 1: 即時量測
	addRange(0xC650, 0xC681, 2, 2) // 表 2
	addRange(0xC750, 0xC78E, 2, 2) // 表 3 (雙字組段)
	addRange(0xC790, 0xC795, 1, 1) // 表 3 (單字組段)
	addRange(0xC850, 0xC871, 1, 1) // 表 4
	addRange(0xC900, 0xC907, 1, 1) // 表 5
	addRange(0xC950, 0xCA92, 1, 1) // 表 6

	return widths
}

// a40Bounds 會隨機變動的暫存器及其合法範圍
// 依三相各自的量測值分組，最後一組為整體量測值
func a40Bounds() map[uint16]ValueBounds {
	return map[uint16]ValueBounds{
		// 第一相
		0xC558: {0, 50000},
		0xC552: {0, 50000},
		0xC560: {0, 20000},
		0xC570: {0, 1000},
		0xC57C: {0, 1000},
		0xC576: {0, 1000},
		0xC582: {-1000, 1000},

		// 第二相
		0xC55A: {0, 50000},
		0xC554: {0, 50000},
		0xC562: {0, 20000},
		0xC572: {0, 1000},
		0xC57E: {0, 1000},
		0xC578: {0, 1000},
		0xC584: {-1000, 1000},

		// 第三相
		0xC55C: {0, 50000},
		0xC556: {0, 50000},
		0xC564: {0, 20000},
		0xC574: {0, 1000},
		0xC580: {0, 1000},
		0xC57A: {0, 1000},
		0xC586: {-1000, 1000},

		// 整體
		0xC55E: {3000, 7000},
		0xC566: {0, 20000},
		0xC568: {0, 1000},
		0xC56C: {0, 1000},
		0xC56A: {0, 1000},
		0xC56E: {-1000, 1000},
	}
}

// NewA40Catalog 由靜態配置表建立 Diris A40 的暫存器目錄
// 配置表寬度不在 {1,2,4} 或字組區間重疊視為配置缺陷，啟動即失敗
func NewA40Catalog() (*RegisterCatalog, error) {
	widths := a40Tables()
	bounds := a40Bounds()

	c := &RegisterCatalog{
		descriptors: make(map[uint16]*RegisterDescriptor, len(widths)),
		slots:       make(map[uint16]uint16),
	}

	for addr, width := range widths {
		if width != 1 && width != 2 && width != 4 {
			return nil, fmt.Errorf("暫存器 0x%04X 的寬度 %d 不受支援", addr, width)
		}

		desc := &RegisterDescriptor{Address: addr, Width: width}
		if b, ok := bounds[addr]; ok {
			bCopy := b
			desc.Bounds = &bCopy
		}
		c.descriptors[addr] = desc

		for i := uint16(0); i < uint16(width); i++ {
			word := addr + i
			if owner, taken := c.slots[word]; taken {
				return nil, fmt.Errorf("字組 0x%04X 同時屬於暫存器 0x%04X 與 0x%04X", word, owner, addr)
			}
			c.slots[word] = addr
		}
	}

	for addr := range bounds {
		if _, ok := widths[addr]; !ok {
			return nil, fmt.Errorf("範圍表的位址 0x%04X 不在配置表中", addr)
		}
	}

	return c, nil
}

// WidthOf 查詢暫存器寬度
func (c *RegisterCatalog) WidthOf(addr uint16) (int, bool) {
	desc, ok := c.descriptors[addr]
	if !ok {
		return 0, false
	}
	return desc.Width, true
}

// BoundsOf 查詢暫存器的合法範圍 (沒有配置範圍時回傳 false)
func (c *RegisterCatalog) BoundsOf(addr uint16) (ValueBounds, bool) {
	desc, ok := c.descriptors[addr]
	if !ok || desc.Bounds == nil {
		return ValueBounds{}, false
	}
	return *desc.Bounds, true
}

// Addresses 目錄中的所有暫存器位址 (遞增排序)
func (c *RegisterCatalog) Addresses() []uint16 {
	addrs := make([]uint16, 0, len(c.descriptors))
	for addr := range c.descriptors {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// BoundedAddresses 有配置範圍的暫存器位址 (遞增排序)
func (c *RegisterCatalog) BoundedAddresses() []uint16 {
	var addrs []uint16
	for addr, desc := range c.descriptors {
		if desc.Bounds != nil {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// SlotCount 目錄涵蓋的字組總數
func (c *RegisterCatalog) SlotCount() int {
	return len(c.slots)
}

// OwnerOf 查詢字組位址所屬的暫存器
func (c *RegisterCatalog) OwnerOf(word uint16) (uint16, bool) {
	owner, ok := c.slots[word]
	return owner, ok
}
