package main

import (
	"fmt"
	"sync"
)

// RegisterStore 線程安全的字組儲存區
//
// 以稀疏映射保存目錄涵蓋的每個字組。模擬引擎與協議層共享同一個
// 儲存區，單次讀寫以鎖涵蓋整段位址範圍，不會交錯出半截的多字組值。
type RegisterStore struct {
	mu      sync.RWMutex
	catalog *RegisterCatalog
	words   map[uint16]uint16
}

// NewRegisterStore 建立並初始化儲存區
//
// 每個目錄位址以邏輯值播種：有配置範圍者取範圍中點，否則為 0，
// 再經編碼展開為字組。
func NewRegisterStore(catalog *RegisterCatalog) (*RegisterStore, error) {
	s := &RegisterStore{
		catalog: catalog,
		words:   make(map[uint16]uint16, catalog.SlotCount()),
	}

	for _, addr := range catalog.Addresses() {
		width, _ := catalog.WidthOf(addr)

		var initial int64
		if bounds, ok := catalog.BoundsOf(addr); ok {
			initial = bounds.Midpoint()
		}

		words, err := PackWords(initial, width)
		if err != nil {
			return nil, fmt.Errorf("初始化暫存器 0x%04X 失敗: %w", addr, err)
		}
		for i, w := range words {
			s.words[addr+uint16(i)] = w
		}
	}

	return s, nil
}

// Validate 檢查 [addr, addr+count) 的每個字組是否都有目錄支撐
func (s *RegisterStore) Validate(addr uint16, count int) bool {
	if count <= 0 {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i < count; i++ {
		if _, ok := s.words[addr+uint16(i)]; !ok {
			return false
		}
	}
	return true
}

// Read 讀取 [addr, addr+count) 的字組，呼叫端應先以 Validate 檢查
func (s *RegisterStore) Read(addr uint16, count int) ([]uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]uint16, count)
	for i := 0; i < count; i++ {
		w, ok := s.words[addr+uint16(i)]
		if !ok {
			return nil, fmt.Errorf("字組位址超出範圍: 0x%04X", addr+uint16(i))
		}
		result[i] = w
	}
	return result, nil
}

// Write 無條件覆寫 [addr, addr+len(values)) 的字組
// 範圍檢查是呼叫端的責任，空寫入視為呼叫端錯誤且不改動狀態
func (s *RegisterStore) Write(addr uint16, values []uint16) error {
	if len(values) == 0 {
		return fmt.Errorf("寫入長度為 0: 0x%04X", addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range values {
		s.words[addr+uint16(i)] = v
	}
	return nil
}

// WriteLogical 以目錄寬度編碼邏輯值後寫入
func (s *RegisterStore) WriteLogical(addr uint16, value int64) error {
	width, ok := s.catalog.WidthOf(addr)
	if !ok {
		return fmt.Errorf("位址 0x%04X 不在目錄中", addr)
	}

	words, err := PackWords(value, width)
	if err != nil {
		return err
	}
	return s.Write(addr, words)
}

// ReadLogical 讀取暫存器的邏輯值 (依目錄寬度解碼)
func (s *RegisterStore) ReadLogical(addr uint16) (int64, error) {
	width, ok := s.catalog.WidthOf(addr)
	if !ok {
		return 0, fmt.Errorf("位址 0x%04X 不在目錄中", addr)
	}

	words, err := s.Read(addr, width)
	if err != nil {
		return 0, err
	}
	return UnpackWords(words)
}

// Catalog 儲存區對應的目錄
func (s *RegisterStore) Catalog() *RegisterCatalog {
	return s.catalog
}
