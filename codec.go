package main

import (
	"encoding/binary"
	"fmt"
)

// PackWords 將邏輯值編碼為 width 個 16-bit 字組 (依位址順序)
//
// 邏輯值視為 width*16 位元的二補數整數，以 big-endian 序列化後
// 切成連續的 big-endian 字組。僅支援寬度 1、2、4。
func PackWords(value int64, width int) ([]uint16, error) {
	var raw []byte

	switch width {
	case 1:
		raw = make([]byte, 2)
		binary.BigEndian.PutUint16(raw, uint16(int16(value)))
	case 2:
		raw = make([]byte, 4)
		binary.BigEndian.PutUint32(raw, uint32(int32(value)))
	case 4:
		raw = make([]byte, 8)
		binary.BigEndian.PutUint64(raw, uint64(value))
	default:
		return nil, fmt.Errorf("不支援的暫存器寬度: %d", width)
	}

	words := make([]uint16, width)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return words, nil
}

// UnpackWords 將字組序列解碼回帶號邏輯值 (PackWords 的逆運算)
func UnpackWords(words []uint16) (int64, error) {
	switch len(words) {
	case 1:
		return int64(int16(words[0])), nil
	case 2:
		return int64(int32(uint32(words[0])<<16 | uint32(words[1]))), nil
	case 4:
		u := uint64(words[0])<<48 | uint64(words[1])<<32 |
			uint64(words[2])<<16 | uint64(words[3])
		return int64(u), nil
	default:
		return 0, fmt.Errorf("不支援的暫存器寬度: %d", len(words))
	}
}
