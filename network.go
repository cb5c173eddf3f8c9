package main

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// NetworkProvisioner 虛擬 IP 配置器介面
//
// 讓模擬電表在測試網路上擁有專屬位址，客戶端軟體可以像對實機
// 一樣以裝置自己的 IP 連線。
type NetworkProvisioner interface {
	// Setup 設置虛擬 IP
	Setup(ctx context.Context, ranges []IPRange) error

	// Teardown 移除虛擬 IP
	Teardown(ctx context.Context) error

	// List 列出已配置的 IP
	List(ctx context.Context) ([]net.IP, error)
}

// NewNetworkProvisioner 建立平台對應的配置器
func NewNetworkProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return newPlatformProvisioner(interfaceName, logger)
}

// provisionerBase 各平台共用的狀態與驗證邏輯
type provisionerBase struct {
	interfaceName string
	logger        *zap.Logger
	configuredIPs []net.IP
}

// expandRanges 驗證並展開所有 IP 範圍
func (p *provisionerBase) expandRanges(ranges []IPRange) ([]net.IP, error) {
	var allIPs []net.IP
	for _, r := range ranges {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		ips, err := r.Expand()
		if err != nil {
			return nil, err
		}
		allIPs = append(allIPs, ips...)
	}
	return allIPs, nil
}
