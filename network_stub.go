//go:build !linux

package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// stubProvisioner 非 Linux 平台的 stub 配置器，只記錄不實際配置
type stubProvisioner struct {
	provisionerBase
}

func newPlatformProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return &stubProvisioner{
		provisionerBase: provisionerBase{
			interfaceName: interfaceName,
			logger:        logger,
		},
	}
}

// Setup 設置虛擬 IP (stub)
func (p *stubProvisioner) Setup(ctx context.Context, ranges []IPRange) error {
	ips, err := p.expandRanges(ranges)
	if err != nil {
		return fmt.Errorf("展開 IP 範圍失敗: %w", err)
	}

	p.logger.Warn("虛擬 IP 配置僅在 Linux 上支援，使用模擬模式",
		zap.String("interface", p.interfaceName),
		zap.Int("count", len(ips)),
	)

	p.configuredIPs = ips
	return nil
}

// Teardown 移除虛擬 IP (stub)
func (p *stubProvisioner) Teardown(ctx context.Context) error {
	p.logger.Warn("虛擬 IP 移除僅在 Linux 上支援，使用模擬模式",
		zap.String("interface", p.interfaceName),
		zap.Int("count", len(p.configuredIPs)),
	)

	p.configuredIPs = nil
	return nil
}

// List 列出已記錄的 IP (stub)
func (p *stubProvisioner) List(ctx context.Context) ([]net.IP, error) {
	return p.configuredIPs, nil
}
