//go:build linux

package main

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// linuxProvisioner 以 netlink 操作位址的配置器
type linuxProvisioner struct {
	provisionerBase
	link netlink.Link
}

func newPlatformProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return &linuxProvisioner{
		provisionerBase: provisionerBase{
			interfaceName: interfaceName,
			logger:        logger,
		},
	}
}

// Setup 設置虛擬 IP (使用 netlink)
func (p *linuxProvisioner) Setup(ctx context.Context, ranges []IPRange) error {
	link, err := netlink.LinkByName(p.interfaceName)
	if err != nil {
		return fmt.Errorf("找不到網路介面 %s: %w", p.interfaceName, err)
	}
	p.link = link

	ips, err := p.expandRanges(ranges)
	if err != nil {
		return fmt.Errorf("展開 IP 範圍失敗: %w", err)
	}

	p.logger.Info("正在設置虛擬 IP",
		zap.String("interface", p.interfaceName),
		zap.Int("count", len(ips)),
	)

	added := 0
	for _, ip := range ips {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		addr := &netlink.Addr{
			IPNet: &net.IPNet{
				IP:   ip,
				Mask: net.CIDRMask(32, 32),
			},
		}

		if err := netlink.AddrAdd(link, addr); err != nil {
			// 已存在的 IP 視為成功
			if err.Error() == "file exists" {
				added++
				p.configuredIPs = append(p.configuredIPs, ip)
				continue
			}
			p.logger.Warn("添加 IP 失敗",
				zap.String("ip", ip.String()),
				zap.Error(err),
			)
			continue
		}

		added++
		p.configuredIPs = append(p.configuredIPs, ip)
	}

	p.logger.Info("虛擬 IP 設置完成",
		zap.Int("added", added),
		zap.Int("total", len(ips)),
	)

	return nil
}

// Teardown 移除虛擬 IP
func (p *linuxProvisioner) Teardown(ctx context.Context) error {
	if p.link == nil {
		link, err := netlink.LinkByName(p.interfaceName)
		if err != nil {
			return fmt.Errorf("找不到網路介面 %s: %w", p.interfaceName, err)
		}
		p.link = link
	}

	removed := 0
	for _, ip := range p.configuredIPs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		addr := &netlink.Addr{
			IPNet: &net.IPNet{
				IP:   ip,
				Mask: net.CIDRMask(32, 32),
			},
		}

		if err := netlink.AddrDel(p.link, addr); err != nil {
			p.logger.Warn("移除 IP 失敗",
				zap.String("ip", ip.String()),
				zap.Error(err),
			)
			continue
		}
		removed++
	}

	p.configuredIPs = nil

	p.logger.Info("虛擬 IP 移除完成", zap.Int("removed", removed))
	return nil
}

// List 列出介面上的 IPv4 位址
func (p *linuxProvisioner) List(ctx context.Context) ([]net.IP, error) {
	link, err := netlink.LinkByName(p.interfaceName)
	if err != nil {
		return nil, fmt.Errorf("找不到網路介面 %s: %w", p.interfaceName, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("列出 IP 失敗: %w", err)
	}

	var ips []net.IP
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}

	return ips, nil
}
