package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Console 互動式除錯控制台
//
// 掛在標準輸入上，讓操作者在閘道器運行時檢視暫存器、手動觸發
// 一次模擬 tick、或查看統計。以配置開關啟用。
type Console struct {
	gateway *Gateway
	in      io.Reader
	out     io.Writer
	logger  *zap.Logger
}

// NewConsole 建立控制台
func NewConsole(gateway *Gateway, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{
		gateway: gateway,
		in:      in,
		out:     out,
		logger:  logger,
	}
}

// Run 讀取並執行命令直到輸入結束或 context 取消
func (c *Console) Run(ctx context.Context) {
	fmt.Fprintln(c.out, "dirissim 除錯控制台 (help 查看命令)")

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			c.printHelp()
		case "read":
			c.cmdRead(fields[1:])
		case "value":
			c.cmdValue(fields[1:])
		case "step":
			c.cmdStep()
		case "stats":
			c.cmdStats()
		case "devices":
			c.cmdDevices()
		case "exit", "quit":
			return
		default:
			fmt.Fprintf(c.out, "未知命令: %s\n", fields[0])
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `命令:
  read <unit> <addr> <count>   讀取字組 (位址可用 0x 前綴)
  value <unit> <addr>          讀取暫存器邏輯值
  step                         對所有裝置手動觸發一次模擬 tick
  stats                        顯示閘道器統計
  devices                      列出模擬裝置
  exit                         離開控制台
`)
}

func (c *Console) device(arg string) (*Device, bool) {
	unit, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		fmt.Fprintf(c.out, "無效的 unit id: %s\n", arg)
		return nil, false
	}
	dev, ok := c.gateway.Device(uint8(unit))
	if !ok {
		fmt.Fprintf(c.out, "找不到 unit %d 的裝置\n", unit)
		return nil, false
	}
	return dev, true
}

func (c *Console) cmdRead(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "用法: read <unit> <addr> <count>")
		return
	}

	dev, ok := c.device(args[0])
	if !ok {
		return
	}

	addr, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		fmt.Fprintf(c.out, "無效的位址: %s\n", args[1])
		return
	}
	count, err := strconv.Atoi(args[2])
	if err != nil || count < 1 {
		fmt.Fprintf(c.out, "無效的數量: %s\n", args[2])
		return
	}

	if !dev.Validate(KindHoldingRegister, uint16(addr), count) {
		fmt.Fprintf(c.out, "範圍無效: 0x%04X+%d\n", addr, count)
		return
	}

	words, err := dev.Read(KindHoldingRegister, uint16(addr), count)
	if err != nil {
		fmt.Fprintf(c.out, "讀取失敗: %v\n", err)
		return
	}

	for i, w := range words {
		fmt.Fprintf(c.out, "  0x%04X = 0x%04X (%d)\n", uint16(addr)+uint16(i), w, w)
	}
}

func (c *Console) cmdValue(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "用法: value <unit> <addr>")
		return
	}

	dev, ok := c.device(args[0])
	if !ok {
		return
	}

	addr, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		fmt.Fprintf(c.out, "無效的位址: %s\n", args[1])
		return
	}

	value, err := dev.Store().ReadLogical(uint16(addr))
	if err != nil {
		fmt.Fprintf(c.out, "讀取失敗: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "  0x%04X = %d\n", addr, value)
}

func (c *Console) cmdStep() {
	for _, dev := range c.gateway.ListDevices() {
		dev.Engine().Step()
	}
	fmt.Fprintln(c.out, "已觸發一次模擬 tick")
}

func (c *Console) cmdStats() {
	stats := c.gateway.Stats()
	fmt.Fprintf(c.out, "  狀態: %s\n", c.gateway.State())
	fmt.Fprintf(c.out, "  請求: %d (錯誤 %d)\n", stats.RequestCount.Load(), stats.ErrorCount.Load())
	fmt.Fprintf(c.out, "  連線: %d (已拒絕 %d)\n", stats.ActiveConnections.Load(), stats.RejectedConnections.Load())
	fmt.Fprintf(c.out, "  流量: 收 %d / 送 %d bytes\n", stats.BytesReceived.Load(), stats.BytesSent.Load())
}

func (c *Console) cmdDevices() {
	for _, dev := range c.gateway.ListDevices() {
		meter, _ := dev.Store().ReadLogical(RegHourMeter)
		fmt.Fprintf(c.out, "  unit %d: %s %s %s, 小時計 %d\n",
			dev.UnitID, dev.Identity.Vendor, dev.Identity.Product, dev.Identity.Model, meter)
	}
}
