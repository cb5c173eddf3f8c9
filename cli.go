package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	logger    *zap.Logger
	appConfig *Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "dirissim",
	Short: "Socomec Diris A40 電表模擬器",
	Long: `模擬 Socomec Diris A40 三相電表的 Modbus TCP 閘道器。
提供時變的模擬量測值，讓客戶端軟體不需實體硬體即可測試。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 初始化日誌
		var err error
		logger, err = initLogger()
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}

		// 載入配置 (除了 version 和 help 命令)
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				// 配置載入失敗時使用預設值
				appConfig = DefaultConfig()
				if cfgFile != "" {
					logger.Warn("載入配置檔失敗，使用預設配置", zap.Error(err))
				}
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// startCmd 啟動命令
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "啟動模擬閘道器",
	Long:  "啟動 Diris A40 模擬閘道器，開始監聽 Modbus TCP 請求。",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 覆蓋 CLI 參數
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			appConfig.Server.ListenAddress = addr
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			appConfig.Server.Port = port
		}
		if console, _ := cmd.Flags().GetBool("console"); console {
			appConfig.Console.Enabled = true
		}

		logger.Info("啟動 Diris A40 模擬器",
			zap.String("listen", appConfig.Server.ListenAddress),
			zap.Int("port", appConfig.Server.Port),
			zap.Uint8s("unit_ids", appConfig.Devices.UnitIDs),
		)

		gateway := NewGateway(appConfig, logger)

		// 設置優雅關閉
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		if err := gateway.Start(ctx); err != nil {
			return fmt.Errorf("啟動閘道器失敗: %w", err)
		}

		// 啟動指標收集器
		if appConfig.Metrics.Enabled {
			metrics := NewMetricsCollector(gateway, logger)
			if err := metrics.Start(appConfig.Metrics.Endpoint, appConfig.Metrics.Port); err != nil {
				logger.Warn("啟動指標伺服器失敗", zap.Error(err))
			}
		}

		// 啟動除錯控制台
		if appConfig.Console.Enabled {
			console := NewConsole(gateway, os.Stdin, os.Stdout, logger)
			go console.Run(ctx)
		}

		// 等待信號
		sig := <-sigChan
		logger.Info("收到關閉信號", zap.String("signal", sig.String()))

		// 優雅關閉
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.Server.GracefulTimeout)
		defer shutdownCancel()

		if err := gateway.Stop(shutdownCtx); err != nil {
			logger.Error("關閉閘道器失敗", zap.Error(err))
			return err
		}

		logger.Info("模擬器已停止")
		return nil
	},
}

// stopCmd 停止命令
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "停止模擬器",
	Long:  "停止正在運行的模擬閘道器。",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 透過向 PID 發送信號來停止
		pidFile := "/var/run/dirissim.pid"
		if pid, _ := cmd.Flags().GetString("pid-file"); pid != "" {
			pidFile = pid
		}

		data, err := os.ReadFile(pidFile)
		if err != nil {
			return fmt.Errorf("讀取 PID 檔案失敗: %w", err)
		}

		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
			return fmt.Errorf("解析 PID 失敗: %w", err)
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("找不到程序: %w", err)
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("發送信號失敗: %w", err)
		}

		fmt.Printf("已發送停止信號到 PID %d\n", pid)
		return nil
	},
}

// statusCmd 狀態命令
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看運行狀態",
	Long:  "顯示模擬器的當前運行狀態和統計資訊。",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("請使用 metrics endpoint 查看運行狀態")
		fmt.Printf("  http://localhost:%d%s\n", appConfig.Metrics.Port, appConfig.Metrics.Endpoint)
		return nil
	},
}

// registersCmd 暫存器命令組
var registersCmd = &cobra.Command{
	Use:   "registers",
	Short: "暫存器目錄命令",
	Long:  "檢視模擬裝置的暫存器目錄。",
}

// registersListCmd 列出暫存器
var registersListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出暫存器目錄",
	Long:  "列出 A40 目錄中的所有暫存器位址、寬度與合法範圍。",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := NewA40Catalog()
		if err != nil {
			return fmt.Errorf("建立暫存器目錄失敗: %w", err)
		}

		boundedOnly, _ := cmd.Flags().GetBool("bounded")

		addrs := catalog.Addresses()
		if boundedOnly {
			addrs = catalog.BoundedAddresses()
		}

		fmt.Printf("暫存器目錄 (%d 個位址, %d 個字組):\n", len(addrs), catalog.SlotCount())
		for _, addr := range addrs {
			width, _ := catalog.WidthOf(addr)
			if bounds, ok := catalog.BoundsOf(addr); ok {
				fmt.Printf("  0x%04X  寬度 %d  範圍 [%d, %d]\n", addr, width, bounds.Min, bounds.Max)
			} else {
				fmt.Printf("  0x%04X  寬度 %d\n", addr, width)
			}
		}
		return nil
	},
}

// networkCmd 網路命令組
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "網路管理命令",
	Long:  "管理模擬裝置使用的虛擬 IP。",
}

// networkSetupCmd 設置網路
var networkSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "建立虛擬 IP",
	Long:  "在指定的網路介面上建立模擬裝置的虛擬 IP 位址。",
	RunE: func(cmd *cobra.Command, args []string) error {
		iface, _ := cmd.Flags().GetString("interface")
		if iface != "" {
			appConfig.Network.Interface = iface
		}

		startIP, _ := cmd.Flags().GetString("start")
		endIP, _ := cmd.Flags().GetString("end")
		cidr, _ := cmd.Flags().GetString("cidr")

		if cidr != "" {
			appConfig.Network.IPRanges = []IPRange{{CIDR: cidr}}
		} else if startIP != "" && endIP != "" {
			appConfig.Network.IPRanges = []IPRange{{Start: startIP, End: endIP}}
		}

		provisioner := NewNetworkProvisioner(appConfig.Network.Interface, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := provisioner.Setup(ctx, appConfig.Network.IPRanges); err != nil {
			return fmt.Errorf("設置網路失敗: %w", err)
		}

		fmt.Println("虛擬 IP 設置完成")
		return nil
	},
}

// networkTeardownCmd 移除網路
var networkTeardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "移除虛擬 IP",
	Long:  "移除已配置的虛擬 IP 位址。",
	RunE: func(cmd *cobra.Command, args []string) error {
		iface, _ := cmd.Flags().GetString("interface")
		if iface != "" {
			appConfig.Network.Interface = iface
		}

		provisioner := NewNetworkProvisioner(appConfig.Network.Interface, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := provisioner.Teardown(ctx); err != nil {
			return fmt.Errorf("移除網路失敗: %w", err)
		}

		fmt.Println("虛擬 IP 已移除")
		return nil
	},
}

// networkListCmd 列出網路
var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已配置 IP",
	Long:  "列出目前已配置的虛擬 IP 位址。",
	RunE: func(cmd *cobra.Command, args []string) error {
		iface, _ := cmd.Flags().GetString("interface")
		if iface != "" {
			appConfig.Network.Interface = iface
		}

		provisioner := NewNetworkProvisioner(appConfig.Network.Interface, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ips, err := provisioner.List(ctx)
		if err != nil {
			return fmt.Errorf("列出 IP 失敗: %w", err)
		}

		if len(ips) == 0 {
			fmt.Println("目前沒有配置虛擬 IP")
			return nil
		}

		fmt.Printf("已配置的虛擬 IP (%d 個):\n", len(ips))
		for _, ip := range ips {
			fmt.Printf("  - %s\n", ip.String())
		}
		return nil
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		fmt.Println("配置驗證通過")
		fmt.Printf("  Listen: %s:%d\n", cfg.Server.ListenAddress, cfg.Server.Port)
		fmt.Printf("  Devices: %d (single=%v)\n", len(cfg.Devices.UnitIDs), cfg.Devices.Single)
		fmt.Printf("  Tick: %v\n", cfg.Simulation.TickInterval)
		fmt.Printf("  Identity: %s %s %s\n", cfg.Identity.Vendor, cfg.Identity.Product, cfg.Identity.Model)
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "config.json"
		}

		cfg := DefaultConfig()

		if err := cfg.SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Printf("範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dirissim version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")

	// start 命令 flags
	startCmd.Flags().StringP("listen", "l", "", "監聽位址")
	startCmd.Flags().IntP("port", "p", 0, "監聽埠號")
	startCmd.Flags().Bool("console", false, "啟用除錯控制台")

	// stop 命令 flags
	stopCmd.Flags().String("pid-file", "/var/run/dirissim.pid", "PID 檔案路徑")

	// registers 命令 flags
	registersListCmd.Flags().Bool("bounded", false, "只列出有合法範圍的暫存器")

	// network 命令 flags
	networkSetupCmd.Flags().StringP("interface", "i", "eth0", "網路介面")
	networkSetupCmd.Flags().String("start", "", "起始 IP")
	networkSetupCmd.Flags().String("end", "", "結束 IP")
	networkSetupCmd.Flags().String("cidr", "", "CIDR 表示法")

	networkTeardownCmd.Flags().StringP("interface", "i", "eth0", "網路介面")
	networkListCmd.Flags().StringP("interface", "i", "eth0", "網路介面")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "config.json", "輸出檔案路徑")

	// 組裝命令樹
	registersCmd.AddCommand(registersListCmd)
	networkCmd.AddCommand(networkSetupCmd, networkTeardownCmd, networkListCmd)
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		registersCmd,
		networkCmd,
		configCmd,
		versionCmd,
	)
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Execute 執行 CLI
func Execute() error {
	return rootCmd.Execute()
}
