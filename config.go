package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config 全域配置
type Config struct {
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Devices    DevicesConfig    `json:"devices" mapstructure:"devices"`
	Simulation SimulationConfig `json:"simulation" mapstructure:"simulation"`
	Identity   DeviceIdentity   `json:"identity" mapstructure:"identity"`
	Console    ConsoleConfig    `json:"console" mapstructure:"console"`
	Network    NetworkConfig    `json:"network" mapstructure:"network"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig 伺服器配置
type ServerConfig struct {
	ListenAddress   string        `json:"listen_address" mapstructure:"listen_address"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	GracefulTimeout time.Duration `json:"graceful_timeout" mapstructure:"graceful_timeout"`
}

// DevicesConfig 模擬裝置配置
type DevicesConfig struct {
	// UnitIDs 閘道器後面的裝置識別碼
	UnitIDs []uint8 `json:"unit_ids" mapstructure:"unit_ids"`

	// Single 為真時忽略 unit identifier，所有請求都導向第一個裝置
	Single bool `json:"single" mapstructure:"single"`
}

// SimulationConfig 模擬引擎配置
type SimulationConfig struct {
	TickInterval time.Duration `json:"tick_interval" mapstructure:"tick_interval"`
	WalkStep     int64         `json:"walk_step" mapstructure:"walk_step"`
}

// ConsoleConfig 除錯控制台配置
type ConsoleConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// NetworkConfig 網路配置 (虛擬 IP)
type NetworkConfig struct {
	Interface string    `json:"interface" mapstructure:"interface"`
	IPRanges  []IPRange `json:"ip_ranges" mapstructure:"ip_ranges"`
}

// IPRange IP 範圍
type IPRange struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
	CIDR  string `json:"cidr" mapstructure:"cidr"`
}

// LoggingConfig 日誌配置
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// MetricsConfig 指標配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" mapstructure:"port"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   "localhost",
			Port:            5020,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxConnections:  4,
			GracefulTimeout: 10 * time.Second,
		},
		Devices: DevicesConfig{
			UnitIDs: []uint8{0x01, 0x02, 0x03},
			Single:  false,
		},
		Simulation: SimulationConfig{
			TickInterval: time.Second,
			WalkStep:     25,
		},
		Identity: DefaultIdentity(),
		Console: ConsoleConfig{
			Enabled: false,
		},
		Network: NetworkConfig{
			Interface: "eth0",
			IPRanges:  []IPRange{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
			Port:     9090,
		},
	}
}

// LoadConfig 載入配置檔
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/dirissim/")
		viper.AddConfigPath("$HOME/.dirissim/")
	}

	// 環境變數覆蓋
	viper.SetEnvPrefix("DIRISSIM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的埠號: %d", c.Server.Port)
	}

	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("連線上限必須大於 0")
	}

	if len(c.Devices.UnitIDs) == 0 {
		return fmt.Errorf("至少需要一個裝置 unit id")
	}

	seen := make(map[uint8]bool)
	for _, id := range c.Devices.UnitIDs {
		if seen[id] {
			return fmt.Errorf("重複的 unit id: %d", id)
		}
		seen[id] = true
	}

	if c.Simulation.TickInterval <= 0 {
		return fmt.Errorf("更新週期必須大於 0")
	}

	if c.Simulation.WalkStep <= 0 {
		return fmt.Errorf("漫步步長必須大於 0")
	}

	for _, ipRange := range c.Network.IPRanges {
		if err := ipRange.Validate(); err != nil {
			return fmt.Errorf("IP 範圍驗證失敗: %w", err)
		}
	}

	return nil
}

// Validate 驗證 IP 範圍
func (r *IPRange) Validate() error {
	if r.CIDR != "" {
		_, _, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			return fmt.Errorf("無效的 CIDR: %s", r.CIDR)
		}
		return nil
	}

	if r.Start == "" || r.End == "" {
		return fmt.Errorf("必須指定 Start 和 End 或 CIDR")
	}

	if net.ParseIP(r.Start) == nil {
		return fmt.Errorf("無效的起始 IP: %s", r.Start)
	}

	if net.ParseIP(r.End) == nil {
		return fmt.Errorf("無效的結束 IP: %s", r.End)
	}

	return nil
}

// SaveConfig 儲存配置到檔案
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}

// Expand 展開 IP 範圍
func (r *IPRange) Expand() ([]net.IP, error) {
	if r.CIDR != "" {
		return expandCIDR(r.CIDR)
	}
	return expandRange(r.Start, r.End)
}

func expandCIDR(cidr string) ([]net.IP, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for ip := ip.Mask(ipNet.Mask); ipNet.Contains(ip); incIP(ip) {
		ipCopy := make(net.IP, len(ip))
		copy(ipCopy, ip)
		ips = append(ips, ipCopy)
	}

	// 移除網路位址和廣播位址
	if len(ips) > 2 {
		ips = ips[1 : len(ips)-1]
	}

	return ips, nil
}

func expandRange(start, end string) ([]net.IP, error) {
	startIP := net.ParseIP(start).To4()
	endIP := net.ParseIP(end).To4()

	if startIP == nil || endIP == nil {
		return nil, fmt.Errorf("無效的 IP 範圍: %s - %s", start, end)
	}

	var ips []net.IP
	for ip := startIP; !ip.Equal(endIP); incIP(ip) {
		ipCopy := make(net.IP, len(ip))
		copy(ipCopy, ip)
		ips = append(ips, ipCopy)
	}
	// 包含結束 IP
	ipCopy := make(net.IP, len(endIP))
	copy(ipCopy, endIP)
	ips = append(ips, ipCopy)

	return ips, nil
}

func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
