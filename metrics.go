package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector 指標收集器
type MetricsCollector struct {
	mu sync.RWMutex

	// 歷史記錄 (用於計算速率)
	requestHistory []requestSample
	maxHistory     int

	// 參照
	gateway *Gateway
	logger  *zap.Logger
}

type requestSample struct {
	timestamp time.Time
	requests  uint64
	errors    uint64
}

// MetricsSnapshot 指標快照
type MetricsSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	GatewayState string    `json:"gateway_state"`

	Vendor  string `json:"vendor"`
	Product string `json:"product"`
	Model   string `json:"model"`

	// 裝置指標
	Devices int `json:"devices"`

	// 連線指標
	ActiveConnections   int64  `json:"active_connections"`
	RejectedConnections uint64 `json:"rejected_connections"`

	// 請求指標
	TotalRequests  uint64  `json:"total_requests"`
	TotalErrors    uint64  `json:"total_errors"`
	ErrorRate      float64 `json:"error_rate"`
	RequestsPerSec float64 `json:"requests_per_sec"`
	BytesReceived  uint64  `json:"bytes_received"`
	BytesSent      uint64  `json:"bytes_sent"`

	// 樣本暫存器 (第一個裝置的邏輯值)
	SampleHourMeter     int64   `json:"sample_hour_meter"`
	SampleFrequency     float64 `json:"sample_frequency,omitempty"`
	SamplePhaseCurrent1 float64 `json:"sample_phase_current_1,omitempty"`
}

// NewMetricsCollector 建立指標收集器
func NewMetricsCollector(gateway *Gateway, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		gateway:    gateway,
		logger:     logger,
		maxHistory: 60, // 保留 60 個樣本 (用於計算每秒速率)
	}
}

// Start 啟動指標收集與 HTTP 伺服器
func (m *MetricsCollector) Start(endpoint string, port int) error {
	go m.collectLoop()

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, m.handleMetrics)
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/ready", m.handleReady)

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("啟動指標伺服器", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()

	return nil
}

// collectLoop 背景收集迴圈
func (m *MetricsCollector) collectLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collect()
	}
}

// collect 收集一個速率樣本
func (m *MetricsCollector) collect() {
	if m.gateway == nil {
		return
	}

	stats := m.gateway.Stats()

	m.mu.Lock()
	defer m.mu.Unlock()

	sample := requestSample{
		timestamp: time.Now(),
		requests:  stats.RequestCount.Load(),
		errors:    stats.ErrorCount.Load(),
	}
	m.requestHistory = append(m.requestHistory, sample)
	if len(m.requestHistory) > m.maxHistory {
		m.requestHistory = m.requestHistory[1:]
	}
}

// Snapshot 取得指標快照
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.gateway.Stats()
	totalReqs := stats.RequestCount.Load()
	totalErrs := stats.ErrorCount.Load()

	snapshot := MetricsSnapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(stats.StartTime).String(),
		GatewayState:        m.gateway.State().String(),
		Devices:             len(m.gateway.ListDevices()),
		ActiveConnections:   stats.ActiveConnections.Load(),
		RejectedConnections: stats.RejectedConnections.Load(),
		TotalRequests:       totalReqs,
		TotalErrors:         totalErrs,
		BytesReceived:       stats.BytesReceived.Load(),
		BytesSent:           stats.BytesSent.Load(),
	}

	// 計算錯誤率
	if totalReqs > 0 {
		snapshot.ErrorRate = float64(totalErrs) / float64(totalReqs) * 100
	}

	// 計算每秒請求數 (使用最近的歷史記錄)
	if len(m.requestHistory) >= 2 {
		first := m.requestHistory[0]
		last := m.requestHistory[len(m.requestHistory)-1]
		duration := last.timestamp.Sub(first.timestamp).Seconds()
		if duration > 0 {
			snapshot.RequestsPerSec = float64(last.requests-first.requests) / duration
		}
	}

	// 取第一個裝置的樣本暫存器值
	devices := m.gateway.ListDevices()
	if len(devices) > 0 {
		dev := devices[0]
		snapshot.Vendor = dev.Identity.Vendor
		snapshot.Product = dev.Identity.Product
		snapshot.Model = dev.Identity.Model

		store := dev.Store()
		if meter, err := store.ReadLogical(RegHourMeter); err == nil {
			snapshot.SampleHourMeter = meter
		}
		// 頻率與電流的邏輯值以 1/100 為單位
		if freq, err := store.ReadLogical(RegFrequency); err == nil {
			snapshot.SampleFrequency = float64(freq) / 100
		}
		if current, err := store.ReadLogical(RegPhaseCurrent1); err == nil {
			snapshot.SamplePhaseCurrent1 = float64(current) / 100
		}
	}

	return snapshot
}

// handleMetrics 處理 /metrics 請求
func (m *MetricsCollector) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := m.Snapshot()

	// 檢查 Accept header
	accept := r.Header.Get("Accept")
	if accept == "application/json" || r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
		return
	}

	// Prometheus 格式
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "# HELP dirissim_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE dirissim_uptime_seconds gauge\n")
	fmt.Fprintf(w, "dirissim_uptime_seconds %f\n\n", time.Since(m.gateway.Stats().StartTime).Seconds())

	fmt.Fprintf(w, "# HELP dirissim_devices Simulated devices behind the gateway\n")
	fmt.Fprintf(w, "# TYPE dirissim_devices gauge\n")
	fmt.Fprintf(w, "dirissim_devices %d\n\n", snapshot.Devices)

	fmt.Fprintf(w, "# HELP dirissim_connections_active Active client connections\n")
	fmt.Fprintf(w, "# TYPE dirissim_connections_active gauge\n")
	fmt.Fprintf(w, "dirissim_connections_active %d\n\n", snapshot.ActiveConnections)

	fmt.Fprintf(w, "# HELP dirissim_connections_rejected_total Connections rejected by the cap\n")
	fmt.Fprintf(w, "# TYPE dirissim_connections_rejected_total counter\n")
	fmt.Fprintf(w, "dirissim_connections_rejected_total %d\n\n", snapshot.RejectedConnections)

	fmt.Fprintf(w, "# HELP dirissim_requests_total Total number of requests\n")
	fmt.Fprintf(w, "# TYPE dirissim_requests_total counter\n")
	fmt.Fprintf(w, "dirissim_requests_total %d\n\n", snapshot.TotalRequests)

	fmt.Fprintf(w, "# HELP dirissim_errors_total Total number of errors\n")
	fmt.Fprintf(w, "# TYPE dirissim_errors_total counter\n")
	fmt.Fprintf(w, "dirissim_errors_total %d\n\n", snapshot.TotalErrors)

	fmt.Fprintf(w, "# HELP dirissim_requests_per_second Requests per second\n")
	fmt.Fprintf(w, "# TYPE dirissim_requests_per_second gauge\n")
	fmt.Fprintf(w, "dirissim_requests_per_second %f\n\n", snapshot.RequestsPerSec)

	fmt.Fprintf(w, "# HELP dirissim_bytes_received_total Total bytes received\n")
	fmt.Fprintf(w, "# TYPE dirissim_bytes_received_total counter\n")
	fmt.Fprintf(w, "dirissim_bytes_received_total %d\n\n", snapshot.BytesReceived)

	fmt.Fprintf(w, "# HELP dirissim_bytes_sent_total Total bytes sent\n")
	fmt.Fprintf(w, "# TYPE dirissim_bytes_sent_total counter\n")
	fmt.Fprintf(w, "dirissim_bytes_sent_total %d\n\n", snapshot.BytesSent)

	fmt.Fprintf(w, "# HELP dirissim_sample_hour_meter Hour meter of the first device (1/100 h)\n")
	fmt.Fprintf(w, "# TYPE dirissim_sample_hour_meter counter\n")
	fmt.Fprintf(w, "dirissim_sample_hour_meter %d\n\n", snapshot.SampleHourMeter)

	fmt.Fprintf(w, "# HELP dirissim_sample_frequency Sampled frequency reading (Hz)\n")
	fmt.Fprintf(w, "# TYPE dirissim_sample_frequency gauge\n")
	fmt.Fprintf(w, "dirissim_sample_frequency %f\n\n", snapshot.SampleFrequency)

	fmt.Fprintf(w, "# HELP dirissim_sample_phase_current_1 Sampled phase 1 current (A)\n")
	fmt.Fprintf(w, "# TYPE dirissim_sample_phase_current_1 gauge\n")
	fmt.Fprintf(w, "dirissim_sample_phase_current_1 %f\n", snapshot.SamplePhaseCurrent1)
}

// handleHealth 處理 /health 請求
func (m *MetricsCollector) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求
func (m *MetricsCollector) handleReady(w http.ResponseWriter, r *http.Request) {
	if m.gateway == nil || m.gateway.State() != GatewayStateRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
