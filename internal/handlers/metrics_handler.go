package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"complyhub/internal/metrics"

	"github.com/gin-gonic/gin"
)

// ClientCounter 提供在线连接数
type ClientCounter interface {
	GetClientCount() int
}

// PendingCounter 提供分发队列积压
type PendingCounter interface {
	Pending() int
}

// MetricsHandler 指标处理器
type MetricsHandler struct {
	hub        ClientCounter
	dispatcher PendingCounter
	version    string
	startedAt  time.Time
}

// NewMetricsHandler 创建指标处理器；hub 与 dispatcher 可为 nil
func NewMetricsHandler(hub ClientCounter, dispatcher PendingCounter, version string) *MetricsHandler {
	return &MetricsHandler{hub: hub, dispatcher: dispatcher, version: version, startedAt: time.Now()}
}

// GetMetrics 获取系统指标（Prometheus 格式）
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")

	// 采样运行态
	uptime := time.Since(h.startedAt).Seconds()
	wsClients, pending := 0, 0
	if h.hub != nil {
		wsClients = h.hub.GetClientCount()
	}
	if h.dispatcher != nil {
		pending = h.dispatcher.Pending()
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "# HELP complyhub_info Information about the complyhub instance\n")
	fmt.Fprintf(b, "# TYPE complyhub_info gauge\n")
	fmt.Fprintf(b, "complyhub_info{version=%q} 1\n\n", h.version)

	fmt.Fprintf(b, "# HELP complyhub_uptime_seconds Total uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE complyhub_uptime_seconds counter\n")
	fmt.Fprintf(b, "complyhub_uptime_seconds %.0f\n\n", uptime)

	fmt.Fprintf(b, "# HELP complyhub_websocket_active_connections Active WebSocket connections\n")
	fmt.Fprintf(b, "# TYPE complyhub_websocket_active_connections gauge\n")
	fmt.Fprintf(b, "complyhub_websocket_active_connections %d\n\n", wsClients)

	fmt.Fprintf(b, "# HELP complyhub_automation_dispatcher_pending Triggers waiting in the in-process queue\n")
	fmt.Fprintf(b, "# TYPE complyhub_automation_dispatcher_pending gauge\n")
	fmt.Fprintf(b, "complyhub_automation_dispatcher_pending %d\n\n", pending)

	for _, ctr := range metrics.Snapshot() {
		fmt.Fprintf(b, "# HELP %s %s\n", ctr.Name, ctr.Help)
		fmt.Fprintf(b, "# TYPE %s counter\n", ctr.Name)
		fmt.Fprintf(b, "%s %d\n", ctr.Name, ctr.Total)
		for _, label := range ctr.Labels() {
			fmt.Fprintf(b, "%s{%s=%q} %d\n", ctr.Name, ctr.Label, label, ctr.ByLabel[label])
		}
		b.WriteString("\n")
	}

	c.String(http.StatusOK, b.String())
}
