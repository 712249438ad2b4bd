package generation

import (
	"fmt"
	"net"
	"strconv"
)

const (
	telemetryHost      = "127.0.0.1"
	metricExportMillis = "2000"
	batchDelayMillis   = "1000"
)

// telemetryEnv returns the child environment that points the engine at the
// receiver on port, or disables telemetry when port is 0.
func telemetryEnv(port int, serviceName string) []string {
	if port <= 0 {
		return []string{"CLAUDE_CODE_ENABLE_TELEMETRY=0"}
	}
	endpoint := "http://" + net.JoinHostPort(telemetryHost, strconv.Itoa(port))
	return []string{
		"CLAUDE_CODE_ENABLE_TELEMETRY=1",
		"OTEL_METRICS_EXPORTER=otlp",
		"OTEL_TRACES_EXPORTER=otlp",
		"OTEL_LOGS_EXPORTER=otlp",
		"OTEL_EXPORTER_OTLP_ENDPOINT=" + endpoint,
		"OTEL_EXPORTER_OTLP_PROTOCOL=http/json",
		"OTEL_EXPORTER_OTLP_COMPRESSION=none",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=" + endpoint + "/v1/metrics",
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT=" + endpoint + "/v1/logs",
		"OTEL_SERVICE_NAME=" + serviceName,
		fmt.Sprintf("OTEL_RESOURCE_ATTRIBUTES=service.name=%s", serviceName),
		"OTEL_METRIC_EXPORT_INTERVAL=" + metricExportMillis,
		"OTEL_BSP_SCHEDULE_DELAY=" + batchDelayMillis,
	}
}
