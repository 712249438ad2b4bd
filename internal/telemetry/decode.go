package telemetry

import (
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	contentTypeJSON     = "application/json"
	contentTypeProtobuf = "application/x-protobuf"

	maxPayloadBytes = 16 << 20
)

// Log record attributes read by the ingestion path.
const (
	attrEventName           = "event.name"
	attrInputTokens         = "input_tokens"
	attrOutputTokens        = "output_tokens"
	attrCacheReadTokens     = "cache_read_tokens"
	attrCacheCreationTokens = "cache_creation_tokens"
	attrCostUSD             = "cost_usd"

	eventAPIRequest = "api_request"
	eventUserPrompt = "user_prompt"
)

var jsonUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// ParseError reports a telemetry payload that could not be decoded. It is
// logged and answered with 400; it never affects later payloads.
type ParseError struct {
	Signal string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Signal, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is a telemetry ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// usage is one log record's contribution, already normalized to a single
// numeric type per field.
type usage struct {
	InputTokens         uint64
	OutputTokens        uint64
	CacheReadTokens     uint64
	CacheCreationTokens uint64
	CostUSD             float64
}

// readPayload decodes an OTLP export request body into msg. It returns the
// negotiated content type so the response can be encoded the same way.
func readPayload(r *http.Request, signal string, msg proto.Message) (string, error) {
	contentType, err := payloadContentType(r)
	if err != nil {
		return contentTypeJSON, &ParseError{Signal: signal, Err: err}
	}

	if enc := strings.TrimSpace(r.Header.Get("Content-Encoding")); enc != "" && !strings.EqualFold(enc, "identity") {
		return contentType, &ParseError{Signal: signal, Err: fmt.Errorf("unsupported content encoding %q", enc)}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		return contentType, &ParseError{Signal: signal, Err: err}
	}
	if len(body) > maxPayloadBytes {
		return contentType, &ParseError{Signal: signal, Err: errors.New("payload too large")}
	}
	if msg == nil {
		return contentType, nil
	}

	if contentType == contentTypeProtobuf {
		err = proto.Unmarshal(body, msg)
	} else {
		err = jsonUnmarshal.Unmarshal(body, msg)
	}
	if err != nil {
		return contentType, &ParseError{Signal: signal, Err: err}
	}
	return contentType, nil
}

func payloadContentType(r *http.Request) (string, error) {
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return contentTypeJSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", err
	}
	switch mediaType {
	case contentTypeJSON, contentTypeProtobuf:
		return mediaType, nil
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

// logUsages extracts the usage of every api_request / user_prompt record.
func logUsages(req *collogspb.ExportLogsServiceRequest) (records int, out []usage) {
	for _, rl := range req.GetResourceLogs() {
		for _, sl := range rl.GetScopeLogs() {
			for _, rec := range sl.GetLogRecords() {
				records++
				if u, ok := usageFromRecord(rec); ok {
					out = append(out, u)
				}
			}
		}
	}
	return records, out
}

func usageFromRecord(rec *logspb.LogRecord) (usage, bool) {
	var (
		event string
		u     usage
	)
	for _, kv := range rec.GetAttributes() {
		switch kv.GetKey() {
		case attrEventName:
			event = kv.GetValue().GetStringValue()
		case attrInputTokens:
			u.InputTokens = attrUint(kv.GetValue())
		case attrOutputTokens:
			u.OutputTokens = attrUint(kv.GetValue())
		case attrCacheReadTokens:
			u.CacheReadTokens = attrUint(kv.GetValue())
		case attrCacheCreationTokens:
			u.CacheCreationTokens = attrUint(kv.GetValue())
		case attrCostUSD:
			u.CostUSD = attrFloat(kv.GetValue())
		}
	}
	return u, event == eventAPIRequest || event == eventUserPrompt
}

// metricDataPoints counts number data points; metrics are acknowledged only.
func metricDataPoints(req *colmetricspb.ExportMetricsServiceRequest) int {
	n := 0
	for _, rm := range req.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				n += len(m.GetSum().GetDataPoints()) + len(m.GetGauge().GetDataPoints())
			}
		}
	}
	return n
}

// attrUint normalizes a counter attribute. Engines send these either as
// stringValue ("42") or intValue (42); anything unparsable counts as 0.
func attrUint(v *commonpb.AnyValue) uint64 {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		n, err := strconv.ParseUint(strings.TrimSpace(x.StringValue), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case *commonpb.AnyValue_IntValue:
		if x.IntValue < 0 {
			return 0
		}
		return uint64(x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		if !finite(x.DoubleValue) || x.DoubleValue < 0 || x.DoubleValue >= math.MaxUint64 {
			return 0
		}
		return uint64(x.DoubleValue)
	default:
		return 0
	}
}

func attrFloat(v *commonpb.AnyValue) float64 {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(x.StringValue), 64)
		if err != nil || !finite(f) {
			return 0
		}
		return f
	case *commonpb.AnyValue_DoubleValue:
		if !finite(x.DoubleValue) {
			return 0
		}
		return x.DoubleValue
	case *commonpb.AnyValue_IntValue:
		return float64(x.IntValue)
	default:
		return 0
	}
}

// finite rejects NaN and infinities, which would make the snapshot
// unencodable as JSON.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
