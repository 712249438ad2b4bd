package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// processingPercentage is reported for every telemetry-driven progress event.
const processingPercentage = 50

// Signal names used for logging and metrics.
const (
	SignalLogs    = "logs"
	SignalMetrics = "metrics"
	SignalTraces  = "traces"
)

// Observer is notified about ingestion outcomes. Implementations must not block.
type Observer interface {
	ObserveIngest(ctx context.Context, signal string, records int)
	ObserveParseError(ctx context.Context, signal string)
}

// BindError indicates the receiver could not listen on its port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind telemetry receiver on port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Receiver is a loopback OTLP/HTTP endpoint. Log records carrying API usage
// are folded into a Snapshot; metrics and traces are acknowledged only.
type Receiver struct {
	port     int
	hub      *Hub
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	snapshot Snapshot

	srvMu  sync.Mutex
	server *http.Server
}

// NewReceiver creates a receiver for the given port. Port 0 picks a free port
// at Start.
func NewReceiver(port int, observer Observer) *Receiver {
	return &Receiver{
		port:     port,
		hub:      NewHub(),
		observer: observer,
		now:      time.Now,
		snapshot: NewSnapshot(),
	}
}

// Port returns the bound port (or the requested port before Start).
func (r *Receiver) Port() int {
	r.srvMu.Lock()
	defer r.srvMu.Unlock()
	return r.port
}

// Handler returns the receiver's HTTP routes.
func (r *Receiver) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.AllowAll().Handler)

	router.Post("/v1/metrics", r.handleMetrics)
	router.Post("/v1/logs", r.handleLogs)
	router.Post("/v1/traces", r.handleTraces)
	router.Get("/status", r.handleStatus)
	router.Get("/health", r.handleHealth)
	return router
}

// Start binds 127.0.0.1:<port> and serves in the background.
func (r *Receiver) Start() error {
	r.srvMu.Lock()
	defer r.srvMu.Unlock()
	if r.server != nil {
		return errors.New("telemetry receiver already started")
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(r.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Port: r.port, Err: err}
	}
	r.port = ln.Addr().(*net.TCPAddr).Port

	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	server := r.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("telemetry: receiver on %s stopped: %v", ln.Addr(), err)
		}
	}()

	log.Printf("telemetry: receiver listening on %s", ln.Addr())
	return nil
}

// Close shuts the listener down and closes all subscriptions.
func (r *Receiver) Close(ctx context.Context) error {
	r.srvMu.Lock()
	server := r.server
	r.server = nil
	r.srvMu.Unlock()

	r.hub.Close()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Subscribe returns a new independent progress subscription.
func (r *Receiver) Subscribe() *Subscription {
	return r.hub.Subscribe()
}

// Telemetry returns a copy of the current snapshot.
func (r *Receiver) Telemetry() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.Clone()
}

// ResetTelemetry zeroes the snapshot.
func (r *Receiver) ResetTelemetry() {
	r.mu.Lock()
	r.snapshot = NewSnapshot()
	r.mu.Unlock()
	log.Printf("telemetry: snapshot reset")
}

// IngestLogs accumulates usage from api_request and user_prompt records and,
// once any tokens have been seen, publishes a processing event. It returns the
// number of log records in the request.
func (r *Receiver) IngestLogs(req *collogspb.ExportLogsServiceRequest) int {
	records, usages := logUsages(req)

	r.mu.Lock()
	for _, u := range usages {
		r.snapshot.apply(u)
	}
	now := r.now().UTC()
	r.snapshot.LastUpdate = &now
	total := r.snapshot.TokensTotal
	cost := r.snapshot.CostUSD
	var published Snapshot
	if total > 0 {
		published = r.snapshot.Clone()
	}
	r.mu.Unlock()

	if total == 0 {
		return records
	}

	log.Printf("telemetry: after logs tokens=%d cost=$%.3f", total, cost)
	r.hub.Publish(ProgressEvent{
		Stage:      StageProcessing,
		Message:    fmt.Sprintf("Processing... (%d tokens)", total),
		Percentage: processingPercentage,
		Telemetry:  &published,
	})
	return records
}

func (r *Receiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	payload := &collogspb.ExportLogsServiceRequest{}
	contentType, err := readPayload(req, SignalLogs, payload)
	if err != nil {
		r.rejectPayload(w, req, SignalLogs, err)
		return
	}

	records := r.IngestLogs(payload)
	r.observeIngest(req.Context(), SignalLogs, records)
	writeExportResponse(w, contentType, &collogspb.ExportLogsServiceResponse{})
}

// handleMetrics validates and acknowledges metric exports. Metric data is not
// folded into the snapshot; usage is taken from log events only.
func (r *Receiver) handleMetrics(w http.ResponseWriter, req *http.Request) {
	payload := &colmetricspb.ExportMetricsServiceRequest{}
	contentType, err := readPayload(req, SignalMetrics, payload)
	if err != nil {
		r.rejectPayload(w, req, SignalMetrics, err)
		return
	}

	r.observeIngest(req.Context(), SignalMetrics, metricDataPoints(payload))
	writeExportResponse(w, contentType, &colmetricspb.ExportMetricsServiceResponse{})
}

func (r *Receiver) handleTraces(w http.ResponseWriter, req *http.Request) {
	contentType, err := readPayload(req, SignalTraces, nil)
	if err != nil {
		r.rejectPayload(w, req, SignalTraces, err)
		return
	}

	r.observeIngest(req.Context(), SignalTraces, 0)
	writeExportResponse(w, contentType, &coltracepb.ExportTraceServiceResponse{})
}

func (r *Receiver) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.Telemetry())
}

func (r *Receiver) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": r.now().UTC().Format(time.RFC3339),
	})
}

func (r *Receiver) rejectPayload(w http.ResponseWriter, req *http.Request, signal string, err error) {
	log.Printf("telemetry: ignoring %s payload: %v", signal, err)
	if r.observer != nil {
		r.observer.ObserveParseError(req.Context(), signal)
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
}

func (r *Receiver) observeIngest(ctx context.Context, signal string, records int) {
	if r.observer != nil {
		r.observer.ObserveIngest(ctx, signal, records)
	}
}

func writeExportResponse(w http.ResponseWriter, contentType string, msg proto.Message) {
	var (
		body []byte
		err  error
	)
	if contentType == contentTypeProtobuf {
		body, err = proto.Marshal(msg)
	} else {
		body, err = protojson.Marshal(msg)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
