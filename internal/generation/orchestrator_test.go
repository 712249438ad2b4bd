package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"prp-generator/internal/engine"
	"prp-generator/internal/telemetry"
)

type stubTelemetry struct {
	hub      *telemetry.Hub
	port     int
	startErr error
	snapshot telemetry.Snapshot

	mu     sync.Mutex
	resets int
}

func newStubTelemetry() *stubTelemetry {
	return &stubTelemetry{hub: telemetry.NewHub(), port: 45123, snapshot: telemetry.NewSnapshot()}
}

func (s *stubTelemetry) GetOrStart(context.Context) (int, *telemetry.Subscription, error) {
	if s.startErr != nil {
		return 0, nil, s.startErr
	}
	return s.port, s.hub.Subscribe(), nil
}

func (s *stubTelemetry) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *stubTelemetry) Snapshot() (telemetry.Snapshot, bool) {
	return s.snapshot.Clone(), true
}

type stubRunner struct {
	available bool
	output    string
	err       error
	onRun     func()
	block     chan struct{}

	mu        sync.Mutex
	calls     int
	lastReq   engine.RunRequest
	cancelled bool
}

func (r *stubRunner) Run(ctx context.Context, req engine.RunRequest) (engine.Result, error) {
	r.mu.Lock()
	r.calls++
	r.lastReq = req
	r.mu.Unlock()
	if r.onRun != nil {
		r.onRun()
	}
	if r.block != nil {
		select {
		case <-r.block:
			return engine.Result{}, engine.ErrStopped
		case <-ctx.Done():
			return engine.Result{}, engine.ErrStopped
		}
	}
	return engine.Result{Stdout: r.output}, r.err
}

func (r *stubRunner) Available(context.Context, string) bool {
	return r.available
}

func (r *stubRunner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.block == nil || r.cancelled {
		return false
	}
	r.cancelled = true
	close(r.block)
	return true
}

type eventLog struct {
	mu     sync.Mutex
	events []telemetry.ProgressEvent
}

func (l *eventLog) record(ev telemetry.ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []telemetry.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]telemetry.ProgressEvent(nil), l.events...)
}

func assertSingleTrailingComplete(t *testing.T, events []telemetry.ProgressEvent) telemetry.ProgressEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	if events[0].Stage != telemetry.StageInit || events[0].Percentage != 10 {
		t.Fatalf("expected init first, got %+v", events[0])
	}
	completes := 0
	for _, ev := range events {
		if ev.Stage == telemetry.StageComplete {
			completes++
		}
	}
	last := events[len(events)-1]
	if completes != 1 || last.Stage != telemetry.StageComplete || last.Percentage != 100 {
		t.Fatalf("expected exactly one trailing complete event, got %+v", events)
	}
	return last
}

func TestRunUnavailableEngineReturnsPlaceholder(t *testing.T) {
	tel := newStubTelemetry()
	runner := &stubRunner{available: false}
	o := NewOrchestrator(tel, runner, nil, "prp-generator")
	o.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

	var log eventLog
	out, err := o.Run(context.Background(), Request{EnginePath: "claude", FeatureRequest: "Dark mode\nmore detail"}, log.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("expected engine never spawned, got %d calls", runner.calls)
	}
	if !strings.Contains(out, "# Product Requirement Prompt: Dark mode") || !strings.Contains(out, "placeholder") {
		t.Fatalf("unexpected placeholder %q", out)
	}
	if !strings.Contains(out, "2026-05-06 07:08:09") {
		t.Fatalf("expected timestamp in placeholder, got %q", out)
	}

	events := log.all()
	last := assertSingleTrailingComplete(t, events)
	if last.Telemetry != nil {
		t.Fatalf("expected no telemetry on placeholder completion, got %+v", last.Telemetry)
	}
	if len(events) != 3 || events[1].Stage != telemetry.StageProcessing || events[1].Percentage != 50 {
		t.Fatalf("expected init, processing, complete; got %+v", events)
	}
}

func TestRunRelaysTelemetryAndCompletesLast(t *testing.T) {
	tel := newStubTelemetry()
	tokens := uint64(1234)
	tel.snapshot.TokensTotal = tokens

	runner := &stubRunner{
		available: true,
		output:    "Sure.\n```markdown\n# PRP\nBody\n```\ntrailing",
		onRun: func() {
			for i := 0; i < 20; i++ {
				tel.hub.Publish(telemetry.ProgressEvent{Stage: telemetry.StageProcessing, Percentage: 50})
			}
		},
	}
	o := NewOrchestrator(tel, runner, []string{"--print"}, "prp-generator")

	var log eventLog
	out, err := o.Run(context.Background(), Request{EnginePath: "claude", Template: "T", FeatureRequest: "F", WorkingDir: "/tmp"}, log.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "# PRP\nBody" {
		t.Fatalf("expected extracted body, got %q", out)
	}
	if tel.resets != 1 {
		t.Fatalf("expected one reset, got %d", tel.resets)
	}

	last := assertSingleTrailingComplete(t, log.all())
	if last.Telemetry == nil || last.Telemetry.TokensTotal != tokens {
		t.Fatalf("expected final telemetry, got %+v", last.Telemetry)
	}

	req := runner.lastReq
	if req.Dir != "/tmp" || len(req.Args) != 1 || req.Args[0] != "--print" {
		t.Fatalf("unexpected run request %+v", req)
	}
	if !strings.Contains(req.Prompt, "Template:\nT\n\nFeature Request:\nF") {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}
	if !containsEnv(req.Env, "OTEL_EXPORTER_OTLP_ENDPOINT=http://127.0.0.1:45123") {
		t.Fatalf("expected telemetry endpoint in env, got %v", req.Env)
	}
	if tel.hub.Len() != 0 {
		t.Fatalf("expected subscription released, got %d", tel.hub.Len())
	}
}

func TestRunWithoutTelemetryDisablesIt(t *testing.T) {
	tel := newStubTelemetry()
	tel.startErr = telemetry.ErrNoPort
	runner := &stubRunner{available: true, output: strings.Repeat("x", 80)}
	o := NewOrchestrator(tel, runner, nil, "prp-generator")

	var log eventLog
	out, err := o.Run(context.Background(), Request{EnginePath: "claude"}, log.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != strings.Repeat("x", 80) {
		t.Fatalf("expected raw output, got %q", out)
	}
	if tel.resets != 0 {
		t.Fatalf("expected no reset without telemetry, got %d", tel.resets)
	}
	if !containsEnv(runner.lastReq.Env, "CLAUDE_CODE_ENABLE_TELEMETRY=0") {
		t.Fatalf("expected telemetry disabled, got %v", runner.lastReq.Env)
	}
	last := assertSingleTrailingComplete(t, log.all())
	if last.Telemetry != nil {
		t.Fatal("expected no telemetry without a receiver")
	}
}

func TestRunErrorSurfacesAfterComplete(t *testing.T) {
	tel := newStubTelemetry()
	runErr := &engine.ExecutionError{ExitCode: 1, Stderr: "boom"}
	runner := &stubRunner{available: true, err: runErr}
	o := NewOrchestrator(tel, runner, nil, "prp-generator")

	var log eventLog
	_, err := o.Run(context.Background(), Request{EnginePath: "claude"}, log.record)
	if !errors.Is(err, runErr) {
		t.Fatalf("expected execution error, got %v", err)
	}
	assertSingleTrailingComplete(t, log.all())
}

func TestCancelStopsActiveRun(t *testing.T) {
	tel := newStubTelemetry()
	runner := &stubRunner{available: true, block: make(chan struct{})}
	o := NewOrchestrator(tel, runner, nil, "prp-generator")
	registry := NewCancellationRegistry()
	if err := registry.SetActive(o); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	var log eventLog
	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), Request{EnginePath: "claude"}, log.record)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.mu.Lock()
		calls := runner.calls
		runner.mu.Unlock()
		if calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !registry.Cancel() {
		t.Fatal("expected cancel to reach the active run")
	}
	select {
	case err := <-done:
		if !errors.Is(err, engine.ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	registry.ClearActive(o)
	assertSingleTrailingComplete(t, log.all())
}

func TestRunRejectsConcurrentEntry(t *testing.T) {
	runner := &stubRunner{available: true, block: make(chan struct{})}
	o := NewOrchestrator(nil, runner, nil, "prp-generator")

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(context.Background(), Request{}, nil)
	}()
	for !o.running.Load() {
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Run(context.Background(), Request{}, nil); !errors.Is(err, ErrGenerationActive) {
		t.Fatalf("expected ErrGenerationActive, got %v", err)
	}
	o.Cancel()
	<-done
}

func containsEnv(env []string, want string) bool {
	for _, kv := range env {
		if kv == want {
			return true
		}
	}
	return false
}
