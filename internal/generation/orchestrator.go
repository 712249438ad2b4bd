// Package generation coordinates a single PRP generation: it acquires the
// shared telemetry receiver, runs the engine, merges local and telemetry
// progress into one stream and extracts the resulting artifact.
package generation

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"prp-generator/internal/engine"
	"prp-generator/internal/telemetry"
)

// Local progress markers.
const (
	initPercentage       = 10
	processingPercentage = 50
	completePercentage   = 100
)

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(telemetry.ProgressEvent)

// Telemetry is the shared receiver registry.
type Telemetry interface {
	GetOrStart(ctx context.Context) (int, *telemetry.Subscription, error)
	Reset()
	Snapshot() (telemetry.Snapshot, bool)
}

// Runner executes the engine.
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (engine.Result, error)
	Available(ctx context.Context, path string) bool
	Cancel() bool
}

// Request describes one orchestrated run.
type Request struct {
	EnginePath     string
	Template       string
	FeatureRequest string
	WorkingDir     string
}

// Orchestrator runs generations one at a time.
type Orchestrator struct {
	telemetry   Telemetry
	runner      Runner
	args        []string
	serviceName string
	now         func() time.Time

	running atomic.Bool
}

// NewOrchestrator creates an orchestrator. telemetry may be nil.
func NewOrchestrator(tel Telemetry, runner Runner, args []string, serviceName string) *Orchestrator {
	return &Orchestrator{
		telemetry:   tel,
		runner:      runner,
		args:        args,
		serviceName: serviceName,
		now:         time.Now,
	}
}

// Cancel stops the engine process of the current run.
func (o *Orchestrator) Cancel() bool {
	return o.runner.Cancel()
}

// Run performs one generation. Exactly one complete event is emitted and it
// is always the last event passed to progress. Run errors are returned only
// after that event.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressFunc) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", ErrGenerationActive
	}
	defer o.running.Store(false)

	out := &progressSink{fn: progress}

	port, sub := o.acquireTelemetry(ctx)
	if sub != nil {
		defer sub.Close()
	}

	out.emit(telemetry.ProgressEvent{
		Stage:      telemetry.StageInit,
		Message:    "Starting generation engine...",
		Percentage: initPercentage,
	})

	if !o.runner.Available(ctx, req.EnginePath) {
		log.Printf("generation: engine %q unavailable, returning placeholder", req.EnginePath)
		out.emit(telemetry.ProgressEvent{
			Stage:      telemetry.StageProcessing,
			Message:    "Generating placeholder PRP (engine not available)...",
			Percentage: processingPercentage,
		})
		out.finish(telemetry.ProgressEvent{
			Stage:      telemetry.StageComplete,
			Message:    "Placeholder generation complete",
			Percentage: completePercentage,
		})
		return placeholder(req.FeatureRequest, o.now()), nil
	}

	prompt := BuildPrompt(req.Template, req.FeatureRequest)
	log.Printf("generation: prompt %d chars, template %d chars, telemetry port %d", len(prompt), len(req.Template), port)

	stopRelay := o.relay(sub, out)
	result, runErr := o.runner.Run(ctx, engine.RunRequest{
		Path:   req.EnginePath,
		Args:   o.args,
		Env:    telemetryEnv(port, o.serviceName),
		Dir:    req.WorkingDir,
		Prompt: prompt,
	})
	stopRelay()

	final := o.finalSnapshot(port)
	out.finish(telemetry.ProgressEvent{
		Stage:      telemetry.StageComplete,
		Message:    "Generation complete",
		Percentage: completePercentage,
		Telemetry:  final,
	})

	if runErr != nil {
		return "", runErr
	}
	log.Printf("generation: engine output %d chars", len(result.Stdout))
	return ExtractArtifact(result.Stdout), nil
}

func (o *Orchestrator) acquireTelemetry(ctx context.Context) (int, *telemetry.Subscription) {
	if o.telemetry == nil {
		return 0, nil
	}
	port, sub, err := o.telemetry.GetOrStart(ctx)
	if err != nil {
		log.Printf("generation: continuing without telemetry: %v", err)
		return 0, nil
	}
	o.telemetry.Reset()
	return port, sub
}

func (o *Orchestrator) finalSnapshot(port int) *telemetry.Snapshot {
	if port == 0 || o.telemetry == nil {
		return nil
	}
	snap, ok := o.telemetry.Snapshot()
	if !ok {
		return nil
	}
	return &snap
}

// relay re-emits subscription events until the returned stop func is called.
// stop waits for the relay goroutine to exit.
func (o *Orchestrator) relay(sub *telemetry.Subscription, out *progressSink) (stop func()) {
	if sub == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				out.emit(ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// progressSink serializes emission and drops anything after the complete event.
type progressSink struct {
	mu       sync.Mutex
	fn       ProgressFunc
	finished bool
}

func (s *progressSink) emit(ev telemetry.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.fn == nil {
		return
	}
	s.fn(ev)
}

func (s *progressSink) finish(ev telemetry.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if s.fn != nil {
		s.fn(ev)
	}
}
