package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"prp-generator/internal/engine"
	"prp-generator/internal/store"
	"prp-generator/internal/telemetry"
)

// Generation outcomes reported to the Observer.
const (
	OutcomeSuccess = "success"
	OutcomeStopped = "stopped"
	OutcomeFailed  = "failed"
)

// Repository loads templates and persists generated PRPs.
type Repository interface {
	GetTemplate(id string) (store.Template, error)
	CreatePRP(title, content string) (store.PRP, error)
}

// Resolver resolves the engine executable path.
type Resolver interface {
	Resolve(override string) string
}

// Observer records generation outcomes.
type Observer interface {
	ObserveGeneration(ctx context.Context, outcome string, elapsed time.Duration, tokens uint64, costUSD float64)
}

// GenerateRequest is a user request to generate a PRP from a template.
type GenerateRequest struct {
	TemplateID        string `json:"template_id"`
	FeatureRequest    string `json:"feature_request"`
	AdditionalContext string `json:"additional_context"`
	WorkingDir        string `json:"codebase_path"`
}

// Event is a progress event tagged with its generation's run ID.
type Event struct {
	RunID string `json:"run_id"`
	telemetry.ProgressEvent
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Repository  Repository
	Telemetry   Telemetry
	Resolver    Resolver
	Cancels     *CancellationRegistry
	NewRunner   func() Runner
	EnginePath  func() string
	EngineArgs  []string
	ServiceName string
	MaxDuration time.Duration
	Observer    Observer
}

// Service generates PRPs and stores them.
type Service struct {
	opts ServiceOptions
}

// NewService creates a Service. Missing options get working defaults.
func NewService(opts ServiceOptions) *Service {
	if opts.Resolver == nil {
		opts.Resolver = engine.NewLocator()
	}
	if opts.Cancels == nil {
		opts.Cancels = NewCancellationRegistry()
	}
	if opts.NewRunner == nil {
		opts.NewRunner = func() Runner { return engine.NewSupervisor() }
	}
	if opts.EnginePath == nil {
		opts.EnginePath = func() string { return "" }
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "prp-generator"
	}
	return &Service{opts: opts}
}

// Cancel stops the active generation, if any.
func (s *Service) Cancel() bool {
	cancelled := s.opts.Cancels.Cancel()
	if cancelled {
		log.Printf("generation: cancel requested")
	}
	return cancelled
}

// Active reports whether a generation is running.
func (s *Service) Active() bool {
	return s.opts.Cancels.Active()
}

// Reservation holds the single generation slot until it is released. It lets
// a caller learn about a conflict before committing to a response.
type Reservation struct {
	// RunID identifies the generation on every progress event.
	RunID string

	svc  *Service
	orch *Orchestrator
	once sync.Once
}

// Reserve claims the generation slot. It fails with ErrGenerationActive when
// another generation holds it.
func (s *Service) Reserve() (*Reservation, error) {
	orch := NewOrchestrator(s.opts.Telemetry, s.opts.NewRunner(), s.opts.EngineArgs, s.opts.ServiceName)
	if err := s.opts.Cancels.SetActive(orch); err != nil {
		return nil, err
	}
	return &Reservation{RunID: uuid.NewString(), svc: s, orch: orch}, nil
}

// Release frees the slot. It is safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.svc.opts.Cancels.ClearActive(r.orch)
	})
}

// Generate runs the reserved generation and releases the slot when done.
func (r *Reservation) Generate(ctx context.Context, req GenerateRequest, progress func(Event)) (store.PRP, error) {
	defer r.Release()
	return r.svc.generate(ctx, r.orch, r.RunID, req, progress)
}

// Generate runs the engine for req and stores the resulting PRP. progress
// receives every event of the run; the complete event is always last.
func (s *Service) Generate(ctx context.Context, req GenerateRequest, progress func(Event)) (store.PRP, error) {
	res, err := s.Reserve()
	if err != nil {
		return store.PRP{}, err
	}
	return res.Generate(ctx, req, progress)
}

func (s *Service) generate(ctx context.Context, orch *Orchestrator, runID string, req GenerateRequest, progress func(Event)) (store.PRP, error) {
	tpl, err := s.opts.Repository.GetTemplate(req.TemplateID)
	if err != nil {
		return store.PRP{}, fmt.Errorf("load template %q: %w", req.TemplateID, err)
	}

	if s.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.MaxDuration)
		defer cancel()
	}

	enginePath := s.opts.Resolver.Resolve(s.opts.EnginePath())
	log.Printf("generation: run %s template=%s engine=%s", runID, tpl.ID, enginePath)

	started := time.Now()
	var last telemetry.ProgressEvent
	artifact, err := orch.Run(ctx, Request{
		EnginePath:     enginePath,
		Template:       WithAdditionalContext(tpl.Content, req.AdditionalContext),
		FeatureRequest: req.FeatureRequest,
		WorkingDir:     req.WorkingDir,
	}, func(ev telemetry.ProgressEvent) {
		last = ev
		if progress != nil {
			progress(Event{RunID: runID, ProgressEvent: ev})
		}
	})
	if err == nil {
		err = engine.ValidateOutput(artifact)
	}
	s.observe(ctx, err, time.Since(started), last)
	if err != nil {
		log.Printf("generation: run %s failed: %v", runID, err)
		return store.PRP{}, err
	}

	prp, err := s.opts.Repository.CreatePRP(Title(req.FeatureRequest), artifact)
	if err != nil {
		return store.PRP{}, fmt.Errorf("save prp: %w", err)
	}
	log.Printf("generation: run %s saved prp %s", runID, prp.ID)
	return prp, nil
}

func (s *Service) observe(ctx context.Context, err error, elapsed time.Duration, last telemetry.ProgressEvent) {
	if s.opts.Observer == nil {
		return
	}
	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, engine.ErrStopped):
		outcome = OutcomeStopped
	case err != nil:
		outcome = OutcomeFailed
	}
	var tokens uint64
	var cost float64
	if last.Telemetry != nil {
		tokens = last.Telemetry.TokensTotal
		cost = last.Telemetry.CostUSD
	}
	s.opts.Observer.ObserveGeneration(context.WithoutCancel(ctx), outcome, elapsed, tokens, cost)
}
