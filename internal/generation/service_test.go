package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"prp-generator/internal/engine"
	"prp-generator/internal/store"
)

type stubRepository struct {
	templates map[string]store.Template
	saved     []store.PRP
	saveErr   error
}

func (r *stubRepository) GetTemplate(id string) (store.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return store.Template{}, store.ErrNotFound
	}
	return t, nil
}

func (r *stubRepository) CreatePRP(title, content string) (store.PRP, error) {
	if r.saveErr != nil {
		return store.PRP{}, r.saveErr
	}
	p := store.PRP{ID: "prp-1", Title: title, Content: content, Version: 1}
	r.saved = append(r.saved, p)
	return p, nil
}

type fixedResolver struct {
	got string
}

func (f *fixedResolver) Resolve(override string) string {
	f.got = override
	if override == "" {
		return "claude"
	}
	return override
}

type recordedOutcome struct {
	outcome string
	tokens  uint64
}

type stubObserver struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (o *stubObserver) ObserveGeneration(_ context.Context, outcome string, _ time.Duration, tokens uint64, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, recordedOutcome{outcome: outcome, tokens: tokens})
}

func newTestService(repo *stubRepository, runner *stubRunner, obs Observer) (*Service, *fixedResolver) {
	resolver := &fixedResolver{}
	tel := newStubTelemetry()
	tel.snapshot.TokensTotal = 77
	return NewService(ServiceOptions{
		Repository:  repo,
		Telemetry:   tel,
		Resolver:    resolver,
		NewRunner:   func() Runner { return runner },
		EnginePath:  func() string { return "/opt/engine" },
		EngineArgs:  []string{"--print", "--verbose"},
		MaxDuration: time.Minute,
		Observer:    obs,
	}), resolver
}

func TestGenerateSavesExtractedArtifact(t *testing.T) {
	repo := &stubRepository{templates: map[string]store.Template{
		"tpl": {ID: "tpl", Content: "## Goal"},
	}}
	body := "# PRP: Search\n\n" + strings.Repeat("Requirement details. ", 5)
	runner := &stubRunner{available: true, output: "```markdown\n" + body + "\n```\n"}
	obs := &stubObserver{}
	svc, resolver := newTestService(repo, runner, obs)

	var events []Event
	prp, err := svc.Generate(context.Background(), GenerateRequest{
		TemplateID:        "tpl",
		FeatureRequest:    "Full text search\nacross notes",
		AdditionalContext: "sqlite fts5",
	}, func(ev Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if prp.Title != "PRP: Full text search" || prp.Content != body {
		t.Fatalf("unexpected prp %+v", prp)
	}
	if resolver.got != "/opt/engine" {
		t.Fatalf("expected configured engine path passed to resolver, got %q", resolver.got)
	}
	if runner.lastReq.Path != "/opt/engine" {
		t.Fatalf("expected resolved path used, got %q", runner.lastReq.Path)
	}
	if !strings.Contains(runner.lastReq.Prompt, "## Goal\n\n## Additional Context\nsqlite fts5") {
		t.Fatalf("expected additional context in prompt, got %q", runner.lastReq.Prompt)
	}

	if len(events) < 2 {
		t.Fatalf("expected progress events, got %d", len(events))
	}
	runID := events[0].RunID
	for _, ev := range events {
		if ev.RunID == "" || ev.RunID != runID {
			t.Fatalf("expected one run id on all events, got %+v", ev)
		}
	}
	if svc.Active() {
		t.Fatal("expected no active generation after completion")
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0].outcome != OutcomeSuccess || obs.outcomes[0].tokens != 77 {
		t.Fatalf("unexpected observed outcomes %+v", obs.outcomes)
	}
}

func TestGenerateMissingTemplateEmitsNothing(t *testing.T) {
	repo := &stubRepository{templates: map[string]store.Template{}}
	runner := &stubRunner{available: true}
	svc, _ := newTestService(repo, runner, nil)

	called := false
	_, err := svc.Generate(context.Background(), GenerateRequest{TemplateID: "missing"}, func(Event) { called = true })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if called {
		t.Fatal("expected no events before template is loaded")
	}
}

func TestGenerateRejectsInvalidOutput(t *testing.T) {
	repo := &stubRepository{templates: map[string]store.Template{"tpl": {ID: "tpl"}}}
	runner := &stubRunner{available: true, output: "```markdown\nshort\n```\n" + strings.Repeat("padding ", 10)}
	obs := &stubObserver{}
	svc, _ := newTestService(repo, runner, obs)

	_, err := svc.Generate(context.Background(), GenerateRequest{TemplateID: "tpl", FeatureRequest: "x"}, nil)
	if !engine.IsInvalidOutput(err) {
		t.Fatalf("expected InvalidOutputError, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatal("invalid output must not be saved")
	}
	if obs.outcomes[0].outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", obs.outcomes)
	}
}

func TestGenerateUnavailableEngineSavesPlaceholder(t *testing.T) {
	repo := &stubRepository{templates: map[string]store.Template{"tpl": {ID: "tpl"}}}
	runner := &stubRunner{available: false}
	svc, _ := newTestService(repo, runner, nil)

	prp, err := svc.Generate(context.Background(), GenerateRequest{TemplateID: "tpl", FeatureRequest: "Offline mode"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(prp.Content, "placeholder") {
		t.Fatalf("expected placeholder content, got %q", prp.Content)
	}
}

func TestGenerateCancelReportsStopped(t *testing.T) {
	repo := &stubRepository{templates: map[string]store.Template{"tpl": {ID: "tpl"}}}
	runner := &stubRunner{available: true, block: make(chan struct{})}
	obs := &stubObserver{}
	svc, _ := newTestService(repo, runner, obs)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), GenerateRequest{TemplateID: "tpl"}, nil)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.mu.Lock()
		started := runner.calls > 0
		runner.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := svc.Generate(context.Background(), GenerateRequest{TemplateID: "tpl"}, nil); !IsGenerationActive(err) {
		t.Fatalf("expected second generation rejected, got %v", err)
	}
	if !svc.Cancel() {
		t.Fatal("expected cancel to stop running generation")
	}

	select {
	case err := <-done:
		if !engine.IsStopped(err) {
			t.Fatalf("expected stopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not stop")
	}
	if svc.Active() {
		t.Fatal("expected registration released after stop")
	}
	if svc.Cancel() {
		t.Fatal("expected cancel without active generation to be a no-op")
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.outcomes[0].outcome != OutcomeStopped {
		t.Fatalf("expected stopped outcome, got %+v", obs.outcomes)
	}
}

func TestReserveHoldsSlotUntilReleased(t *testing.T) {
	repo := &stubRepository{templates: map[string]store.Template{"tpl": {ID: "tpl"}}}
	body := "# PRP: Reserved\n\n" + strings.Repeat("Requirement details. ", 5)
	runner := &stubRunner{available: true, output: "```markdown\n" + body + "\n```\n"}
	svc, _ := newTestService(repo, runner, nil)

	res, err := svc.Reserve()
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !svc.Active() {
		t.Fatal("expected reservation to mark a generation active")
	}
	if _, err := svc.Reserve(); !IsGenerationActive(err) {
		t.Fatalf("expected second reservation rejected, got %v", err)
	}
	if _, err := svc.Generate(context.Background(), GenerateRequest{TemplateID: "tpl"}, nil); !IsGenerationActive(err) {
		t.Fatalf("expected generate rejected while reserved, got %v", err)
	}

	if _, err := res.Generate(context.Background(), GenerateRequest{TemplateID: "tpl", FeatureRequest: "Reserved run"}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if svc.Active() {
		t.Fatal("expected slot released after the reserved run")
	}

	again, err := svc.Reserve()
	if err != nil {
		t.Fatalf("expected slot free again, got %v", err)
	}
	again.Release()
	again.Release()
	if svc.Active() {
		t.Fatal("expected release to free the slot")
	}
}
