package telemetry

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

const (
	defaultPortMin  = 40000
	defaultPortMax  = 50000
	defaultAttempts = 5
)

// ErrNoPort is returned when none of the candidate ports could be bound.
// Callers are expected to continue without telemetry.
var ErrNoPort = errors.New("telemetry receiver could not bind any candidate port")

// RegistryOptions controls how the shared receiver is started.
type RegistryOptions struct {
	PortMin  int
	PortMax  int
	Attempts int
	Observer Observer
	// Candidates overrides random port selection.
	Candidates func() []int
}

// Registry owns the process-wide receiver. The receiver is started lazily by
// the first caller and then outlives every generation.
type Registry struct {
	opts RegistryOptions

	startMu  sync.Mutex
	receiver atomic.Pointer[Receiver]
	starts   atomic.Int32
}

// NewRegistry creates a registry; nothing is bound until GetOrStart.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.PortMin <= 0 {
		opts.PortMin = defaultPortMin
	}
	if opts.PortMax <= opts.PortMin {
		opts.PortMax = opts.PortMin + (defaultPortMax - defaultPortMin)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	return &Registry{opts: opts}
}

// GetOrStart returns the receiver port and a new subscription, starting the
// receiver on first use. Concurrent first callers share a single start. A
// failed start is not remembered; the next call tries fresh candidates.
func (r *Registry) GetOrStart(ctx context.Context) (int, *Subscription, error) {
	if rcv := r.receiver.Load(); rcv != nil {
		return rcv.Port(), rcv.Subscribe(), nil
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()
	if rcv := r.receiver.Load(); rcv != nil {
		return rcv.Port(), rcv.Subscribe(), nil
	}

	rcv, err := r.start(ctx)
	if err != nil {
		return 0, nil, err
	}
	r.receiver.Store(rcv)
	return rcv.Port(), rcv.Subscribe(), nil
}

func (r *Registry) start(ctx context.Context) (*Receiver, error) {
	r.starts.Add(1)

	errs := []error{ErrNoPort}
	for _, port := range r.candidates() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Join(append(errs, err)...)
		}
		rcv := NewReceiver(port, r.opts.Observer)
		if err := rcv.Start(); err != nil {
			log.Printf("telemetry: %v", err)
			errs = append(errs, err)
			continue
		}
		return rcv, nil
	}
	return nil, errors.Join(errs...)
}

func (r *Registry) candidates() []int {
	if r.opts.Candidates != nil {
		return r.opts.Candidates()
	}
	span := r.opts.PortMax - r.opts.PortMin
	ports := make([]int, r.opts.Attempts)
	for i := range ports {
		ports[i] = r.opts.PortMin + rand.IntN(span)
	}
	return ports
}

// Port returns the receiver port, or 0 when no receiver is running.
func (r *Registry) Port() int {
	if rcv := r.receiver.Load(); rcv != nil {
		return rcv.Port()
	}
	return 0
}

// Snapshot returns a copy of the shared snapshot. ok is false when no
// receiver has been started.
func (r *Registry) Snapshot() (snap Snapshot, ok bool) {
	rcv := r.receiver.Load()
	if rcv == nil {
		return Snapshot{}, false
	}
	return rcv.Telemetry(), true
}

// Reset zeroes the shared snapshot if a receiver is running.
func (r *Registry) Reset() {
	if rcv := r.receiver.Load(); rcv != nil {
		rcv.ResetTelemetry()
	}
}

// Close stops the receiver. A later GetOrStart starts a new one.
func (r *Registry) Close(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	rcv := r.receiver.Swap(nil)
	if rcv == nil {
		return nil
	}
	return rcv.Close(ctx)
}
