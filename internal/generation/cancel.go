package generation

import (
	"errors"
	"sync"
)

// ErrGenerationActive is returned when a generation is already running.
var ErrGenerationActive = errors.New("a generation is already in progress")

// Canceller stops a running generation.
type Canceller interface {
	Cancel() bool
}

// CancellationRegistry lets a later request reach the active generation.
type CancellationRegistry struct {
	mu     sync.Mutex
	active Canceller
}

// NewCancellationRegistry creates an empty registry.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{}
}

// IsGenerationActive reports whether err is ErrGenerationActive.
func IsGenerationActive(err error) bool {
	return errors.Is(err, ErrGenerationActive)
}

// SetActive registers h. Only one generation may be registered at a time.
func (c *CancellationRegistry) SetActive(h Canceller) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrGenerationActive
	}
	c.active = h
	return nil
}

// ClearActive unregisters h if it is still the active generation.
func (c *CancellationRegistry) ClearActive(h Canceller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == h {
		c.active = nil
	}
}

// Active reports whether a generation is registered.
func (c *CancellationRegistry) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Cancel stops the active generation. It reports whether one was running;
// with nothing active it does nothing.
func (c *CancellationRegistry) Cancel() bool {
	c.mu.Lock()
	h := c.active
	c.mu.Unlock()
	if h == nil {
		return false
	}
	return h.Cancel()
}
