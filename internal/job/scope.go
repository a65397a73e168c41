package job

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type hook struct {
	name string
	fn   func() error
}

// Scope owns the cleanup of one job. Hooks run in reverse registration
// order when the scope closes, whatever way the job ended.
type Scope struct {
	logger zerolog.Logger

	mu     sync.Mutex
	hooks  []hook
	closed bool
}

// NewScope returns an empty scope.
func NewScope(logger zerolog.Logger) *Scope {
	return &Scope{logger: logger}
}

// Defer registers fn to run when the scope closes. Registering on a closed
// scope runs fn immediately.
func (s *Scope) Defer(name string, fn func() error) {
	s.mu.Lock()
	if !s.closed {
		s.hooks = append(s.hooks, hook{name: name, fn: fn})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.run(hook{name: name, fn: fn}); err != nil {
		s.logger.Error().Err(err).Msg("cleanup failed")
	}
}

// Close runs every hook, last registered first. A failing or panicking
// hook does not stop the others; their errors are joined.
func (s *Scope) Close() error {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := s.run(hooks[i]); err != nil {
			s.logger.Error().Err(err).Msg("cleanup failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scope) run(h hook) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", h.name, p)
		}
	}()
	if err := h.fn(); err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	s.logger.Debug().Str("hook", h.name).Msg("cleanup done")
	return nil
}
