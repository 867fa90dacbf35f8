// Package rxloop runs the receive side of a session: a background loop
// pulling packets off the transport and handing each to the protocol
// dispatcher's callback.
package rxloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/behrlich/rpmsg-nnrt/internal/interfaces"
	"github.com/behrlich/rpmsg-nnrt/internal/logging"
)

// Config describes a Runner's collaborators.
type Config struct {
	Transport interfaces.Transport
	// Handler receives each inbound packet. A handler error is logged, not
	// fatal: one malformed packet must not kill the receive loop.
	Handler func(packet []byte) error
	Logger  *logging.Logger
	// OnTransportError is invoked once if the transport fails for a reason
	// other than the loop being stopped. May be nil.
	OnTransportError func(err error)
}

// Runner owns the receive goroutine for one session.
type Runner struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a Runner. Start must be called before packets flow.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("rxloop: transport is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("rxloop: handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := &Runner{cfg: cfg, logger: logger}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return r, nil
}

// Start launches the receive loop.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.recvLoop()
	})
}

func (r *Runner) recvLoop() {
	defer r.wg.Done()

	for {
		packet, err := r.cfg.Transport.Recv(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Warn("receive loop terminated", "error", err)
			if r.cfg.OnTransportError != nil {
				r.cfg.OnTransportError(err)
			}
			return
		}

		if err := r.cfg.Handler(packet); err != nil {
			r.logger.Debug("packet handler rejected packet", "error", err, "len", len(packet))
		}
	}
}

// Close stops the loop and waits for the goroutine to exit.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
}
