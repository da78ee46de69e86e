package processors

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meander-labs/voicetrace/src/frames"
)

// FrameProcessor is the interface that all processors must implement
type FrameProcessor interface {
	// ProcessFrame processes a single frame
	ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error

	// QueueFrame adds a frame to this processor's queue. It blocks until the
	// processor has capacity, which is how backpressure propagates upstream.
	QueueFrame(frame frames.Frame, direction frames.FrameDirection) error

	// PushFrame sends a frame to the next/previous processor
	PushFrame(frame frames.Frame, direction frames.FrameDirection) error

	// Link connects this processor to the next one in the chain
	Link(next FrameProcessor)

	// SetPrev sets the previous processor in the chain
	SetPrev(prev FrameProcessor)

	// Start begins processing frames
	Start(ctx context.Context) error

	// Stop gracefully stops the processor
	Stop() error

	// Name returns the processor name
	Name() string
}

// BaseProcessor provides the common functionality for all processors.
//
// The ordered channel holds at most one frame, so a processor that cannot
// keep up suspends its upstream writer instead of queueing unboundedly. Only
// system frames (start/cancel/error) bypass the ordered path.
type BaseProcessor struct {
	name string
	next FrameProcessor
	prev FrameProcessor

	systemChan  chan frameWithDirection
	orderedChan chan frameWithDirection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	handler ProcessHandler
	log     zerolog.Logger
}

type frameWithDirection struct {
	frame     frames.Frame
	direction frames.FrameDirection
}

// ProcessHandler is the interface that subclasses implement for custom processing
type ProcessHandler interface {
	HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error
}

// NewBaseProcessor creates a new BaseProcessor
func NewBaseProcessor(name string, handler ProcessHandler) *BaseProcessor {
	return &BaseProcessor{
		name:        name,
		systemChan:  make(chan frameWithDirection, 8),
		orderedChan: make(chan frameWithDirection, 1),
		handler:     handler,
		log:         log.With().Str("processor", name).Logger(),
	}
}

func (p *BaseProcessor) Name() string {
	return p.name
}

func (p *BaseProcessor) Log() *zerolog.Logger {
	return &p.log
}

func (p *BaseProcessor) Link(next FrameProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = next
	if next != nil {
		next.SetPrev(p)
	}
}

func (p *BaseProcessor) SetPrev(prev FrameProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prev = prev
}

func (p *BaseProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return fmt.Errorf("processor %s already started", p.name)
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.systemFrameLoop()

	p.wg.Add(1)
	go p.orderedFrameLoop()

	p.log.Debug().Msg("started")
	return nil
}

func (p *BaseProcessor) Stop() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.log.Debug().Msg("stopped")
	return nil
}

func (p *BaseProcessor) QueueFrame(frame frames.Frame, direction frames.FrameDirection) error {
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()

	if ctx == nil {
		return fmt.Errorf("processor %s not started", p.name)
	}

	fwd := frameWithDirection{frame: frame, direction: direction}

	if categorizable, ok := frame.(frames.Categorizable); ok {
		if categorizable.Category() == frames.SystemCategory {
			select {
			case p.systemChan <- fwd:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Data and control frames share the ordered path.
	select {
	case p.orderedChan <- fwd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *BaseProcessor) PushFrame(frame frames.Frame, direction frames.FrameDirection) error {
	p.mu.RLock()
	var target FrameProcessor
	if direction == frames.Downstream {
		target = p.next
	} else {
		target = p.prev
	}
	p.mu.RUnlock()

	if target == nil {
		// End of chain
		return nil
	}

	return target.QueueFrame(frame, direction)
}

func (p *BaseProcessor) ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if p.handler != nil {
		return p.handler.HandleFrame(ctx, frame, direction)
	}
	// Default: pass through
	return p.PushFrame(frame, direction)
}

func (p *BaseProcessor) systemFrameLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case fwd := <-p.systemChan:
			if err := p.ProcessFrame(p.ctx, fwd.frame, fwd.direction); err != nil {
				p.log.Error().Err(err).Str("frame", fwd.frame.Name()).Msg("system frame failed")
			}
		}
	}
}

func (p *BaseProcessor) orderedFrameLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case fwd := <-p.orderedChan:
			if err := p.ProcessFrame(p.ctx, fwd.frame, fwd.direction); err != nil {
				p.log.Error().Err(err).Str("frame", fwd.frame.Name()).Msg("frame failed")
			}
		}
	}
}
