package results

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/l7mp/livesections/pkg/section"
)

// Options configure a sectioned results instance.
type Options struct {
	// Order is the section order policy, fixed for the lifetime of the instance. Default:
	// first-appearance order.
	Order section.OrderPolicy
	// Logger is the logger. Default: discard.
	Logger logr.Logger
}

// SubscribeOptions configure a subscription.
type SubscribeOptions struct {
	// Executor runs the callbacks of the subscription. Default: Inline, i.e., callbacks run
	// on the goroutine that delivers the change of the base collection.
	Executor Executor
	// WatchedKeyPaths are JSONPaths of the fields the subscriber is interested in. If set,
	// modifications that touch none of the paths are not reported to the subscriber. Changes
	// of section membership are always reported. Default: all fields.
	WatchedKeyPaths []string
	// SkipInitial suppresses the initial notification carrying the whole collection.
	SkipInitial bool
}

// Executor runs notification callbacks. Executors must run the submitted functions in
// submission order.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Execute implements Executor.
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline runs callbacks synchronously on the delivering goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// SerialExecutor runs callbacks one by one on a dedicated goroutine owned by the caller.
type SerialExecutor struct {
	queue chan func()
	ctx   context.Context
}

// NewSerialExecutor starts a serial executor that runs until the context is canceled. Execute
// blocks while the queue is full.
func NewSerialExecutor(ctx context.Context, buffer int) *SerialExecutor {
	if buffer <= 0 {
		buffer = DefaultWatchChannelBuffer
	}
	e := &SerialExecutor{queue: make(chan func(), buffer), ctx: ctx}
	go e.run()
	return e
}

// Execute implements Executor. Functions submitted after the context is canceled are dropped.
func (e *SerialExecutor) Execute(fn func()) {
	select {
	case e.queue <- fn:
	case <-e.ctx.Done():
	}
}

func (e *SerialExecutor) run() {
	for {
		select {
		case fn := <-e.queue:
			fn()
		case <-e.ctx.Done():
			return
		}
	}
}
