package ioloop

import "github.com/joeycumines/logiface"

// loopOptions holds Loop construction configuration.
type loopOptions struct {
	logger       *logiface.Logger[logiface.Event]
	pollInterval int // ms, used when the timer has no due entry and no fd is ready
}

// Option configures a Loop instance.
type Option interface {
	applyLoop(*loopOptions)
}

type optionFunc struct {
	fn func(*loopOptions)
}

func (o *optionFunc) applyLoop(opts *loopOptions) { o.fn(opts) }

// WithLogger injects a structured logger. A nil logger (the default) means
// every log call inside the loop is skipped, per logiface's nil-safe
// facade contract.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{func(opts *loopOptions) { opts.logger = logger }}
}

// WithMaxPollIntervalMillis bounds how long a single PollIO call may block
// when no timer entry is due, so a Shutdown request is noticed promptly
// even without fd or timer activity.
func WithMaxPollIntervalMillis(ms int) Option {
	return &optionFunc{func(opts *loopOptions) { opts.pollInterval = ms }}
}

func resolveOptions(opts []Option) *loopOptions {
	cfg := &loopOptions{pollInterval: 1000}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applyLoop(cfg)
	}
	return cfg
}
