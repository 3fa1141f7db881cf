package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/and161185/caregate/internal/metrics"
	"github.com/and161185/caregate/internal/token"
)

type options struct {
	log       *zap.Logger
	rec       metrics.Recorder
	now       func() time.Time
	federated token.FederatedVerifier
}

// Option customizes a service.
type Option func(*options)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.rec = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFederatedVerifier enables Google login.
func WithFederatedVerifier(v token.FederatedVerifier) Option {
	return func(o *options) { o.federated = v }
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop(), rec: metrics.Nop{}, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
