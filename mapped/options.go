package mapped

import (
	"go.uber.org/zap"

	"github.com/blastbao/gomem/record"
)

// Option configures Open and FromBytes.
type Option func(*options)

type options struct {
	logger *zap.Logger
	verify []record.Option
	cache  *record.VerifyCache
}

func newOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger logs mapping, unmapping and rejected buffers.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVerifyOptions passes options to record.Verify.
func WithVerifyOptions(opts ...record.Option) Option {
	return func(o *options) { o.verify = append(o.verify, opts...) }
}

// WithCache verifies through c instead of record.Verify. The cache must
// have been created for the same schema; its own options apply and those
// given with WithVerifyOptions are ignored.
func WithCache(c *record.VerifyCache) Option {
	return func(o *options) { o.cache = c }
}
