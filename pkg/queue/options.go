package queue

import (
	"github.com/sirupsen/logrus"
)

// Options holds queue configuration.
type Options struct {
	Logger logrus.FieldLogger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Logger: logrus.StandardLogger(),
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithLogger sets the logger used by the queue and the worker it creates.
func WithLogger(l logrus.FieldLogger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}
