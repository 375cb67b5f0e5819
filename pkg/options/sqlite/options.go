// Package sqliteopts provides options for the SQLite knowledge store.
package sqliteopts

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/reply-x/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains SQLite store configuration.
type Options struct {
	// Path is the database file path. Empty selects an in-memory database,
	// which is only useful for tests.
	Path string `json:"path" mapstructure:"path"`

	// MaxOpenConns caps open connections. SQLite tolerates little write
	// concurrency, so the default is small.
	MaxOpenConns int `json:"max-open-conns" mapstructure:"max-open-conns"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Path:         "_output/replyx.db",
		MaxOpenConns: 4,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, options.Join(prefixes...)+"sqlite.path", o.Path, "SQLite database file path (empty for in-memory).")
	fs.IntVar(&o.MaxOpenConns, options.Join(prefixes...)+"sqlite.max-open-conns", o.MaxOpenConns, "Maximum open database connections.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("sqlite max-open-conns cannot be negative"))
	}
	return errs
}
