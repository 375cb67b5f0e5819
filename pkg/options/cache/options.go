// Package cache provides embedding cache configuration options.
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/reply-x/pkg/options"
	redisopts "github.com/kart-io/reply-x/pkg/options/redis"
)

var _ options.IOptions = (*Options)(nil)

// Options configures the embedding cache tiers: the in-process LRU and the
// optional shared Redis tier behind it.
type Options struct {
	// Capacity is the in-process LRU entry limit.
	Capacity int `json:"capacity" mapstructure:"capacity"`

	// RedisEnabled turns on the shared Redis tier.
	RedisEnabled bool `json:"redis-enabled" mapstructure:"redis-enabled"`

	// TTL is the Redis entry lifetime.
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Redis is the Redis connection configuration.
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewOptions creates default cache options.
func NewOptions() *Options {
	return &Options{
		Capacity:     4096,
		RedisEnabled: false,
		TTL:          24 * time.Hour,
		KeyPrefix:    "replyx:emb:",
		Redis:        redisopts.NewOptions(),
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.Capacity, options.Join(prefixes...)+"cache.capacity", o.Capacity, "In-process embedding LRU capacity.")
	fs.BoolVar(&o.RedisEnabled, options.Join(prefixes...)+"cache.redis-enabled", o.RedisEnabled, "Enable the shared Redis embedding cache tier.")
	fs.DurationVar(&o.TTL, options.Join(prefixes...)+"cache.ttl", o.TTL, "Redis embedding cache TTL.")
	fs.StringVar(&o.KeyPrefix, options.Join(prefixes...)+"cache.key-prefix", o.KeyPrefix, "Redis embedding cache key prefix.")

	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	o.Redis.AddFlags(fs)
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache capacity must be positive"))
	}
	if o.RedisEnabled {
		if o.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache ttl must be positive"))
		}
		if o.Redis == nil {
			errs = append(errs, fmt.Errorf("redis configuration is required when the redis tier is enabled"))
		} else if err := o.Redis.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
