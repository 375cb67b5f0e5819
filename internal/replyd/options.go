// Package replyd provides the reply service application wiring.
package replyd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/reply-x/internal/model"
	cacheopts "github.com/kart-io/reply-x/pkg/options/cache"
	httpopts "github.com/kart-io/reply-x/pkg/options/http"
	llmopts "github.com/kart-io/reply-x/pkg/options/llm"
	logopts "github.com/kart-io/reply-x/pkg/options/logger"
	milvusopts "github.com/kart-io/reply-x/pkg/options/milvus"
	replyopts "github.com/kart-io/reply-x/pkg/options/reply"
	sqliteopts "github.com/kart-io/reply-x/pkg/options/sqlite"
)

// Vector index backends.
const (
	VectorBackendMemory = "memory"
	VectorBackendMilvus = "milvus"
)

// Options contains all reply service options.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// SQLite contains knowledge store configuration.
	SQLite *sqliteopts.Options `json:"sqlite" mapstructure:"sqlite"`

	// VectorBackend selects the vector index implementation (memory, milvus).
	VectorBackend string `json:"vector-backend" mapstructure:"vector-backend"`

	// Milvus contains Milvus configuration, used when VectorBackend is
	// milvus.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Embedding contains embedding provider configuration.
	Embedding *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains chat provider configuration.
	Chat *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// Cache contains embedding cache configuration.
	Cache *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// Reply contains reply pipeline configuration.
	Reply *replyopts.Options `json:"reply" mapstructure:"reply"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		HTTP:          httpopts.NewOptions(),
		Log:           logopts.NewOptions(),
		SQLite:        sqliteopts.NewOptions(),
		VectorBackend: VectorBackendMemory,
		Milvus:        milvusopts.NewOptions(),
		Embedding:     llmopts.NewEmbeddingOptions(),
		Chat:          llmopts.NewChatOptions(),
		Cache:         cacheopts.NewOptions(),
		Reply:         replyopts.NewOptions(),
	}
}

// AddFlags adds all flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.SQLite.AddFlags(fs)
	fs.StringVar(&o.VectorBackend, "vector-backend", o.VectorBackend, "Vector index backend (memory, milvus)")
	o.Milvus.AddFlags(fs)
	o.Embedding.AddFlags(fs, "embedding")
	o.Chat.AddFlags(fs, "chat")
	o.Cache.AddFlags(fs)
	o.Reply.AddFlags(fs)
}

// Validate validates all options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.HTTP.Validate(); err != nil {
		return err
	}
	if errs := o.SQLite.Validate(); len(errs) > 0 {
		return errs[0]
	}

	switch o.VectorBackend {
	case VectorBackendMemory:
	case VectorBackendMilvus:
		if errs := o.Milvus.Validate(); len(errs) > 0 {
			return errs[0]
		}
	default:
		return fmt.Errorf("unknown vector backend %q", o.VectorBackend)
	}

	if errs := o.Embedding.Validate(); len(errs) > 0 {
		return fmt.Errorf("embedding: %w", errs[0])
	}
	if errs := o.Chat.Validate(); len(errs) > 0 {
		return fmt.Errorf("chat: %w", errs[0])
	}
	if errs := o.Cache.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if errs := o.Reply.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if o.Reply.FallbackLanguage != "" && !model.ParseLanguage(o.Reply.FallbackLanguage).Supported() {
		return fmt.Errorf("reply.fallback-language %q is not a supported language code", o.Reply.FallbackLanguage)
	}
	return nil
}
