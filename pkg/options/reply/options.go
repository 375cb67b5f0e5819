// Package reply provides reply pipeline configuration options.
package reply

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/reply-x/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains reply pipeline configuration.
type Options struct {
	// TopK is the number of knowledge sources to retrieve per query.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// MinScore is the relevance floor below which sources are discarded.
	MinScore float64 `json:"min-score" mapstructure:"min-score"`

	// Deadline bounds one reply pipeline run end to end.
	Deadline time.Duration `json:"deadline" mapstructure:"deadline"`

	// SignalTimeout bounds a single analysis call (language, sentiment,
	// intent).
	SignalTimeout time.Duration `json:"signal-timeout" mapstructure:"signal-timeout"`

	// LanguageThreshold is the detection confidence below which the
	// language is reported as undetermined.
	LanguageThreshold float64 `json:"language-threshold" mapstructure:"language-threshold"`

	// IntentThreshold is the recognition confidence above which the reply
	// pipeline restructures the draft for the customer's intent.
	IntentThreshold float64 `json:"intent-threshold" mapstructure:"intent-threshold"`

	// FallbackLanguage is the language code used when detection fails or
	// stays below the threshold. Empty keeps the language undetermined.
	FallbackLanguage string `json:"fallback-language" mapstructure:"fallback-language"`

	// HistoryLimit caps how many recent messages a conversation summary
	// considers.
	HistoryLimit int `json:"history-limit" mapstructure:"history-limit"`

	// RegenItemTimeout bounds the embed+persist work for one item during
	// batch regeneration.
	RegenItemTimeout time.Duration `json:"regen-item-timeout" mapstructure:"regen-item-timeout"`

	// RegenJobTimeout bounds a whole regeneration pass.
	RegenJobTimeout time.Duration `json:"regen-job-timeout" mapstructure:"regen-job-timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		TopK:              5,
		MinScore:          0.55,
		Deadline:          90 * time.Second,
		SignalTimeout:     10 * time.Second,
		LanguageThreshold: 0.5,
		IntentThreshold:   0.6,
		FallbackLanguage:  "",
		HistoryLimit:      50,
		RegenItemTimeout:  60 * time.Second,
		RegenJobTimeout:   2 * time.Hour,
	}
}

// AddFlags adds flags for reply options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.TopK, options.Join(prefixes...)+"reply.top-k", o.TopK, "Number of knowledge sources to retrieve per query.")
	fs.Float64Var(&o.MinScore, options.Join(prefixes...)+"reply.min-score", o.MinScore, "Relevance floor for retrieved sources.")
	fs.DurationVar(&o.Deadline, options.Join(prefixes...)+"reply.deadline", o.Deadline, "Overall reply pipeline deadline.")
	fs.DurationVar(&o.SignalTimeout, options.Join(prefixes...)+"reply.signal-timeout", o.SignalTimeout, "Per-signal analysis timeout.")
	fs.Float64Var(&o.LanguageThreshold, options.Join(prefixes...)+"reply.language-threshold", o.LanguageThreshold, "Language detection confidence threshold.")
	fs.Float64Var(&o.IntentThreshold, options.Join(prefixes...)+"reply.intent-threshold", o.IntentThreshold, "Intent confidence threshold for reply restructuring.")
	fs.StringVar(&o.FallbackLanguage, options.Join(prefixes...)+"reply.fallback-language", o.FallbackLanguage, "Language assumed when detection fails (empty disables).")
	fs.IntVar(&o.HistoryLimit, options.Join(prefixes...)+"reply.history-limit", o.HistoryLimit, "Maximum messages considered by conversation summaries.")
	fs.DurationVar(&o.RegenItemTimeout, options.Join(prefixes...)+"reply.regen-item-timeout", o.RegenItemTimeout, "Per-item timeout during batch regeneration.")
	fs.DurationVar(&o.RegenJobTimeout, options.Join(prefixes...)+"reply.regen-job-timeout", o.RegenJobTimeout, "Overall batch regeneration timeout.")
}

// Validate validates the reply options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("reply.top-k must be positive"))
	}
	if o.MinScore < 0 || o.MinScore > 1 {
		errs = append(errs, fmt.Errorf("reply.min-score must be in [0,1]"))
	}
	if o.Deadline <= 0 {
		errs = append(errs, fmt.Errorf("reply.deadline must be positive"))
	}
	if o.SignalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reply.signal-timeout must be positive"))
	}
	if o.LanguageThreshold < 0 || o.LanguageThreshold > 1 {
		errs = append(errs, fmt.Errorf("reply.language-threshold must be in [0,1]"))
	}
	if o.IntentThreshold < 0 || o.IntentThreshold > 1 {
		errs = append(errs, fmt.Errorf("reply.intent-threshold must be in [0,1]"))
	}
	if o.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("reply.history-limit must be positive"))
	}
	return errs
}
