// Package app provides the reply service command.
package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kart-io/reply-x/internal/replyd"
)

const commandDesc = `Reply-X customer reply service.

This server provides:
  - Retrieval-augmented reply generation in the customer's language
  - Language, sentiment and intent analysis
  - Knowledge base management with vector search
  - Active learning from human-corrected replies`

// NewCommand creates the replyd root command.
func NewCommand() *cobra.Command {
	opts := replyd.NewOptions()

	cmd := &cobra.Command{
		Use:          replyd.Name,
		Short:        "Reply-X customer reply service",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return replyd.Run(opts)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}
