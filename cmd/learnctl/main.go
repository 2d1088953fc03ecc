// Command learnctl is the operator CLI: migrations, catalog import, payment
// replays from the gateway and reports.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/app"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

// validFormats are the accepted --format values.
var validFormats = []string{"text", "json"}

// operator is the admin principal that read-only commands run as.
var operator = access.Principal{ID: "learnctl", Role: subscription.RoleAdmin}

// rootOptions holds global flags and the loaded configuration.
type rootOptions struct {
	Format string
	Config *config.Config
}

func main() {
	_ = gotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "learnctl",
		Short:         "Operate the pai-learn entitlement and progress engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.Config = cfg
			// Logs go to stderr so JSON output stays parseable.
			slog.SetDefault(cfg.Log.NewLogger(cmd.ErrOrStderr()))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newCatalogCommand(opts))
	cmd.AddCommand(newUserCommand(opts))
	cmd.AddCommand(newPlanCommand(opts))
	cmd.AddCommand(newPaymentCommand(opts))
	cmd.AddCommand(newTransactionCommand(opts))
	cmd.AddCommand(newQuizCommand(opts))
	cmd.AddCommand(newNoticeCommand(opts))
	cmd.AddCommand(newReportCommand(opts))

	return cmd
}

// openApp builds the application from the loaded configuration.
func openApp(cmd *cobra.Command, opts *rootOptions) (*app.App, error) {
	return app.New(cmd.Context(), opts.Config)
}

// output writes v as indented JSON, or calls text for the text format.
func output(cmd *cobra.Command, opts *rootOptions, v any, text func()) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}
