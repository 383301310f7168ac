// Package cli implements the vtxctl command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jacentio/versioned/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Table            string
	Keys             []string
	VersionAttribute string
	Output           string // "json" | "yaml"
	Verbose          bool
	EnvFile          string

	// NewClient builds the DynamoDB client. Tests replace it.
	NewClient func(ctx context.Context, envFile string) (store.Client, error)
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"json", "yaml"}

// NewRootCommand creates the root command for vtxctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewClient: NewClient})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vtxctl",
		Short: "Versioned transactions on DynamoDB items",
		Long: `vtxctl reads and writes single DynamoDB items through versioned,
optimistic transactions. Every write increments the item's version
attribute and retries when another writer got there first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid output %q: must be one of %v", opts.Output, ValidOutputs))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Table, "table", "t", "", "table name")
	cmd.PersistentFlags().StringArrayVarP(&opts.Keys, "key", "k", nil, "key attribute as attr=value, attr=N:42 for numbers (repeatable)")
	cmd.PersistentFlags().StringVar(&opts.VersionAttribute, "version-attribute", "item_version", "version attribute name")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "json", "output format (json|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log transaction attempts to stderr")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional file of environment variables")

	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newPutCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newIncrCommand(opts))

	return cmd
}

// target is the item addressed by the global flags.
type target struct {
	store *store.Store
	table store.TypedTable[store.Item]
	key   store.Key
}

func (o *RootOptions) target(cmd *cobra.Command) (*target, error) {
	if o.Table == "" {
		return nil, NewExitError(ExitUsage, "--table is required")
	}
	key, err := ParseKey(o.Keys)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "invalid --key", err)
	}
	client, err := o.NewClient(cmd.Context(), o.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "connect", err)
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	cfg := store.DefaultConfig()
	cfg.VersionAttribute = o.VersionAttribute
	cfg.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	return &target{
		store: store.New(client, cfg),
		table: store.ItemTable(o.Table),
		key:   key,
	}, nil
}

// print writes the committed state of the target item. An absent item
// prints as null.
func (o *RootOptions) print(cmd *cobra.Command, t *target, tx *store.Transaction) error {
	item, _, err := t.table.Get(tx, t.key)
	if err != nil {
		return err
	}
	return Render(cmd.OutOrStdout(), o.Output, item)
}
