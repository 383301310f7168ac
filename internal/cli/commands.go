package cli

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spf13/cobra"

	"github.com/jacentio/versioned/internal/av"
	"github.com/jacentio/versioned/store"
)

func newGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Read an item with a consistent read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := rootOpts.target(cmd)
			if err != nil {
				return err
			}
			committed, err := t.store.Transact(cmd.Context(), func(tx *store.Transaction) (*store.Transaction, error) {
				_, err := t.table.Require(tx, t.key)
				return tx, err
			})
			if err != nil {
				return WrapExitError(ExitFailure, "get", err)
			}
			return rootOpts.print(cmd, t, committed)
		},
	}
}

func newPutCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string
	var create, update bool

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Set attributes on an item, creating it if needed",
		Long: `Set attributes on an item. The item is created from its key when it
does not exist, unless --update-only is given; --create-only fails when it
does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if create && update {
				return NewExitError(ExitUsage, "--create-only and --update-only are mutually exclusive")
			}
			attrs, err := ParseAttributes(sets)
			if err != nil {
				return WrapExitError(ExitUsage, "invalid --set", err)
			}
			t, err := rootOpts.target(cmd)
			if err != nil {
				return err
			}
			for name := range attrs {
				if _, isKey := t.key[name]; isKey || name == rootOpts.VersionAttribute {
					return NewExitError(ExitUsage, fmt.Sprintf("--set %s: attribute is managed by vtxctl", name))
				}
			}

			build := store.CreateOrUpdate(t.table, func(current *store.Item) (store.Item, error) {
				var item store.Item
				switch {
				case current != nil && create:
					return nil, fmt.Errorf("item %v already exists", rootOpts.Keys)
				case current != nil:
					item = *current
				case update:
					return nil, &store.ItemNotFoundError{Table: rootOpts.Table, Key: t.key}
				default:
					item = store.Item(av.CloneItem(t.key))
				}
				for name, v := range attrs {
					item[name] = v
				}
				return item, nil
			}, t.key)

			committed, err := t.store.Transact(cmd.Context(), build)
			if err != nil {
				return WrapExitError(ExitFailure, "put", err)
			}
			return rootOpts.print(cmd, t, committed)
		},
	}

	cmd.Flags().StringArrayVarP(&sets, "set", "s", nil, "attribute as attr=value (repeatable)")
	cmd.Flags().BoolVar(&create, "create-only", false, "fail if the item exists")
	cmd.Flags().BoolVar(&update, "update-only", false, "fail if the item does not exist")
	return cmd
}

func newDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var mustExist bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := rootOpts.target(cmd)
			if err != nil {
				return err
			}
			committed, err := t.store.Transact(cmd.Context(), func(tx *store.Transaction) (*store.Transaction, error) {
				if mustExist {
					if _, err := t.table.Require(tx, t.key); err != nil {
						return nil, err
					}
				}
				return t.table.Delete(tx, t.key)
			})
			if err != nil {
				return WrapExitError(ExitFailure, "delete", err)
			}
			return rootOpts.print(cmd, t, committed)
		},
	}

	cmd.Flags().BoolVar(&mustExist, "must-exist", false, "fail if the item does not exist")
	return cmd
}

func newIncrCommand(rootOpts *RootOptions) *cobra.Command {
	var attr string
	var by int64

	cmd := &cobra.Command{
		Use:   "incr",
		Short: "Add to an integer attribute of an existing item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if attr == "" {
				return NewExitError(ExitUsage, "--attr is required")
			}
			t, err := rootOpts.target(cmd)
			if err != nil {
				return err
			}
			committed, err := t.store.Transact(cmd.Context(), store.UpdateIfExists(t.table, func(item store.Item) (store.Item, error) {
				return Increment(item, attr, by)
			}, t.key))
			if err != nil {
				return WrapExitError(ExitFailure, "incr", err)
			}
			return rootOpts.print(cmd, t, committed)
		},
	}

	cmd.Flags().StringVarP(&attr, "attr", "a", "", "attribute to increment")
	cmd.Flags().Int64Var(&by, "by", 1, "amount to add")
	return cmd
}

// Increment adds by to the integer attribute attr of item. A missing
// attribute counts as zero.
func Increment(item store.Item, attr string, by int64) (store.Item, error) {
	var current int64
	if v, ok := item[attr]; ok {
		n, isNumber := v.(*types.AttributeValueMemberN)
		if !isNumber {
			return nil, fmt.Errorf("attribute %s is not a number", attr)
		}
		var err error
		if current, err = strconv.ParseInt(n.Value, 10, 64); err != nil {
			return nil, fmt.Errorf("attribute %s is not an integer: %s", attr, n.Value)
		}
	}
	item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(current+by, 10)}
	return item, nil
}
