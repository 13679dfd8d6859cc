package cli

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// Backend is what the maintenance commands operate on.
type Backend interface {
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) error
	Unlock(ctx context.Context, email string) error
	Unblock(ctx context.Context, address string) error
	Sweep(ctx context.Context) map[string]int64
	Close()
}

// Opener connects a backend from the environment's configuration.
type Opener func(ctx context.Context) (Backend, error)

type options struct {
	timeout time.Duration
	open    Opener
	out     io.Writer
}

// NewRootCommand builds the bastionctl command tree.
func NewRootCommand(open Opener, out io.Writer) *cobra.Command {
	opts := &options{open: open, out: out}
	cmd := &cobra.Command{
		Use:           "bastionctl",
		Short:         "Operate a bastion deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "deadline for the whole command")
	cmd.AddCommand(
		newMigrateCommand(opts),
		newUnlockCommand(opts),
		newUnblockCommand(opts),
		newSweepCommand(opts),
	)
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.with(cmd.Context(), func(ctx context.Context, b Backend) error {
					if err := b.Migrate(ctx); err != nil {
						return err
					}
					fmt.Fprintln(opts.out, "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.with(cmd.Context(), func(ctx context.Context, b Backend) error {
					return b.MigrationStatus(ctx)
				})
			},
		},
	)
	return cmd
}

func newUnlockCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <email>",
		Short: "Clear the lockout of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.with(cmd.Context(), func(ctx context.Context, b Backend) error {
				if err := b.Unlock(ctx, args[0]); err != nil {
					return fmt.Errorf("unlock %s: %w", args[0], err)
				}
				fmt.Fprintf(opts.out, "unlocked %s\n", args[0])
				return nil
			})
		},
	}
}

func newUnblockCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <address>",
		Short: "Lift a block on a client address",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return err
			}
			if _, err := netip.ParseAddr(args[0]); err != nil {
				return fmt.Errorf("invalid address %q", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.with(cmd.Context(), func(ctx context.Context, b Backend) error {
				if err := b.Unblock(ctx, args[0]); err != nil {
					return fmt.Errorf("unblock %s: %w", args[0], err)
				}
				fmt.Fprintf(opts.out, "unblocked %s\n", args[0])
				return nil
			})
		},
	}
}

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the maintenance sweep once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.with(cmd.Context(), func(ctx context.Context, b Backend) error {
				results := b.Sweep(ctx)
				names := make([]string, 0, len(results))
				for name := range results {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(opts.out, "%-16s %d\n", name, results[name])
				}
				return nil
			})
		},
	}
}

func (o *options) with(parent context.Context, fn func(context.Context, Backend) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	b, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}
