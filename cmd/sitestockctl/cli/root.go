package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitestock/sitestock/internal/auth"
	"github.com/sitestock/sitestock/internal/catalog"
	"github.com/sitestock/sitestock/internal/extraction"
	"github.com/sitestock/sitestock/internal/staging"
	"github.com/sitestock/sitestock/jobs"
)

// Backend is the set of runtime collaborators the commands operate on.
type Backend interface {
	ListObjects(ctx context.Context) ([]string, error)
	Extract(ctx context.Context, image []byte) (extraction.Result, error)
	EnqueueSort(ctx context.Context, object string) error
	QueueStats(ctx context.Context) (jobs.QueueHealth, error)
	Catalog() *catalog.Catalog
	Close() error
}

// Opener builds a Backend on demand so commands that need no runtime stay offline.
type Opener func(ctx context.Context) (Backend, error)

// NewRootCommand assembles the sitestockctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "sitestockctl",
		Short:         "Operational helpers for the sitestock intake service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newObjectsCommand(open),
		newExtractCommand(open),
		newJobsCommand(open),
		newHashPasswordCommand(),
	)
	return root
}

func withBackend(cmd *cobra.Command, open Opener, fn func(Backend) error) error {
	if open == nil {
		return errors.New("sitestockctl: backend not configured")
	}
	backend, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(backend)
}

func newObjectsCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "objects",
		Short: "List destination objects present in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(b Backend) error {
				names, err := b.ListObjects(cmd.Context())
				if err != nil {
					return fmt.Errorf("list objects: %w", err)
				}
				sort.Strings(names)
				if len(names) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No objects yet.")
					return nil
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newExtractCommand(open Opener) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Run invoice extraction on a local photo and print the staging rows as JSON",
		Long:  "Prints the rows the intake page would show: service rows dropped, categories and units normalized. --raw prints the model result instead.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			return withBackend(cmd, open, func(b Backend) error {
				res, err := b.Extract(cmd.Context(), image)
				if err != nil {
					return err
				}
				var out any = res
				if !raw {
					table, err := staging.BuildTable(res, b.Catalog(), time.Now())
					if err != nil {
						return err
					}
					out = table.Rows
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the unfiltered model result")
	return cmd
}

func newJobsCommand(open Opener) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "sort <object>",
		Short: "Enqueue a date sort of one destination tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			object := strings.TrimSpace(args[0])
			return withBackend(cmd, open, func(b Backend) error {
				if err := b.EnqueueSort(cmd.Context(), object); err != nil {
					return fmt.Errorf("enqueue sort: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sort of %q enqueued.\n", object)
				return nil
			})
		},
	})
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(b Backend) error {
				stats, err := b.QueueStats(cmd.Context())
				if err != nil {
					return fmt.Errorf("inspect queue: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d retry=%d failed_today=%d processed_today=%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Retry, stats.Failed, stats.Processed)
				return nil
			})
		},
	})
	return jobsCmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for APP_PASSWORD_HASH",
		Long:  "Hashes the argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password, _, _ = strings.Cut(string(data), "\n")
				password = strings.TrimRight(password, "\r")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
