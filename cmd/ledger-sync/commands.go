package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/ledgersync"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	migrate bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ledger-sync",
		Short:         "Operate the POS to ledger sync from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.migrate, "migrate", false, "run AutoMigrate before the command")

	root.AddCommand(
		newSyncDayCommand(opts),
		newRetryFailedCommand(opts),
		newSyncCatalogCommand(opts),
		newSyncEntityCommand(opts, "sync-transaction", models.EntityTypeTransaction),
		newSyncEntityCommand(opts, "sync-service", models.EntityTypeService),
		newSyncEntityCommand(opts, "sync-product", models.EntityTypeProduct),
		newSyncCustomersCommand(opts),
		newExportLogsCommand(opts),
		newIssueTokenCommand(),
	)
	return root
}

// setup connects the stores and builds a Syncer whose context carries a fresh correlation id.
func setup(opts *rootOptions) (context.Context, context.CancelFunc, *ledgersync.Syncer, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if opts.migrate {
		if err := models.MigrateTable(db); err != nil {
			cancel()
			return nil, nil, nil, err
		}
	}
	s := ledgersync.NewSyncer(db, ledgersync.NewSettingsStore(db), ledgersync.HTTPGatewayFactory(), ledgersync.OptionsFromEnv())
	return ctx, cancel, s, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSyncDayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-day [YYYY-MM-DD]",
		Short: "Sync every unsynced completed sale of a business day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, s, err := setup(opts)
			if err != nil {
				return err
			}
			defer cancel()
			date := ""
			if len(args) == 1 {
				date = args[0]
			}
			result, err := s.BatchSyncDay(ctx, date, models.SyncSourceCLI)
			if perr := printJSON(cmd, result); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newRetryFailedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Retry every failed sale regardless of day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, s, err := setup(opts)
			if err != nil {
				return err
			}
			defer cancel()
			result, err := s.RetryFailed(ctx, models.SyncSourceCLI)
			if perr := printJSON(cmd, result); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newSyncCatalogCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-catalog",
		Short: "Push every active service and product to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, s, err := setup(opts)
			if err != nil {
				return err
			}
			defer cancel()
			result, err := s.SyncCatalog(ctx, models.SyncSourceCLI)
			if perr := printJSON(cmd, result); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newSyncEntityCommand(opts *rootOptions, use string, entityType models.EntityType) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Sync one %s", entityType),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}
			ctx, cancel, s, err := setup(opts)
			if err != nil {
				return err
			}
			defer cancel()

			var r ledgersync.Result
			switch entityType {
			case models.EntityTypeService:
				r = s.SyncService(ctx, id, models.SyncSourceCLI)
			case models.EntityTypeProduct:
				r = s.SyncProduct(ctx, id, models.SyncSourceCLI)
			default:
				r = s.SyncTransaction(ctx, id, models.SyncSourceCLI)
			}
			if err := printJSON(cmd, r); err != nil {
				return err
			}
			if !r.Success {
				return fmt.Errorf("%s %d: %s", entityType, id, r.Error)
			}
			return nil
		},
	}
}

func newSyncCustomersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-customer <id> [id...]",
		Short: "Sync one or more customers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, a := range args {
				id, err := strconv.Atoi(a)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid id %q", a)
				}
				ids = append(ids, id)
			}
			ctx, cancel, s, err := setup(opts)
			if err != nil {
				return err
			}
			defer cancel()

			if len(ids) == 1 {
				r := s.SyncCustomer(ctx, ids[0], models.SyncSourceCLI)
				if err := printJSON(cmd, r); err != nil {
					return err
				}
				if !r.Success {
					return fmt.Errorf("customer %d: %s", ids[0], r.Error)
				}
				return nil
			}
			result := s.SyncCustomers(ctx, ids, models.SyncSourceCLI)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d customers failed", result.Failed, result.Total)
			}
			return nil
		},
	}
}

func newExportLogsCommand(opts *rootOptions) *cobra.Command {
	var (
		out     string
		date    string
		status  string
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "export-logs",
		Short: "Export the sync log to xlsx, locally or to GCS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, s, err := setup(opts)
			if err != nil {
				return err
			}
			defer cancel()

			loc := s.Location()
			filter := models.SyncLogFilter{}
			if date != "" {
				day, err := ledgersync.ParseBusinessDate(date, loc, time.Now())
				if err != nil {
					return err
				}
				start, end := ledgersync.DayWindow(day, loc)
				filter.Since = &start
				filter.Until = &end
			}
			if status != "" {
				st := models.SyncLogStatus(status)
				filter.Status = &st
			}

			db := config.GetDB()
			if archive {
				name, err := ledgersync.ArchiveSyncLogs(ctx, db, filter, loc, out)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			}
			data, err := ledgersync.ExportSyncLogs(ctx, db, filter, loc)
			if err != nil {
				return err
			}
			if out == "" {
				out = "ledger-sync-logs.xlsx"
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file, or object name with --archive")
	cmd.Flags().StringVar(&date, "date", "", "business day YYYY-MM-DD")
	cmd.Flags().StringVar(&status, "status", "", "success or failed")
	cmd.Flags().BoolVar(&archive, "archive", false, "upload to GCS_BUCKET instead of writing a file")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userId   int
		username string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := utils.JwtGenerate(userId, username, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().IntVar(&userId, "user-id", 1, "user id claim")
	cmd.Flags().StringVar(&username, "username", "operator", "username claim")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
