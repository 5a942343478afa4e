package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/dgnl-backend/internal/app"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/shutdown"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dgnl",
		Short:         "DGNL exam scoring and IRT pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := serveCmd()
	root.AddCommand(serve, workerCmd(), schedulerCmd(), enqueueIRTCmd(), migrateCmd())
	root.RunE = serve.RunE
	return root
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, plus workers and scheduler unless disabled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if migrate {
					if err := a.Migrate(); err != nil {
						return err
					}
				}
				return a.Run(ctx, app.Role{
					HTTP:      true,
					Workers:   a.Cfg.WorkersEnabled,
					Scheduler: a.Cfg.SchedulerEnabled,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Run schema migration before serving")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the IRT and scoring queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, app.Role{Workers: true})
			})
		},
	}
}

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue IRT calculations for exams past their due time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, app.Role{Scheduler: true})
			})
		},
	}
}

func enqueueIRTCmd() *cobra.Command {
	var testID string
	cmd := &cobra.Command{
		Use:   "enqueue-irt",
		Short: "Queue one IRT calculation for a test",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(testID) == "" {
				return errors.New("--test is required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				job, err := a.Services.IRT.Trigger(dbctx.Context{Ctx: ctx}, testID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s job %s for test %s\n", job.Type, job.ID, testID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&testID, "test", "", "Test ID")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
				return a.Migrate()
			})
		},
	}
}

func withApp(parent context.Context, fn func(context.Context, *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := shutdown.NotifyContext(parent)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
