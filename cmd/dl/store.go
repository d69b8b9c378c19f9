package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/app"
	"dossierline/internal/archiver"
	"dossierline/internal/repo"
)

func eventsCmd() *cobra.Command {
	var f repo.EventFilter
	var limit int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListEvents(ctx, limit, cursor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Session", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.SessionID, evt.EntityID, evt.ActorID, evt.Payload})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&f.Type, "type", "", "filter by event type")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "filter by entity kind (session, trainee, store)")
	cmd.Flags().StringVar(&f.EntityID, "entity", "", "filter by entity id")
	cmd.Flags().IntVar(&limit, "limit", 20, "max events")
	cmd.Flags().Int64Var(&cursor, "before", 0, "only events older than this id")
	return cmd
}

func storeCmd() *cobra.Command {
	st := &cobra.Command{Use: "store", Short: "Export, import and repair the stored document"}

	st.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the canonical store as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				store, err := a.Engine.LoadCanonical(ctx)
				if err != nil {
					return err
				}
				return printJSON(store)
			})
		},
	})

	st.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Replace the store with a JSON file, legacy layouts included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.ImportStore(ctx, raw, actorID()); err != nil {
					return err
				}
				changed, err := a.Engine.NormalizeStore(ctx, actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d bytes (normalized: %t)\n", len(raw), changed)
				return nil
			})
		},
	})

	st.AddCommand(&cobra.Command{
		Use:   "normalize",
		Short: "Rewrite the stored document in canonical form",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				changed, err := a.Engine.NormalizeStore(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]bool{"changed": changed})
				}
				if changed {
					fmt.Println("Store rewritten")
				} else {
					fmt.Println("Store already canonical")
				}
				return nil
			})
		},
	})

	st.AddCommand(&cobra.Command{
		Use:   "backups",
		Short: "List payloads kept before an import or a corrupt overwrite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Repo.ListBackups(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Revision", "Reason", "Bytes", "Created"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Revision, b.Reason, b.Size, b.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})

	var out string
	dump := &cobra.Command{
		Use:   "backup <id>",
		Short: "Write a backup payload to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("backup id must be an integer")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				_, payload, err := a.Engine.Repo.GetBackup(ctx, id)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = os.Stdout.Write(payload)
					return err
				}
				return os.WriteFile(out, payload, 0o600)
			})
		},
	}
	dump.Flags().StringVarP(&out, "out", "o", "", "output file")
	st.AddCommand(dump)
	return st
}

func archiveCmd() *cobra.Command {
	arch := &cobra.Command{Use: "archive", Short: "Auto-archive finished sessions"}
	var graceDays int
	run := &cobra.Command{
		Use:   "run",
		Short: "Archive sessions whose last date is past the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				cfg := a.Config.Archive
				if cmd.Flags().Changed("grace-days") {
					cfg.GraceDays = graceDays
				}
				if cfg.Schedule == "" {
					cfg.Schedule = "@daily"
				}
				job, err := archiver.New(a.Engine, cfg, a.Log, a.Metrics)
				if err != nil {
					return err
				}
				n, err := job.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Archived %d sessions at %s\n", n, time.Now().Format(time.DateOnly))
				return nil
			})
		},
	}
	run.Flags().IntVar(&graceDays, "grace-days", 0, "override archive.grace_days")
	arch.AddCommand(run)
	return arch
}
