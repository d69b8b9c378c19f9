package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/app"
	"dossierline/internal/archiver"
	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/server"
)

const jwtSecretEnv = "DOSSIERLINE_JWT_SECRET"

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Dossierline CLI",
	Long: `Dossierline tracks the administrative dossiers of trainees enrolled in
certification training sessions.
- Session: one cohort of a training program with its dates.
- Trainee: a person enrolled in a session, reachable through a private portal link.
- Document slot: one required document per program, moving not_submitted -> under_review -> compliant/non_compliant.
- Profile: the administrative identity fields the certification body asks for.
- Dossier: complete when every required slot is compliant and the profile is valid.
- Conformity: a trainee is conform when the dossier is complete and the convention, funding and French test are validated.
- Event log: every change, view with 'dl events'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return app.LoadEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOSSIERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(traineeCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create dossierline.yml, the database and a JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists; keeping it (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			envPath := filepath.Join(workspace, app.EnvFile)
			if os.Getenv(jwtSecretEnv) == "" || force {
				secret, err := randomSecret()
				if err != nil {
					return err
				}
				if err := app.SetEnvValue(envPath, jwtSecretEnv, secret); err != nil {
					return err
				}
				fmt.Printf("Stored %s in %s\n", jwtSecretEnv, envPath)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				fmt.Printf("Database ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the config and rotate the JWT secret")
	return cmd
}

func tokenCmd() *cobra.Command {
	var actor string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("%s is not set; run dl init", jwtSecretEnv)
			}
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			token, err := server.SignToken(secret, actor, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "actor_id": actor, "expires_in": ttl.String()})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "token subject (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Create an API key; the secret is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				k, plain, err := a.Engine.Repo.CreateAPIKey(ctx, args[0], name, time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "key": plain})
				}
				fmt.Printf("API key %s for %s:\n%s\n", k.ID, k.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Repo.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	keys.AddCommand(create, list, revoke)
	return keys
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the trainee portal and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("%s is required for bearer auth; run dl init", jwtSecretEnv)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, Logger: a.Log},
					Metrics:  a.Metrics,
					Logger:   a.Log,
				})
				if err != nil {
					return err
				}

				if a.Config.Archive.Enabled {
					arch, err := archiver.New(a.Engine, a.Config.Archive, a.Log, a.Metrics)
					if err != nil {
						return err
					}
					arch.Start()
					defer func() {
						stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
						defer cancel()
						arch.Stop(stopCtx)
					}()
				}
				hooksCtx, stopHooks := context.WithCancel(ctx)
				defer stopHooks()
				go server.NewWebhookDispatcher(a.Engine, a.Log, a.Metrics).Run(hooksCtx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.WithField("addr", addr).Infof("serving Dossierline API on http://%s%s (docs at %s/docs)", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	if v := strings.TrimSpace(viper.GetString("actor-id")); v != "" {
		return v
	}
	return "local-user"
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func changedString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func changedBool(cmd *cobra.Command, flag string, value bool) *bool {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}
