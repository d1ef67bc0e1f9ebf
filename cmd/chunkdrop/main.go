package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ChunkDrop/internal/app"
	"github.com/dharsanguruparan/ChunkDrop/internal/auth"
	"github.com/dharsanguruparan/ChunkDrop/internal/client"
	"github.com/dharsanguruparan/ChunkDrop/internal/config"
	"github.com/dharsanguruparan/ChunkDrop/internal/database"
	"github.com/dharsanguruparan/ChunkDrop/internal/model"
	"github.com/dharsanguruparan/ChunkDrop/internal/repository"
)

type globalFlags struct {
	serverURL string
	token     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chunkdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "chunkdrop",
		Short: "ChunkDrop upload CLI",
		Long: `ChunkDrop stores files for owning entities in an S3 compatible bucket. Small files
go up in one request; large ones are split into chunks that upload in parallel and resume
after interruption.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&g.serverURL, "server", envOr("CHUNKDROP_SERVER_URL", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("CHUNKDROP_TOKEN"), "Bearer token (see `chunkdrop token`)")
	cmd.AddCommand(
		newUploadCmd(g),
		newStatusCmd(g),
		newCancelCmd(g),
		newTokenCmd(),
		newMigrateCmd(),
		newEntityCmd(),
		newRunCmd(),
	)
	return cmd
}

func newUploadCmd(g *globalFlags) *cobra.Command {
	var (
		entity    string
		resume    string
		chunkSize int64
		parallel  int
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a file, chunked when it reaches the multipart threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			var (
				mu   sync.Mutex
				last model.Progress
			)
			c := newClient(g,
				client.WithThreshold(cfg.MultipartThreshold),
				client.WithChunkSize(chunkSize),
				client.WithParallelism(parallel),
				client.WithProgress(func(p model.Progress) {
					mu.Lock()
					defer mu.Unlock()
					if p.UploadedCount > last.UploadedCount {
						last = p
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d chunks (%.2f%%)", p.UploadedCount, p.TotalChunks, p.ProgressPercent)
					}
				}),
			)
			rec, err := c.UploadFile(cmd.Context(), entity, args[0], resume)
			if last.TotalChunks > 0 {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "Owning entity id")
	cmd.Flags().StringVar(&resume, "resume", "", "Continue this upload id instead of starting over")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 0, "Chunk size in bytes (0 uses the server default)")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Concurrent chunk requests")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status UPLOAD_ID",
		Short: "Show an upload session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newClient(g).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), session)
		},
	}
}

func newCancelCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel UPLOAD_ID",
		Short: "Abort an upload session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newClient(g).Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), session)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var user, name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token with the configured signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if os.Getenv("CHUNKDROP_SIGNING_SECRET") == "" {
				return errors.New("CHUNKDROP_SIGNING_SECRET must be set to mint tokens the server accepts")
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			token, expires, err := auth.NewSigner(cfg.SigningSecret, ttl).Issue(user, name)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"token": token, "expiresAt": expires.UTC()})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id placed in the sub claim")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default CHUNKDROP_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("CHUNKDROP_DATABASE_URL is not set")
			}
			return database.Migrate(cfg.DatabaseURL, config.SetupLogger(cfg))
		},
	}
}

func newEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage owning entities",
	}
	var kind string
	add := &cobra.Command{
		Use:   "add ID",
		Short: "Register an owning entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("CHUNKDROP_DATABASE_URL is not set")
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.NewEntityRepository(pool).Create(cmd.Context(), args[0], kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entity %s registered\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "Entity kind, for example project or user")
	cmd.AddCommand(add)
	return cmd
}

func newRunCmd() *cobra.Command {
	var memory bool
	var entities []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server or the worker in this process",
	}
	cmd.PersistentFlags().BoolVar(&memory, "memory", false, "Keep metadata and objects in memory")
	cmd.PersistentFlags().StringSliceVar(&entities, "entity", nil, "Entities to register at startup (memory mode)")

	build := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		a, err := app.Build(ctx, cfg, config.SetupLogger(cfg), app.Options{Memory: memory})
		if err != nil {
			return nil, err
		}
		for _, id := range entities {
			if err := a.Entities.CreateEntity(ctx, id, ""); err != nil {
				a.Close()
				return nil, err
			}
		}
		return a, nil
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "server",
			Short: "Serve the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := build(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return a.Serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Consume cleanup tasks from Redis",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := build(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return a.RunWorker(cmd.Context())
			},
		},
	)
	return cmd
}

func newClient(g *globalFlags, opts ...client.Option) *client.Client {
	return client.New(g.serverURL, g.token, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
