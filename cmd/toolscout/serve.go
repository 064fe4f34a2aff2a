package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/toolscout/internal/digest"
	"github.com/TobiSchelling/toolscout/internal/mcptools"
	"github.com/TobiSchelling/toolscout/internal/scheduler"
	"github.com/TobiSchelling/toolscout/internal/server"
)

const shutdownTimeout = 10 * time.Second

// --- serve command ---

var (
	serveAddr        string
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		srv := server.New(server.Deps{
			Pipeline:     a.pipeline,
			Refresher:    a.refresher,
			Store:        a.store,
			Digest:       digest.NewComposer(a.store, logger.Named("digest")),
			DigestWindow: cfg.Digest.Window,
		}, logger.Named("server"))
		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
		if !serveNoScheduler {
			sched := scheduler.New(a.refresher, cfg.Refresh.Interval, logger.Named("scheduler"))
			g.Go(func() error {
				sched.Run(ctx)
				return nil
			})
		}

		err = g.Wait()
		logger.Info("server stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Do not run the periodic refresh")
}

// --- digest command ---

var (
	digestWindow time.Duration
	digestSend   bool
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Write the digest of recently detected tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var sender digest.Sender
		if digestSend {
			token := os.Getenv(cfg.Digest.Telegram.TokenEnv)
			if token == "" || cfg.Digest.Telegram.ChatID == 0 {
				return fmt.Errorf("--send needs %s and digest.telegram.chat_id", cfg.Digest.Telegram.TokenEnv)
			}
			ts, err := digest.NewTelegramSender(token, cfg.Digest.Telegram.ChatID)
			if err != nil {
				return err
			}
			sender = ts
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		window := cfg.Digest.Window
		if digestWindow > 0 {
			window = digestWindow
		}
		d, err := digest.NewComposer(store, logger.Named("digest")).Compose(ctx, time.Now().Add(-window))
		if err != nil {
			return err
		}

		page, err := d.Page()
		if err != nil {
			return err
		}
		out := cfg.DigestOutput()
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(out, []byte(page), 0o644); err != nil {
			return fmt.Errorf("writing digest: %w", err)
		}
		fmt.Printf("Digest: %d tools from %d sources\n", d.AppCount(), d.SourceCount)
		fmt.Printf("Written to %s\n", out)

		if sender != nil {
			if err := sender.Send(ctx, d); err != nil {
				return err
			}
			fmt.Println("Sent to Telegram.")
		}
		return nil
	},
}

func init() {
	digestCmd.Flags().DurationVarP(&digestWindow, "window", "w", 0, "Look-back window (overrides digest.window)")
	digestCmd.Flags().BoolVar(&digestSend, "send", false, "Also post the digest to the configured Telegram chat")
}

// --- mcp command ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the toolscout tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcp.NewServer(&mcp.Implementation{Name: "toolscout", Version: version}, nil)
		mcptools.Register(srv, a.pipeline, a.store, a.refresher)
		return srv.Run(ctx, &mcp.StdioTransport{})
	},
}
