package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/opsassist/internal/api"
	"github.com/kalambet/opsassist/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and optionally the MCP stdio server) in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func runServer(withMCP bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	slog.Info("starting opsassist", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	if err := a.chunks.Ping(ctx); err != nil {
		slog.Warn("evidence store not reachable at startup", "backend", cfg.Store.Backend, "error", err)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           api.NewHandler(a.service),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		stdio := server.NewStdioServer(api.NewMCPServer(a.service, version))
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, store and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClientFor(cfg)
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var health map[string]string
	resp, err := client.get(context.Background(), "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case decodeJSON(resp, &health) != nil:
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	default:
		printStatus("Server", "running on %s", client.baseURL)
		printStatus("Evidence store", "%s", health["store"])
	}

	printStatus("Store backend", "%s", cfg.Store.Backend)
	printStatus("Model provider", "%s", cfg.Model.Provider)
	switch cfg.Model.Provider {
	case config.ProviderOllama:
		printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	case config.ProviderAzure:
		printStatus("Chat deployment", "%s", cfg.Azure.ChatDeployment)
		printStatus("Embed deployment", "%s", cfg.Azure.EmbedDeployment)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the evidence index",
}

var indexProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the Weaviate chunk class (HNSW, cosine) if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		recreate, _ := cmd.Flags().GetBool("recreate")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		if cfg.Store.Backend != config.BackendWeaviate {
			printStep("store.backend is %s; the chunk table is created by migrations when storage opens", cfg.Store.Backend)
			return nil
		}
		if recreate {
			printWarning("--recreate drops class %s and every chunk in it", cfg.Weaviate.ClassName)
		}

		ws, err := newWeaviateStore(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		created, err := ws.EnsureSchema(ctx, recreate)
		if err != nil {
			return err
		}
		if created {
			printSuccess("Created class %s", ws.ClassName())
		} else {
			printSuccess("Class %s already exists", ws.ClassName())
		}
		return nil
	},
}

func init() {
	indexProvisionCmd.Flags().Bool("recreate", false, "drop and recreate the class")
	indexCmd.AddCommand(indexProvisionCmd)
}
