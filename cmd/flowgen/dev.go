package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowgen/internal/db"
	"flowgen/internal/engine"
	"flowgen/internal/logging"
	"flowgen/internal/migrate"
	"flowgen/internal/server"
)

const shutdownTimeout = 5 * time.Second

func devCmd() *cobra.Command {
	d := &cobra.Command{Use: "dev", Short: "Run a local development backend"}
	d.AddCommand(devServeCmd())
	d.AddCommand(devTokenCmd())
	return d
}

func devServeCmd() *cobra.Command {
	var addr, workspace string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow API backed by SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			cfg := rt.Config.Dev
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("workspace") {
				cfg.Workspace = workspace
			}

			if _, err := db.EnsureWorkspace(cfg.Workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: cfg.Workspace})
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := migrate.Migrate(ctx, conn); err != nil {
				return err
			}

			e := engine.New(conn)
			defer e.Learning.Stop()
			if cfg.LearningEnabled {
				if err := e.Learning.Schedule(cfg.LearningCron); err != nil {
					return err
				}
			}

			handler, err := server.New(server.Config{
				Engine: e,
				Auth:   server.AuthConfig{JWTSecret: cfg.JWTSecret},
				Logger: logging.WithModule("http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			auth := "off"
			if cfg.JWTSecret != "" {
				auth = "bearer JWT"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving flowgen API on http://%s (OpenAPI at /openapi.json, Swagger UI at /docs, auth %s)\n", cfg.Addr, auth)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to dev.addr)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "directory holding the SQLite state (defaults to dev.workspace)")
	return cmd
}

func devTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the dev backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			if rt.Config.Dev.JWTSecret == "" {
				return errors.New("dev.jwt_secret is not set; set it in flowgen.yml or FLOWGEN_DEV_JWT_SECRET")
			}
			token, err := server.MintToken(rt.Config.Dev.JWTSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dev", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultTokenTTL, "token lifetime")
	return cmd
}
