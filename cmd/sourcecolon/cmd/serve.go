package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sourcecolon/sourcecolon/internal/config"
	"github.com/sourcecolon/sourcecolon/internal/desc"
	"github.com/sourcecolon/sourcecolon/internal/guru"
	"github.com/sourcecolon/sourcecolon/internal/listener"
	"github.com/sourcecolon/sourcecolon/internal/web"
)

const (
	serverReadTimeout     = 30 * time.Second
	serverWriteTimeout    = 60 * time.Second
	serverIdleTimeout     = 120 * time.Second
	serverShutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var (
		httpAddr    string
		listenAddr  string
		watch       bool
		allowRemote bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve directory listings and cross-references over HTTP",
		Long: `Serve /xref/<path> and /status over HTTP.

With --listen, a configuration listener accepts snapshots pushed by
'sourcecolon config push'; only loopback peers are admitted unless
--allow-remote is given. With --watch, edits to the configuration file are
applied without a restart. Invalid snapshots are rejected and the running
configuration stays in effect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := loadStore()
			if err != nil {
				return err
			}
			reg, err := guru.NewRegistry(store)
			if err != nil {
				return err
			}

			var descs web.DescriptionTable
			if dr := store.DataRoot(); dr != "" {
				if _, err := os.Stat(descPath(dr)); err == nil {
					table, err := desc.Open(descPath(dr))
					if err != nil {
						return err
					}
					defer func() { _ = table.Close() }()
					descs = table
				}
			}

			if listenAddr != "" {
				auth := listener.LoopbackOnly
				if allowRemote {
					auth = listener.AllowAll
				}
				l := listener.New(store, listener.WithAuthorizer(auth))
				if err := l.Start(listenAddr); err != nil {
					return err
				}
				defer func() { _ = l.Stop() }()
			}

			srv := &http.Server{
				Addr:         httpAddr,
				Handler:      web.NewHandler(reg, descs),
				ReadTimeout:  serverReadTimeout,
				WriteTimeout: serverWriteTimeout,
				IdleTimeout:  serverIdleTimeout,
			}

			g, gctx := errgroup.WithContext(ctx)
			if watch {
				w, err := config.NewWatcher(configPath, store)
				if err != nil {
					return err
				}
				g.Go(func() error {
					if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
			g.Go(func() error {
				slog.Info("http_server_started", slog.String("addr", httpAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&httpAddr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:2424", "Configuration listener address (empty disables)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the configuration file when it changes")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "Accept configuration from non-loopback peers")

	return cmd
}
