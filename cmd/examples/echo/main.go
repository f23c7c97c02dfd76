package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Atheer-Ganayem/twist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const connectedAtKey = "connected_at"

type options struct {
	addr     string
	debug    bool
	pingRate float64
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Run a websocket echo server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "Address to listen on")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.Float64Var(&opts.pingRate, "ping-rate", 0, "Pings answered per second and connection, 0 for no limit")
	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runEcho(ctx context.Context, opts options) error {
	logger, err := newLogger(opts.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	metrics, err := twist.NewMetrics(reg)
	if err != nil {
		return err
	}

	upgrader := twist.NewUpgrader(&twist.Options{
		Logger:   logger,
		Metrics:  metrics,
		PingRate: rate.Limit(opts.pingRate),
		OnConnect: func(conn *twist.Conn) {
			conn.MetaData.Store(connectedAtKey, time.Now())
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			logger.Debug("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		echo(r.Context(), conn, logger)
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: opts.addr, Handler: mux}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", opts.addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func echo(ctx context.Context, conn *twist.Conn, logger *zap.Logger) {
	logger = logger.With(zap.Stringer("remote", conn.RemoteAddr()))
	if v, ok := conn.MetaData.Load(connectedAtKey); ok {
		defer func() {
			logger.Debug("connection done", zap.Duration("lifetime", time.Since(v.(time.Time))))
		}()
	}
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			logger.Debug("read failed", zap.Error(err))
			return
		}
		if msg.IsClose() {
			return
		}
		if err := conn.WriteMessage(ctx, msg); err != nil {
			logger.Debug("write failed", zap.Error(err))
			return
		}
	}
}
