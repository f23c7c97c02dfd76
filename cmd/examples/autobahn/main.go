package main

import (
	"context"
	"net/http"
	"os"

	"github.com/Atheer-Ganayem/twist"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var addr string
	cmd := &cobra.Command{
		Use:   "autobahn",
		Short: "Echo server for the autobahn fuzzing client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9001", "Address to listen on")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(addr string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	upgrader := twist.NewUpgrader(&twist.Options{
		Logger:         logger,
		MaxMessageSize: twist.DefaultMaxMessageSize * 16, // autobahn tests messages up to 16MB
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := context.Background()
		for {
			msg, err := conn.ReadMessage(ctx)
			if err != nil || msg.IsClose() {
				return
			}
			if err := conn.WriteMessage(ctx, msg); err != nil {
				logger.Warn("echo failed", zap.Error(err))
				return
			}
		}
	})

	logger.Info("server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, nil)
}
