package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Atheer-Ganayem/twist"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	url     string
	timeout time.Duration
	ping    bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "client MESSAGE...",
		Short: "Send messages to a websocket server and print the replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "ws://localhost:8080/", "Server URL")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for the whole exchange")
	flags.BoolVar(&opts.ping, "ping", false, "Ping the server before sending")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(ctx context.Context, opts options, messages []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	conn, resp, err := twist.Dial(ctx, opts.url, &twist.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Debug("handshake done", zap.Int("status", resp.StatusCode))

	if opts.ping {
		if err := conn.Ping(ctx, []byte("client")); err != nil {
			return err
		}
	}

	for _, m := range messages {
		if err := conn.SendText(ctx, m); err != nil {
			return err
		}
		reply, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		if reply.IsClose() {
			code, reason, _ := reply.CloseCode()
			return fmt.Errorf("server closed the connection: %d %s", code, reason)
		}
		fmt.Println(string(reply.Data))
	}

	return conn.CloseWithCode(twist.CloseNormalClosure, "")
}
