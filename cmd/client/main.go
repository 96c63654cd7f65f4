package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RoyGeagea/udpchatroom/internal/client"
)

var (
	silenceTimeout time.Duration
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "talk",
	Short: "Interactive client for the UDP chat relay",
	Long: `Joins a chat relay and relays what you type.

At the prompt:
  _connect <name> <host> <port>   join a relay
  _quit                           leave

Once connected, _who lists the members and _quit leaves.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

func init() {
	rootCmd.Flags().DurationVar(&silenceTimeout, "silence-timeout", 6*time.Second, "Leave when the relay has not pinged for this long")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol events to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	out := cmd.OutOrStdout()
	render := client.NewRenderer(out)
	render.Notice("Welcome to talk :)")
	render.Notice("Type '_connect <name> <host> <port>' to connect to your server.")
	render.Notice("Type '_quit' to quit.")

	input := bufio.NewReader(os.Stdin)
	line, err := input.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read command: %w", err)
	}
	if client.IsQuit(line) || strings.TrimSpace(line) == "" {
		return nil
	}

	target, err := client.ParseConnect(line)
	if err != nil {
		return err
	}

	c, err := client.Dial(target, out, logger, client.WithSilenceTimeout(silenceTimeout))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = c.Run(ctx, input)
	switch {
	case errors.Is(err, client.ErrLoggedOut):
		render.Notice("Logged out by the relay")
		return nil
	case errors.Is(err, client.ErrServerClosed):
		render.Notice("The relay closed")
		return nil
	}
	return err
}
