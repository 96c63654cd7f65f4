package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ErrShutdownRequested is returned by Run after the operator issued _shutdown
var ErrShutdownRequested = errors.New("admin console: shutdown requested")

const (
	cmdKill     = "_kill"
	cmdShutdown = "_shutdown"

	commandTimeout = 5 * time.Second
)

// Controller is the part of the relay the console drives
type Controller interface {
	Kill(ctx context.Context, name string) (bool, error)
	Shutdown(ctx context.Context) (int, error)
}

// Console reads operator commands line by line and forwards them to the relay
type Console struct {
	ctrl   Controller
	out    io.Writer
	logger *slog.Logger
}

// NewConsole creates a console that writes operator feedback to out
func NewConsole(ctrl Controller, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		ctrl:   ctrl,
		out:    out,
		logger: logger.With("component", "admin"),
	}
}

// Run processes commands from in until EOF, ctx cancellation or _shutdown.
// EOF ends the console without stopping the relay and returns nil.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("admin console: read input: %w", err)
			}
			c.logger.Debug("Admin input closed")
			return nil

		case line := <-lines:
			if err := c.Execute(ctx, line); err != nil {
				return err
			}
		}
	}
}

// Execute runs a single command line
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch fields[0] {
	case cmdKill:
		if len(fields) != 2 {
			c.usage()
			return nil
		}
		name := fields[1]
		found, err := c.ctrl.Kill(cctx, name)
		if err != nil {
			c.logger.Error("Kill failed", slog.String("name", name), slog.String("error", err.Error()))
			fmt.Fprintf(c.out, "kill failed: %v\n", err)
			return nil
		}
		if !found {
			fmt.Fprintln(c.out, "This username does not exist")
			return nil
		}
		c.logger.Info("Operator killed session", slog.String("name", name))

	case cmdShutdown:
		released, err := c.ctrl.Shutdown(cctx)
		if err != nil {
			return fmt.Errorf("admin console: shutdown: %w", err)
		}
		c.logger.Info("Operator shut down relay", slog.Int("released_sessions", released))
		return ErrShutdownRequested

	default:
		c.usage()
	}

	return nil
}

func (c *Console) usage() {
	fmt.Fprintf(c.out, "commands: %s <name>, %s\n", cmdKill, cmdShutdown)
}
