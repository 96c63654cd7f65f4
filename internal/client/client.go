package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/RoyGeagea/udpchatroom/internal/protocol"
)

var (
	// ErrBadCommand is returned by ParseConnect for anything but a well-formed _connect line
	ErrBadCommand = errors.New("client: expected '_connect <name> <host> <port>'")

	// ErrRejected is returned when the relay answers the join with #logout
	ErrRejected = errors.New("client: join rejected by relay")

	// ErrNoReply is returned when the relay does not answer the join in time
	ErrNoReply = errors.New("client: relay did not answer")

	// ErrServerSilent is returned when no #ping arrived within the silence timeout
	ErrServerSilent = errors.New("client: relay went silent")

	// ErrLoggedOut is returned when the relay ended the session with #logout
	ErrLoggedOut = errors.New("client: logged out by relay")

	// ErrServerClosed is returned when the relay announced it is shutting down
	ErrServerClosed = errors.New("client: relay closed")
)

const (
	cmdConnect = "_connect"
	cmdQuit    = "_quit"
)

// Target identifies the relay to join and the display name to join with
type Target struct {
	Name string
	Host string
	Port string
}

// Address returns host:port
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// ParseConnect parses "_connect <name> <host> <port>"
func ParseConnect(line string) (Target, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != cmdConnect {
		return Target{}, ErrBadCommand
	}
	if err := protocol.ValidateName(fields[1]); err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return Target{Name: fields[1], Host: fields[2], Port: fields[3]}, nil
}

// IsQuit reports whether an input line is the _quit command
func IsQuit(line string) bool {
	return strings.TrimSpace(line) == cmdQuit
}

// Client is an interactive relay peer
type Client struct {
	target Target
	conn   *net.UDPConn
	logger *slog.Logger
	render *Renderer

	silenceTimeout time.Duration
	replyTimeout   time.Duration
}

// Option configures a Client
type Option func(c *Client) error

// WithSilenceTimeout overwrites how long the client waits for a #ping before
// giving up on the relay.
func WithSilenceTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("client.WithSilenceTimeout: invalid timeout (%v)", timeout)
		}
		c.silenceTimeout = timeout
		return nil
	}
}

// WithReplyTimeout overwrites how long the client waits for the join and
// logout acknowledgments.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("client.WithReplyTimeout: invalid timeout (%v)", timeout)
		}
		c.replyTimeout = timeout
		return nil
	}
}

// Dial opens a UDP socket towards the relay
func Dial(target Target, out io.Writer, logger *slog.Logger, options ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		target:         target,
		logger:         logger.With("component", "client"),
		render:         NewRenderer(out),
		silenceTimeout: 6 * time.Second,
		replyTimeout:   2 * time.Second,
	}

	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(c); err != nil {
			return nil, err
		}
	}

	addr, err := net.ResolveUDPAddr("udp", target.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	c.conn = conn

	return c, nil
}

// Close releases the socket
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run joins the relay and exchanges messages until the user quits, input ends,
// ctx is cancelled or the relay ends the session. Every exit path sends #logout.
func (c *Client) Run(ctx context.Context, input io.Reader) error {
	if err := c.join(); err != nil {
		return err
	}
	c.logger.Debug("Joined relay", slog.String("address", c.target.Address()), slog.String("name", c.target.Name))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	incoming := make(chan string)
	readErr := make(chan error, 1)
	received := make(chan struct{})
	go func() {
		defer close(received)
		c.receive(runCtx, incoming, readErr)
	}()

	lines := make(chan string)
	go readLines(runCtx, input, lines)

	err := c.loop(runCtx, incoming, readErr, lines)

	// the receiver must be gone before leave reads the acknowledgment
	stop()
	c.conn.SetReadDeadline(time.Now())
	<-received

	c.leave()
	return err
}

func (c *Client) loop(ctx context.Context, incoming <-chan string, readErr <-chan error, lines <-chan string) error {
	silence := time.NewTimer(c.silenceTimeout)
	defer silence.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-silence.C:
			c.render.Error("No news from the relay for %v, leaving", c.silenceTimeout)
			return ErrServerSilent

		case err := <-readErr:
			return fmt.Errorf("client: receive: %w", err)

		case msg := <-incoming:
			switch protocol.Classify([]byte(msg)) {
			case protocol.KindPing:
				silence.Reset(c.silenceTimeout)
				c.send(protocol.TokenPong)
			case protocol.KindLogout:
				return ErrLoggedOut
			case protocol.KindClosed:
				return ErrServerClosed
			default:
				c.render.Message(msg)
			}

		case line, ok := <-lines:
			if !ok || IsQuit(line) {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			c.send(line)
		}
	}
}

// join sends #login and the display name and waits for the acknowledgment
func (c *Client) join() error {
	if err := c.send(protocol.TokenLogin); err != nil {
		return err
	}
	if err := c.send(c.target.Name); err != nil {
		return err
	}

	reply, err := c.await()
	if err != nil {
		return err
	}
	if protocol.Classify([]byte(reply)) == protocol.KindLogout {
		return ErrRejected
	}
	c.render.Message(reply)
	return nil
}

// leave sends #logout and waits briefly for the acknowledgment
func (c *Client) leave() {
	if err := c.send(protocol.TokenLogout); err != nil {
		return
	}
	if _, err := c.await(); err != nil {
		c.logger.Debug("No logout acknowledgment", slog.String("error", err.Error()))
	}
}

// await reads one datagram within the reply timeout
func (c *Client) await() (string, error) {
	buf := make([]byte, protocol.MaxDatagram)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.replyTimeout)); err != nil {
		return "", fmt.Errorf("client: set read deadline: %w", err)
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrNoReply
		}
		return "", fmt.Errorf("client: receive: %w", err)
	}
	return string(buf[:n]), nil
}

// receive forwards datagrams until ctx is done or a read fails
func (c *Client) receive(ctx context.Context, incoming chan<- string, readErr chan<- error) {
	buf := make([]byte, protocol.MaxDatagram)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			readErr <- err
			return
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			readErr <- err
			return
		}

		select {
		case incoming <- string(buf[:n]):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) send(msg string) error {
	if _, err := c.conn.Write([]byte(protocol.Truncate(msg))); err != nil {
		c.render.Error("Failed to send: %v", err)
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// readLines forwards input lines and closes lines at EOF
func readLines(ctx context.Context, input io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
