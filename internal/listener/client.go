package listener

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

const dialTimeout = 5 * time.Second

// Send pushes cfg to the listener at addr with the default retry policy and
// returns the generation the listener installed.
func Send(ctx context.Context, addr string, cfg *config.Config) (uint64, error) {
	return SendWithRetry(ctx, addr, cfg, scerrors.DefaultRetryConfig())
}

// SendWithRetry is Send with an explicit retry policy. Only connection
// failures are retried; a rejection by the listener is returned at once.
func SendWithRetry(ctx context.Context, addr string, cfg *config.Config, rc scerrors.RetryConfig) (uint64, error) {
	if cfg == nil {
		return 0, scerrors.MissingArgument("cfg")
	}
	data, err := config.Serialize(cfg)
	if err != nil {
		return 0, err
	}

	var gen uint64
	err = scerrors.Retry(ctx, rc, func() error {
		var err error
		gen, err = send(ctx, addr, data)
		return err
	})
	return gen, err
}

func send(ctx context.Context, addr string, payload []byte) (uint64, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, scerrors.NetworkError("failed to connect to "+addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(payload); err != nil {
		return 0, scerrors.NetworkError("failed to send payload", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return 0, scerrors.NetworkError("failed to finish payload", err)
		}
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, scerrors.NetworkError("no reply from "+addr, err)
	}
	return parseReply(strings.TrimSpace(line))
}

func parseReply(line string) (uint64, error) {
	status, rest, _ := strings.Cut(line, " ")
	switch status {
	case "ok":
		gen, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed reply %q", line)
		}
		return gen, nil
	case "error":
		code, msg, _ := strings.Cut(rest, " ")
		return 0, scerrors.New(code, msg, nil)
	default:
		return 0, fmt.Errorf("malformed reply %q", line)
	}
}
