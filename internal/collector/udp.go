package collector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/fragwatch/internal/domain"
)

const (
	q3Header       = "\xff\xff\xff\xff"
	getStatus      = q3Header + "getstatus\n"
	statusResponse = q3Header + "statusResponse\n"
	maxResponse    = 65535
)

// LiveStatusProvider queries the game server for its current roster.
// Implementations must resolve within the context deadline.
type LiveStatusProvider interface {
	QueryStatus(ctx context.Context) (*domain.LiveStatus, error)
}

// Q3Client queries a Quake 3 server's status endpoint over UDP.
type Q3Client struct {
	address string
}

// NewQ3Client creates a UDP status client for the given address.
func NewQ3Client(address string) *Q3Client {
	return &Q3Client{address: address}
}

// QueryStatus sends a getstatus request and parses the response. The
// context deadline bounds the whole exchange; an expired deadline or a
// garbled response yields an error, never a hang.
func (c *Q3Client) QueryStatus(ctx context.Context) (*domain.LiveStatus, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", c.address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.address, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	if _, err := conn.Write([]byte(getStatus)); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	buf := make([]byte, maxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return parseStatusResponse(buf[:n])
}

// parseStatusResponse parses the raw status packet. Format: the marker
// line, one backslash-separated server vars line, then zero or more
// `<score> <ping> "<name>"` player lines. Malformed player lines are
// skipped, not fatal.
func parseStatusResponse(data []byte) (*domain.LiveStatus, error) {
	response := string(data)

	if !strings.HasPrefix(response, statusResponse) {
		return nil, fmt.Errorf("invalid response prefix")
	}
	response = strings.TrimPrefix(response, statusResponse)

	lines := strings.Split(response, "\n")
	if len(lines) < 1 {
		return nil, fmt.Errorf("no data in response")
	}

	vars := parseInfoString(lines[0])
	status := &domain.LiveStatus{
		Hostname:  vars["sv_hostname"],
		MapName:   vars["mapname"],
		GameType:  domain.GameTypeFromString(vars["g_gametype"]),
		Vars:      vars,
		Retrieved: time.Now().UTC(),
	}

	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		player, err := parsePlayerLine(line)
		if err != nil {
			continue
		}
		status.Players = append(status.Players, player)
	}

	return status, nil
}

// parsePlayerLine parses one roster line: <score> <ping> "<name>"
func parsePlayerLine(line string) (domain.LivePlayer, error) {
	var player domain.LivePlayer

	quoteStart := strings.Index(line, "\"")
	quoteEnd := strings.LastIndex(line, "\"")
	if quoteStart == -1 || quoteEnd <= quoteStart {
		return player, fmt.Errorf("no quoted name found")
	}

	player.Name = line[quoteStart+1 : quoteEnd]
	player.CleanName = domain.StripColors(player.Name)

	parts := strings.Fields(line[:quoteStart])
	if len(parts) < 2 {
		return player, fmt.Errorf("missing score/ping fields")
	}
	player.Score, _ = strconv.Atoi(parts[0])
	player.Ping, _ = strconv.Atoi(parts[1])

	return player, nil
}
