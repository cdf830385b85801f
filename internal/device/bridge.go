package device

import (
	"bufio"
	"context"
	"io"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

type BridgeStats struct {
	Lines     uint64
	Forwarded uint64
	Skipped   uint64
}

// Sender delivers one message, e.g. *Client.
type Sender interface {
	Send(msg string) error
}

// Bridge reads NMEA sentences from src and forwards the RMC ones to dst.
// Sentences that fail their checksum, come from another talker than GP or
// are of another type are skipped.
// It returns when src ends, dst fails or ctx is cancelled.
func Bridge(ctx context.Context, src io.Reader, dst Sender) (BridgeStats, error) {
	var st BridgeStats
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		st.Lines++
		s, err := nmea.Parse(line)
		if err != nil || s.TalkerID() != "GP" || s.DataType() != nmea.TypeRMC {
			st.Skipped++
			continue
		}
		if err := dst.Send(line); err != nil {
			return st, err
		}
		st.Forwarded++
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return st, err
	}
	return st, nil
}
