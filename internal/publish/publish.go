// Package publish forwards stored fixes to message brokers.
package publish

import (
	"context"
	"strings"

	"nuha.dev/tcpgps/internal/fix"
)

type Publisher interface {
	Publish(ctx context.Context, f fix.Fix) error
	Name() string
	Close()
}

// SubjectToken turns a device id into a single broker subject or topic
// level. Separators and wildcards of NATS and MQTT become '_'.
func SubjectToken(deviceID string) string {
	if deviceID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '+', '#', ' ', '\t':
			return '_'
		}
		return r
	}, deviceID)
}
