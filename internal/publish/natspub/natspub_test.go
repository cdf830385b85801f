package natspub

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/publish"
)

var _ publish.Publisher = (*Publisher)(nil)

func TestSubject(t *testing.T) {
	if got := Subject("gps.fix", "Unknown_10.0.0.5_4000"); got != "gps.fix.Unknown_10_0_0_5_4000" {
		t.Errorf("Subject = %q", got)
	}
}

func TestNATSIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	c, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	}()
	url, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(&Config{URL: url})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	got := make(chan fix.Fix, 1)
	sub, err := p.Subscribe(func(f fix.Fix) { got <- f })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := p.Publish(ctx, fix.Fix{DeviceID: "DEV1", Latitude: 1.5, Valid: true}); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-got:
		if f.DeviceID != "DEV1" || f.Latitude != 1.5 {
			t.Errorf("received %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
