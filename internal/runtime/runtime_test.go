package runtime

import (
	"context"
	"testing"
	"time"
)

func TestContainerAndNetworkNaming(t *testing.T) {
	if got := containerName(42); got != "pws-42" {
		t.Fatalf("containerName() = %q, want %q", got, "pws-42")
	}
	if got := networkName(42); got != "pwsnet-42" {
		t.Fatalf("networkName() = %q, want %q", got, "pwsnet-42")
	}
	if got := stagingName(containerName(42)); got != "pws-42-next" {
		t.Fatalf("stagingName() = %q, want %q", got, "pws-42-next")
	}
	if got := retiringName(containerName(42)); got != "pws-42-retiring" {
		t.Fatalf("retiringName() = %q, want %q", got, "pws-42-retiring")
	}
}

func TestLogsIndicateListening(t *testing.T) {
	cases := []struct {
		logs string
		port int
		want bool
	}{
		{"booting...\nlistening on 8080\n", 8080, true},
		{"Server listening on :3000", 3000, true},
		{"app listening on port 5000 now", 5000, true},
		{"still starting up", 8080, false},
		{"listening on 8081", 8080, false},
	}
	for _, c := range cases {
		if got := logsIndicateListening(c.logs, c.port); got != c.want {
			t.Fatalf("logsIndicateListening(%q, %d) = %v, want %v", c.logs, c.port, got, c.want)
		}
	}
}

func TestSleepCtxRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Second); err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
}
