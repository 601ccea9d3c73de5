//go:build stress

// Run with: go test -tags=stress -run Concurrent ./internal/session/
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acolita/replsh/internal/config"
)

// TestConcurrentLocalSessions runs many /bin/cat sessions at once, each
// sending several commands.
func TestConcurrentLocalSessions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeLocal
	cfg.Local.Program = "/bin/cat"
	cfg.Session.ReadyMarker = ""
	cfg.Session.PollInterval = 10 * time.Millisecond
	cfg.Security.MaxSessions = 100
	mgr := NewManager(cfg)
	defer mgr.CloseAll()

	const numSessions = 40
	const commands = 5
	var wg sync.WaitGroup
	var successCount, failCount int64

	start := time.Now()
	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			sess, err := mgr.Create(ctx, CreateOptions{})
			if err != nil {
				t.Logf("session %d: create failed: %v", id, err)
				atomic.AddInt64(&failCount, 1)
				return
			}
			defer mgr.Close(sess.ID)

			for n := 0; n < commands; n++ {
				want := fmt.Sprintf("s%d-c%d", id, n)
				out, err := sess.Run(ctx, want+">")
				if err != nil || out.Status != StatusCompleted || out.Output != want {
					t.Logf("session %d: command %d: %+v %v", id, n, out, err)
					atomic.AddInt64(&failCount, 1)
					return
				}
			}
			atomic.AddInt64(&successCount, 1)
		}(i)
	}
	wg.Wait()

	t.Logf("%d sessions x %d commands in %s (ok=%d failed=%d)",
		numSessions, commands, time.Since(start), successCount, failCount)
	if failCount > 0 {
		t.Errorf("%d sessions failed", failCount)
	}
	if mgr.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d after closing", mgr.SessionCount())
	}
}
