package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MeltedButter77/robotnic/store"
)

func TestStartReconcileJobRunsImmediately(t *testing.T) {
	e := newEnv(t, "{user}")
	id := e.join(t, "u1")
	e.fake.RemoveChannel(id)

	StartReconcileJob(context.Background(), e.ctl, 0)

	if _, err := e.store.GetTempChannel(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record should have been reconciled away, err = %v", err)
	}
}

func TestStartRefreshJobStopsWithContext(t *testing.T) {
	e := newEnv(t, "{user}")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartRefreshJob(ctx, e.ctl, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh job did not stop")
	}
}
