package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/webtalk-server/internal/store"
	"github.com/vovakirdan/webtalk-server/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain collects whatever is queued on ch after a short settle period.
func drain(ch <-chan *Event) []*Event {
	time.Sleep(50 * time.Millisecond)
	var out []*Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestRegistry(t *testing.T, st store.Store, clock *fakeClock) *Registry {
	t.Helper()

	cfg := RegistryConfig{UploadDir: t.TempDir()}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return NewRegistry(st, cfg, nil)
}

func mustCreateRoom(t *testing.T, reg *Registry, name, creator, password string) *Room {
	t.Helper()

	room, err := reg.CreateRoom(context.Background(), name, creator, password)
	if err != nil {
		t.Fatalf("create room %q: %v", name, err)
	}
	return room
}

var errDiskFull = errors.New("disk full")

// flakyStore fails the selected write operations.
type flakyStore struct {
	store.Store
	failCreateRoom bool
	failSave       bool
	failMark       bool
	failDeleteRoom bool
}

func (f *flakyStore) CreateRoom(ctx context.Context, room *store.Room) error {
	if f.failCreateRoom {
		return errDiskFull
	}
	return f.Store.CreateRoom(ctx, room)
}

func (f *flakyStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if f.failSave {
		return errDiskFull
	}
	return f.Store.SaveMessage(ctx, msg)
}

func (f *flakyStore) MarkMessageDeleted(ctx context.Context, id, kind, placeholder string) error {
	if f.failMark {
		return errDiskFull
	}
	return f.Store.MarkMessageDeleted(ctx, id, kind, placeholder)
}

func (f *flakyStore) DeleteRoom(ctx context.Context, id string) error {
	if f.failDeleteRoom {
		return errDiskFull
	}
	return f.Store.DeleteRoom(ctx, id)
}
