package operations_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orchestra/internal/db"
	"orchestra/internal/events"
	"orchestra/internal/operations"
	"orchestra/internal/port"
	"orchestra/internal/repository"
	"orchestra/internal/testutil"
)

// boundPorts is a port prober whose answers the test controls
type boundPorts struct {
	mu    sync.Mutex
	ports map[int]bool
}

func (b *boundPorts) IsPortAvailable(p int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.ports[p]
}

func (b *boundPorts) bind(p int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ports == nil {
		b.ports = make(map[int]bool)
	}
	b.ports[p] = true
}

type worktreeFixture struct {
	ops   *operations.WorktreeOperations
	store *repository.MemoryStore[*db.Worktree]
	vcs   *testutil.MockVCS
	ports *port.Allocator
	bound *boundPorts
	bus   *events.Bus
	dir   string
}

func newWorktreeFixture(t *testing.T, min, max int, tweak ...func(*operations.WorktreeConfig)) *worktreeFixture {
	t.Helper()

	bound := &boundPorts{}
	alloc, err := port.NewAllocator(min, max, bound)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := operations.WorktreeConfig{
		Directory:       dir,
		CreatingGrace:   time.Minute,
		AllowedCommands: []string{"echo", "false", "printenv", "sleep", "pwd"},
		CommandTimeout:  5 * time.Second,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	store := repository.NewMemoryStore[*db.Worktree]("worktree", db.WorktreeFields)
	vcs := testutil.NewMockVCS("main")
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)

	return &worktreeFixture{
		ops:   operations.NewWorktreeOperations(store, vcs, alloc, bus, cfg),
		store: store,
		vcs:   vcs,
		ports: alloc,
		bound: bound,
		bus:   bus,
		dir:   dir,
	}
}

func (f *worktreeFixture) create(t *testing.T, branch string) *db.Worktree {
	t.Helper()
	w, err := f.ops.CreateWorktree(context.Background(), operations.CreateWorktreeRequest{BranchName: branch})
	require.NoError(t, err)
	return w
}

// recordingListener captures lifecycle notifications in order
type recordingListener struct {
	mu   sync.Mutex
	seen []operations.LifecycleNotification
}

func (r *recordingListener) OnWorktreeEvent(ctx context.Context, n operations.LifecycleNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recordingListener) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.seen))
	for _, n := range r.seen {
		names = append(names, n.Event)
	}
	return names
}

// drain returns the events buffered on ch without blocking
func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func statusPtr(s db.WorktreeStatus) *db.WorktreeStatus { return &s }
func stringPtr(s string) *string                       { return &s }

func updateStatus(s db.WorktreeStatus) operations.WorktreeUpdate {
	return operations.WorktreeUpdate{Status: statusPtr(s)}
}
