// Package cartsync keeps a local cart and the remote cart API loosely
// consistent for guests and signed-in users.
//
// Reads are local-first for guests and cache-then-remote for signed-in
// users. Adds go to the remote cart when possible and fall back to the local
// cart otherwise. Quantity changes, removals and clears apply locally at
// once and reach the remote cart through a TaskQueue.
package cartsync

import (
	"context"
	"slices"
	"sync"
	"time"

	"scentcart/internal/cache"
	"scentcart/internal/cart"
	"scentcart/internal/cartclient"
	"scentcart/internal/storage"

	"github.com/google/uuid"
)

const DefaultCacheTTL = 30 * time.Second

// Remote is the cart API as the sync layer uses it.
type Remote interface {
	GetCart(ctx context.Context, s cartclient.Session) ([]cart.Item, error)
	AddItem(ctx context.Context, s cartclient.Session, params cart.AddItemParams) (*cart.Item, error)
	UpdateItem(ctx context.Context, s cartclient.Session, itemID string, params cart.UpdateItemParams) (*cart.Item, error)
	RemoveItem(ctx context.Context, s cartclient.Session, itemID string) error
	ClearCart(ctx context.Context, s cartclient.Session) error
	Count(ctx context.Context, s cartclient.Session) (int, error)
	Merge(ctx context.Context, s cartclient.Session, lines []cart.MergeLine) (*cart.MergeResult, error)
}

type Config struct {
	Storage  storage.Storage
	Remote   Remote
	CacheTTL time.Duration
	// CacheCapacity bounds each cache; zero keeps the cache default.
	CacheCapacity int
	Clock         func() time.Time
	Notifier      *Notifier
	Tasks         *TaskQueue
	NewID         func() string
}

type Syncer struct {
	store    storage.Storage
	remote   Remote
	carts    *cache.Cache[[]cart.Item]
	counts   *cache.Cache[int]
	notifier *Notifier
	tasks    *TaskQueue
	ownTasks bool
	now      func() time.Time
	newID    func() string

	// mu serialises read-modify-write cycles on the local cart.
	mu sync.Mutex
}

func New(cfg Config) (*Syncer, error) {
	if cfg.Storage == nil {
		return nil, ErrStorageRequired
	}
	if cfg.Remote == nil {
		return nil, ErrRemoteRequired
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}

	opts := []cache.Option{cache.WithClock(cfg.Clock)}
	if cfg.CacheCapacity > 0 {
		opts = append(opts, cache.WithCapacity(cfg.CacheCapacity))
	}
	carts, err := cache.New[[]cart.Item](cfg.CacheTTL, opts...)
	if err != nil {
		return nil, err
	}
	counts, err := cache.New[int](cfg.CacheTTL, opts...)
	if err != nil {
		return nil, err
	}

	s := &Syncer{
		store:    cfg.Storage,
		remote:   cfg.Remote,
		carts:    carts,
		counts:   counts,
		notifier: cfg.Notifier,
		tasks:    cfg.Tasks,
		now:      cfg.Clock,
		newID:    cfg.NewID,
	}
	if s.tasks == nil {
		s.tasks = NewTaskQueue(DefaultQueueSize, DefaultTaskTimeout)
		s.ownTasks = true
	}
	s.tasks.OnFailure(func(t *Task, err error) {
		s.notifier.Publish(Event{Type: EventSyncFailed, Op: t.Name, Err: err, At: s.now()})
	})
	return s, nil
}

func (s *Syncer) Notifier() *Notifier {
	return s.notifier
}

// Run sweeps both caches every interval until ctx is done. A non-positive
// interval returns at once.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.counts.Run(ctx, interval)
	}()
	s.carts.Run(ctx, interval)
	wg.Wait()
}

// Close waits for queued background writes when the queue is owned by s.
func (s *Syncer) Close() {
	if s.ownTasks {
		s.tasks.Close()
	}
}

func cartKey(userID string) string  { return "cart:" + userID }
func countKey(userID string) string { return "count:" + userID }

func (s *Syncer) invalidate(userID string) {
	s.carts.Delete(cartKey(userID))
	s.counts.Delete(countKey(userID))
}

func (s *Syncer) emitUpdated(op string) {
	s.notifier.Publish(Event{Type: EventCartUpdated, Op: op, At: s.now()})
}

func (s *Syncer) notice(level NoticeLevel, op, msg string, err error) {
	s.notifier.Publish(Event{Type: EventNotice, Level: level, Op: op, Message: msg, Err: err, At: s.now()})
}

// pending returns the lines the server has not seen yet.
func pending(items []cart.Item) []cart.Item {
	out := make([]cart.Item, 0)
	for _, it := range items {
		if !it.Persisted {
			out = append(out, it)
		}
	}
	return out
}

// storeServerCart caches the server lines and rewrites the local mirror as
// those lines plus whatever local lines are still pending. Returns the
// combined view.
func (s *Syncer) storeServerCart(ctx context.Context, userID string, server []cart.Item) ([]cart.Item, error) {
	server = slices.Clone(server)
	for i := range server {
		server[i].Persisted = true
	}
	s.carts.Set(cartKey(userID), slices.Clone(server))

	s.mu.Lock()
	defer s.mu.Unlock()

	local, err := storage.LoadCart(ctx, s.store)
	if err != nil {
		return nil, err
	}
	view := append(server, pending(local)...)
	if err := storage.SaveCart(ctx, s.store, view); err != nil {
		return nil, err
	}
	return view, nil
}
