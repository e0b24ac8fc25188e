package lists

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newSteppingClock(start time.Time, step time.Duration) *steppingClock {
	return &steppingClock{current: start.UTC(), step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

type testHarness struct {
	service    *Service
	store      *SQLStore
	db         *gorm.DB
	dispatcher *realtime.Dispatcher
	clock      *steppingClock
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db := openTestDatabase(t)
	clock := newSteppingClock(time.Unix(1700000000, 0), time.Second)
	store := NewSQLStore(db, clock.Now)
	dispatcher := realtime.NewDispatcher()
	service, err := NewService(ServiceConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Clock:      clock.Now,
		Retry:      RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to construct lists service: %v", err)
	}
	return &testHarness{service: service, store: store, db: db, dispatcher: dispatcher, clock: clock}
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lists.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCreateDefaultLists(t *testing.T, service *Service, userID UserID) {
	t.Helper()
	if err := service.CreateDefaultLists(context.Background(), userID); err != nil {
		t.Fatalf("failed to create default lists: %v", err)
	}
}

func sampleGame(id int64, name string) TrackedGame {
	return TrackedGame{
		ID:              GameID(id),
		Name:            name,
		BackgroundImage: "https://media.example.com/games/" + name + ".jpg",
		Released:        "2017-03-03",
	}
}

func listGameIDs(t *testing.T, snapshot ListsSnapshot, name ListName) []GameID {
	t.Helper()
	view, ok := snapshot.List(name)
	if !ok {
		t.Fatalf("expected list %s in snapshot", name)
	}
	ids := make([]GameID, 0, len(view.Games))
	for _, game := range view.Games {
		ids = append(ids, game.ID)
	}
	return ids
}

func assertServiceErrorKind(t *testing.T, err error, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected error of kind %v, got %v", kind, err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %T", err)
	}
	if serviceErr.Message() == "" {
		t.Fatalf("expected user facing message on %v", err)
	}
}

// faultyStore wraps a store and fails selected writes after they are issued, so the
// surrounding transaction must roll back.
type faultyStore struct {
	inner       Store
	mu          sync.Mutex
	failSaveOn  map[ListName]error
	transient   int
	transientCt int
}

func (store *faultyStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	store.mu.Lock()
	if store.transient > store.transientCt {
		store.transientCt++
		store.mu.Unlock()
		return errors.New("transient store failure")
	}
	store.mu.Unlock()
	return store.inner.RunInTransaction(ctx, func(ctx context.Context, tx Transaction) error {
		return fn(ctx, &faultyTransaction{Transaction: tx, store: store})
	})
}

func (store *faultyStore) attempts() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.transientCt
}

type faultyTransaction struct {
	Transaction
	store *faultyStore
}

func (tx *faultyTransaction) SaveList(document ListDocument) error {
	if err := tx.Transaction.SaveList(document); err != nil {
		return err
	}
	if failure, ok := tx.store.failSaveOn[document.Name]; ok {
		return failure
	}
	return nil
}
