package eventstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loginrelay/internal/dedupe"
	"loginrelay/internal/model"
	"loginrelay/internal/storage"
)

func newStore(b storage.Backend) *Store {
	return New(b, Options{
		Namespace:  "admin",
		LegacyKeys: []string{"admin_login_events", "unihelp_admin_login_events"},
	}, nil)
}

func event(user, ts int64) model.LoginEvent {
	return model.LoginEvent{UserID: user, Timestamp: ts, UserEmail: "u@uni.edu", UserName: "u"}
}

func TestDuplicateAppendCollapsesOnRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(storage.NewMemory(0))
	s.Append(ctx, event(1, 1000))
	s.Append(ctx, event(1, 2000))
	s.Append(ctx, event(1, 1000))

	raw := s.ReadAll(ctx)
	require.Len(t, raw, 3)
	got := dedupe.Events(raw)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, int64(2000), got[1].Timestamp)
}

func TestCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := newStore(storage.NewMemory(0))
	for i := int64(1); i <= 101; i++ {
		s.Append(ctx, event(i, i*1000))
	}
	got := s.ReadAll(ctx)
	require.Len(t, got, 100)
	assert.Equal(t, int64(2), got[0].UserID)
	assert.Equal(t, int64(101), got[99].UserID)
	for _, ev := range got {
		assert.NotEqual(t, int64(1), ev.UserID)
	}
}

func TestCapacityBoundHoldsForManyAppends(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{Namespace: "n", Capacity: 5}, nil)
	for i := int64(1); i <= 23; i++ {
		s.Append(ctx, event(i, i))
		assert.LessOrEqual(t, len(s.ReadAll(ctx)), 5)
	}
	got := s.ReadAll(ctx)
	assert.Equal(t, int64(19), got[0].UserID)
	assert.Equal(t, int64(23), got[4].UserID)
}

func TestCorruptDataReadsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	require.NoError(t, mem.Set(ctx, storage.Key("admin", "unihelp_login_events"), []byte("{not json")))
	s := newStore(mem)
	assert.Empty(t, s.ReadAll(ctx))

	s.Append(ctx, event(4, 4))
	assert.Len(t, s.ReadAll(ctx), 1)
}

func TestAppendSwallowsQuotaErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(storage.NewMemory(10))
	assert.NotPanics(t, func() { s.Append(ctx, event(1, 1)) })
	assert.Empty(t, s.ReadAll(ctx))
}

type failingBackend struct{ storage.Backend }

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend down")
}

func (failingBackend) Set(context.Context, string, []byte) error {
	return errors.New("backend down")
}

func TestBackendFailureIsNotFatal(t *testing.T) {
	s := newStore(failingBackend{storage.NewMemory(0)})
	s.Append(context.Background(), event(1, 1))
	assert.Empty(t, s.ReadAll(context.Background()))
}

type flakyBackend struct {
	storage.Backend
	failGets int
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGets > 0 {
		f.failGets--
		return nil, errors.New("read timeout")
	}
	return f.Backend.Get(ctx, key)
}

func TestTransientReadFailureKeepsStoredLog(t *testing.T) {
	ctx := context.Background()
	b := &flakyBackend{Backend: storage.NewMemory(0)}
	s := newStore(b)
	for i := int64(1); i <= 50; i++ {
		s.Append(ctx, event(i, i*1000))
	}
	require.Len(t, s.ReadAll(ctx), 50)

	b.failGets = 1
	s.Append(ctx, event(51, 51000))
	got := s.ReadAll(ctx)
	require.Len(t, got, 50)
	assert.Equal(t, int64(50), got[49].UserID)

	s.Append(ctx, event(52, 52000))
	got = s.ReadAll(ctx)
	require.Len(t, got, 51)
	assert.Equal(t, int64(52), got[50].UserID)
}

type keyFailBackend struct {
	storage.Backend
	failKey string
}

func (k keyFailBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if key == k.failKey {
		return nil, errors.New("read timeout")
	}
	return k.Backend.Get(ctx, key)
}

func TestMigrateSkipsWhenCurrentLogUnreadable(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	newStore(mem).Append(ctx, event(1, 1000))
	legacyKey := storage.Key("admin", "admin_login_events")
	require.NoError(t, mem.Set(ctx, legacyKey, []byte(`[{"userId":2,"timestamp":2000}]`)))

	s := newStore(keyFailBackend{Backend: mem, failKey: storage.Key("admin", "unihelp_login_events")})
	assert.Equal(t, 0, s.Migrate(ctx))

	_, err := mem.Get(ctx, legacyKey)
	assert.NoError(t, err)
	assert.Len(t, newStore(mem).ReadAll(ctx), 1)
}

func TestClearRemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	require.NoError(t, mem.Set(ctx, storage.Key("admin", "admin_login_events"), []byte("[]")))
	s := newStore(mem)
	s.Append(ctx, event(1, 1))
	s.Clear(ctx)
	assert.Empty(t, s.ReadAll(ctx))
	assert.Equal(t, 0, mem.Len())
}

func TestMigrateFoldsLegacyKeys(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	legacyA, _ := model.EncodeEvents([]model.LoginEvent{event(1, 1000), event(2, 2000)})
	require.NoError(t, mem.Set(ctx, storage.Key("admin", "admin_login_events"), legacyA))
	single := []byte(`{"userId":3,"userEmail":"c@uni.edu","timestamp":3000}`)
	require.NoError(t, mem.Set(ctx, storage.Key("admin", "unihelp_admin_login_events"), single))

	s := newStore(mem)
	s.Append(ctx, event(1, 1000))

	moved := s.Migrate(ctx)
	assert.Equal(t, 3, moved)

	got := s.ReadAll(ctx)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.Equal(t, int64(2), got[1].UserID)
	assert.Equal(t, int64(3), got[2].UserID)

	_, err := mem.Get(ctx, storage.Key("admin", "admin_login_events"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 0, s.Migrate(ctx))
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	admin := New(mem, Options{Namespace: "admin"}, nil)
	student := New(mem, Options{Namespace: "student"}, nil)
	student.Append(ctx, event(9, 9))
	assert.Empty(t, admin.ReadAll(ctx))
	assert.Len(t, student.ReadAll(ctx), 1)
}
