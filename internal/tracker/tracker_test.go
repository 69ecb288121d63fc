package tracker

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loginrelay/internal/device"
	"loginrelay/internal/eventstore"
	"loginrelay/internal/metrics"
	"loginrelay/internal/model"
	"loginrelay/internal/storage"
	"loginrelay/internal/transport"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

type failingBackend struct{ storage.Backend }

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (failingBackend) Set(context.Context, string, []byte) error { return errors.New("disk gone") }

func newTracker(t *testing.T, backend storage.Backend) (*Tracker, *eventstore.Store, *transport.Relay) {
	t.Helper()
	store := eventstore.New(backend, eventstore.Options{Namespace: "student"}, nil)
	relay := &transport.Relay{Backend: backend, Namespace: "session"}
	return &Tracker{
		Store:    store,
		Capturer: device.NewCapturer("UTC", "en-US"),
		Dispatcher: &transport.Dispatcher{
			Origin:  "http://localhost:4200",
			Handoff: &transport.Handoff{ConsumerURL: "http://localhost:4201/session-handoff", IncludeActivity: true},
			Relay:   relay,
			Metrics: metrics.NewStore(0),
		},
		Now: func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}, store, relay
}

func TestRecordLoginStudent(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := newTracker(t, storage.NewMemory(0))
	res, err := tr.RecordLogin(ctx, Login{
		UserID:    5,
		Email:     "sam@uni.edu",
		Role:      "STUDENT",
		FirstName: "Sam",
		Hints:     device.ClientHints{UserAgent: iphoneUA, ScreenWidth: 390, ScreenHeight: 844},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sam", res.Event.UserName)
	assert.Equal(t, model.DeviceMobile, res.Event.DeviceInfo.DeviceType)
	assert.Equal(t, "390x844", res.Event.DeviceInfo.ScreenResolution)
	assert.Empty(t, res.HandoffURL)
	assert.NotEmpty(t, res.SessionID)
	assert.True(t, res.Relayed)

	stored := store.ReadAll(ctx)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Event, stored[0])
}

func TestRecordLoginAdminBuildsHandoff(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory(0)
	tr, _, relay := newTracker(t, backend)
	res, err := tr.RecordLogin(ctx, Login{UserID: 7, Email: "a@b.com", Role: model.RoleAdmin, Token: "jwt", SessionID: "sid-7"})
	require.NoError(t, err)
	assert.Equal(t, "sid-7", res.SessionID)

	u, err := url.Parse(res.HandoffURL)
	require.NoError(t, err)
	assert.Equal(t, "jwt", u.Query().Get(transport.ParamToken))

	sink := eventstore.New(backend, eventstore.Options{Namespace: "admin"}, nil)
	consumer := &transport.Handoff{Sink: sink}
	_, err = consumer.Consume(ctx, u.Query(), device.ClientHints{})
	require.NoError(t, err)
	relay.Sink = sink
	relay.Consume(ctx, "sid-7", device.ClientHints{})

	all := sink.ReadAll(ctx)
	require.Len(t, all, 3)
	for _, ev := range all {
		assert.Equal(t, res.Event.Key(), ev.Key())
	}
}

func TestRecordLoginRejectsInvalidInput(t *testing.T) {
	tr, store, _ := newTracker(t, storage.NewMemory(0))
	_, err := tr.RecordLogin(context.Background(), Login{Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrInvalidLogin)
	_, err = tr.RecordLogin(context.Background(), Login{UserID: 1, Email: "  "})
	assert.ErrorIs(t, err, ErrInvalidLogin)
	assert.Empty(t, store.ReadAll(context.Background()))
}

func TestRecordLoginSurvivesStorageFailure(t *testing.T) {
	tr, _, _ := newTracker(t, failingBackend{Backend: storage.NewMemory(0)})
	res, err := tr.RecordLogin(context.Background(), Login{UserID: 1, Email: "a@b.c", Role: model.RoleAdmin, Token: "t"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.HandoffURL)
	assert.False(t, res.Relayed)
}
