package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"support-app/session-service/internal/events"
	"support-app/session-service/internal/models"
	"support-app/session-service/internal/repository/memory"
	"support-app/session-service/internal/utils"
)

// stepClock advances one millisecond per reading so every stamp is distinct.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (b *recordingBus) Publish(_ context.Context, env events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, env)
	return nil
}

func (b *recordingBus) ofType(t string) []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Envelope
	for _, e := range b.events {
		if e.Meta.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store    *memory.Store
	bus      *recordingBus
	clock    *stepClock
	perms    *PermissionResolver
	bans     *BanService
	rooms    *RoomService
	thread   *ThreadService
	requests *RequestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := utils.NopLogger()
	store := memory.NewStore()
	bus := &recordingBus{}
	clock := newStepClock()

	bans := NewBanService(store.Bans(), log)
	rooms := NewRoomService(store.Rooms(), log)
	thread := NewThreadService(store, store.Requests(), store.Messages(), bus, log)
	requests := NewRequestService(store, store.Requests(), store.UserState(), bans, rooms, thread, bus, log)
	bans.now, rooms.now, thread.now, requests.now = clock.Now, clock.Now, clock.Now, clock.Now

	return &testEnv{
		store:    store,
		bus:      bus,
		clock:    clock,
		perms:    NewPermissionResolver(NewAllowList([]string{"root"}, nil), store.Admins(), nil, log),
		bans:     bans,
		rooms:    rooms,
		thread:   thread,
		requests: requests,
	}
}

func guest(uid string) models.Identity {
	return models.Identity{UID: uid, Anonymous: true}
}

func client(uid, email string) models.Identity {
	return models.Identity{UID: uid, Email: email}
}

func mustCreate(t *testing.T, e *testEnv, id models.Identity) string {
	t.Helper()
	res, err := e.requests.Create(context.Background(), id, id.RequesterType(), models.Profile{Phone: "+100"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Reused {
		t.Fatalf("create for %s unexpectedly reused %s", id.UID, res.RequestID)
	}
	return res.RequestID
}

func mustGet(t *testing.T, e *testEnv, id string) *models.Request {
	t.Helper()
	req, err := e.requests.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return req
}

func partyMessages(msgs []models.OfflineMessage) []models.OfflineMessage {
	var out []models.OfflineMessage
	for _, m := range msgs {
		if !m.IsSystem() {
			out = append(out, m)
		}
	}
	return out
}
