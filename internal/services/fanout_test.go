package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"support-app/session-service/internal/events"
	"support-app/session-service/internal/models"
	"support-app/session-service/internal/repository/memory"
	"support-app/session-service/internal/utils"
)

type staticAudience []string

func (a staticAudience) Admins(context.Context) ([]string, error) { return a, nil }

type fakePush struct {
	mu    sync.Mutex
	calls [][]string
	last  models.Payload
	err   error
}

func (p *fakePush) Send(_ context.Context, uids []string, payload models.Payload) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), uids...))
	p.last = payload
	if p.err != nil {
		return 0, p.err
	}
	return len(uids), nil
}

type fakeEmail struct {
	mu       sync.Mutex
	subjects []string
}

func (m *fakeEmail) Send(_ context.Context, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

type failingNotifications struct{ *memory.NotificationRepository }

func (failingNotifications) Create(context.Context, *models.Notification) error {
	return errors.New("quota exceeded")
}

func newFanout(store *memory.Store, push PushTransport, email EmailTransport) *FanoutService {
	return NewFanoutService(FanoutConfig{
		Audience:      staticAudience{"a1", "a2"},
		Notifications: store.Notifications(),
		PushTokens:    store.PushTokens(),
		Push:          push,
		Email:         email,
		Links:         Links{AdminPath: "/admin", SessionPath: "/session", EntryPath: "/start"},
		Log:           utils.NopLogger(),
	})
}

func mustEvent(t *testing.T, typ string, data any) events.Envelope {
	t.Helper()
	env, err := events.New(typ, "test", data)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return env
}

func inApp(t *testing.T, store *memory.Store, uid string) []models.Notification {
	t.Helper()
	list, err := store.Notifications().ListByUser(context.Background(), uid, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return list
}

func TestFanoutNewRequestNotifiesAdmins(t *testing.T) {
	store := memory.NewStore()
	push, email := &fakePush{}, &fakeEmail{}
	f := newFanout(store, push, email)

	err := f.Handle(context.Background(), mustEvent(t, events.TypeRequestCreated, events.RequestCreated{
		RequestID: "r1", CreatedByUID: "u1", CreatedByType: models.RequesterGuest, Phone: "+100",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	for _, admin := range []string{"a1", "a2"} {
		list := inApp(t, store, admin)
		if len(list) != 1 {
			t.Fatalf("%s notifications = %d", admin, len(list))
		}
		n := list[0]
		if n.Title != "New support request" || n.Body != "Request: r1 • guest • +100" || n.Data.URL != "/admin" || n.Read {
			t.Fatalf("notification = %+v", n)
		}
	}
	if len(inApp(t, store, "u1")) != 0 {
		t.Fatal("requester notified about own request")
	}
	if len(push.calls) != 1 || len(push.calls[0]) != 2 {
		t.Fatalf("push calls = %v", push.calls)
	}
	if len(email.subjects) != 1 {
		t.Fatalf("emails = %v", email.subjects)
	}
}

func TestFanoutStatusChangeNotifiesRequester(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	push := &fakePush{}
	f := newFanout(store, push, nil)

	err := f.Handle(ctx, mustEvent(t, events.TypeRequestStatusChanged, events.RequestStatusChanged{
		RequestID: "r1", RequesterUID: "u1", From: models.StatusPending, To: models.StatusAccepted,
		AdminUID: "a1", RoomID: "r1", RoomToken: "tok",
	}))
	if err != nil {
		t.Fatalf("handle accepted: %v", err)
	}
	list := inApp(t, store, "u1")
	if len(list) != 1 {
		t.Fatalf("notifications = %d", len(list))
	}
	link, err := url.Parse(list[0].Data.URL)
	if err != nil || link.Path != "/session" || link.Query().Get("room") != "r1" || link.Query().Get("token") != "tok" {
		t.Fatalf("accepted url = %q", list[0].Data.URL)
	}

	err = f.Handle(ctx, mustEvent(t, events.TypeRequestStatusChanged, events.RequestStatusChanged{
		RequestID: "r2", RequesterUID: "u2", From: models.StatusPending, To: models.StatusRejected, AdminUID: "a1",
	}))
	if err != nil {
		t.Fatalf("handle rejected: %v", err)
	}
	if list := inApp(t, store, "u2"); len(list) != 1 || list[0].Data.URL != "/start" {
		t.Fatalf("rejected notifications = %+v", list)
	}

	// closing is not announced to the requester
	_ = f.Handle(ctx, mustEvent(t, events.TypeRequestStatusChanged, events.RequestStatusChanged{
		RequestID: "r1", RequesterUID: "u1", From: models.StatusAccepted, To: models.StatusClosed,
	}))
	if len(inApp(t, store, "u1")) != 1 || len(push.calls) != 2 {
		t.Fatalf("close produced a notification")
	}
	if len(inApp(t, store, "a1")) != 0 {
		t.Fatal("admins notified about status change")
	}
}

func TestFanoutOfflineMessageOnlyFromRequester(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	f := newFanout(store, &fakePush{}, nil)

	cases := []events.OfflineMessageCreated{
		{RequestID: "r1", RequesterUID: "u1", FromUID: "a1", FromName: models.SupportDisplayName, Text: "reply"},
		{RequestID: "r1", RequesterUID: "u1", FromUID: "system", Kind: models.KindSystem, Text: "request accepted"},
		{RequestID: "r1", RequesterUID: "u1", FromUID: "u1", FromName: "Guest", Text: strings.Repeat("z", 300)},
	}
	for _, c := range cases {
		if err := f.Handle(ctx, mustEvent(t, events.TypeOfflineMessageCreated, c)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	list := inApp(t, store, "a1")
	if len(list) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(list))
	}
	if want := "Request: r1 • " + strings.Repeat("z", models.MaxSummaryLen); list[0].Body != want {
		t.Fatalf("body = %q", list[0].Body)
	}
}

func TestFanoutChannelsAreIndependent(t *testing.T) {
	ctx := context.Background()
	created := mustEvent(t, events.TypeRequestCreated, events.RequestCreated{RequestID: "r1", CreatedByType: models.RequesterClient})

	// push down, in-app still written
	store := memory.NewStore()
	f := newFanout(store, &fakePush{err: errors.New("fcm unavailable")}, nil)
	if err := f.Handle(ctx, created); err == nil {
		t.Fatal("expected push error to surface")
	}
	if len(inApp(t, store, "a1")) != 1 || len(inApp(t, store, "a2")) != 1 {
		t.Fatal("in-app entries missing after push failure")
	}

	// in-app down, push still sent
	push := &fakePush{}
	f = newFanout(store, push, nil)
	f.notifications = failingNotifications{store.Notifications()}
	if err := f.Handle(ctx, created); err == nil {
		t.Fatal("expected in-app error to surface")
	}
	if len(push.calls) != 1 || push.last.Title != "New support request" {
		t.Fatalf("push calls = %v", push.calls)
	}
}

func TestFanoutIgnoresUnknownEvents(t *testing.T) {
	store := memory.NewStore()
	push := &fakePush{}
	f := newFanout(store, push, nil)
	if err := f.Handle(context.Background(), mustEvent(t, "support.other.v1", map[string]string{})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(push.calls) != 0 {
		t.Fatal("unexpected push")
	}
}

func TestNotificationInbox(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	f := newFanout(store, nil, nil)
	_ = f.Handle(ctx, mustEvent(t, events.TypeRequestCreated, events.RequestCreated{RequestID: "r1"}))

	list, err := f.ListNotifications(ctx, "a1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	if err := f.MarkRead(ctx, "a2", list[0].ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign mark read err = %v", err)
	}
	if err := f.MarkRead(ctx, "a1", list[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if list, _ := f.ListNotifications(ctx, "a1"); !list[0].Read {
		t.Fatal("not marked read")
	}
}

func TestRegisterPushTokenSanitizes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	f := newFanout(store, nil, nil)

	if err := f.RegisterPushToken(ctx, "u1", "abc/def.ghi:1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = f.RegisterPushToken(ctx, "u1", "abc/def.ghi:1")
	tokens, _ := store.PushTokens().ListByUser(ctx, "u1")
	if len(tokens) != 1 || tokens[0].Key != "abc_def_ghi:1" || tokens[0].Token != "abc/def.ghi:1" {
		t.Fatalf("tokens = %+v", tokens)
	}
	if err := f.RegisterPushToken(ctx, "u1", " "); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestLifecycleThroughLocalBus(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	bus := events.NewLocalBus(utils.NopLogger())
	push := &fakePush{}
	fanout := NewFanoutService(FanoutConfig{
		Audience:      e.perms,
		Notifications: e.store.Notifications(),
		PushTokens:    e.store.PushTokens(),
		Push:          push,
		Links:         Links{AdminPath: "/admin", SessionPath: "/session", EntryPath: "/start"},
		Log:           utils.NopLogger(),
	})
	if err := bus.Subscribe(ctx, fanout.Handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	e.requests.events, e.thread.events = bus, bus

	r1 := mustCreate(t, e, guest("u1"))
	if n := len(inApp(t, e.store, "root")); n != 1 {
		t.Fatalf("root notifications after create = %d", n)
	}
	acc, err := e.requests.Accept(ctx, r1, "root")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	list := inApp(t, e.store, "u1")
	if len(list) != 1 || !strings.Contains(list[0].Data.URL, url.QueryEscape(acc.RoomToken)) {
		t.Fatalf("requester notifications = %+v", list)
	}
	// the system notice on accept does not reach admins
	if n := len(inApp(t, e.store, "root")); n != 1 {
		t.Fatalf("root notifications after accept = %d", n)
	}
	if _, err := e.thread.Append(ctx, r1, "u1", "Guest", "are you there?"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n := len(inApp(t, e.store, "root")); n != 2 {
		t.Fatalf("root notifications after message = %d", n)
	}
}
