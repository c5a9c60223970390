package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"support-app/session-service/internal/events"
	"support-app/session-service/internal/models"
	"support-app/session-service/internal/repository/memory"
)

func TestSessionScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	r1 := mustCreate(t, e, guest("u1"))
	if got := mustGet(t, e, r1); got.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	acc, err := e.requests.Accept(ctx, r1, "a1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if acc.RoomID != r1 {
		t.Fatalf("room id = %s, want %s", acc.RoomID, r1)
	}
	req := mustGet(t, e, r1)
	if req.Status != models.StatusAccepted || req.RoomID == "" || req.RoomToken != acc.RoomToken || req.AssignedAdminUID != "a1" {
		t.Fatalf("unexpected accepted request %+v", req)
	}
	room, err := e.rooms.Get(ctx, r1)
	if err != nil || !room.Active {
		t.Fatalf("room active = %v, err = %v", room != nil && room.Active, err)
	}

	if _, err := e.thread.Append(ctx, r1, "u1", "Guest", "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	msgs, _ := e.thread.ListThread(ctx, r1)
	if n := len(partyMessages(msgs)); n != 1 {
		t.Fatalf("party messages = %d, want 1", n)
	}
	if got := mustGet(t, e, r1).LastOfflineText; got != "hello" {
		t.Fatalf("lastOfflineText = %q", got)
	}

	if _, err := e.thread.AdminReply(ctx, r1, "a1", "hi"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	msgs, _ = e.thread.ListThread(ctx, r1)
	if n := len(partyMessages(msgs)); n != 2 {
		t.Fatalf("party messages = %d, want 2", n)
	}
	if got := mustGet(t, e, r1).AdminReplyText; got != "hi" {
		t.Fatalf("adminReplyText = %q", got)
	}

	if err := e.requests.Close(ctx, r1, "a1", ""); err != nil {
		t.Fatalf("close: %v", err)
	}
	req = mustGet(t, e, r1)
	if req.Status != models.StatusClosed || req.RoomID != "" || req.RoomToken != "" || req.EndReason != models.DefaultEndReason {
		t.Fatalf("unexpected closed request %+v", req)
	}
	room, _ = e.rooms.Get(ctx, r1)
	if room.Active {
		t.Fatal("room still active after close")
	}
	if ptr, _ := e.store.UserState().GetActiveRequest(ctx, "u1"); ptr != "" {
		t.Fatalf("active pointer = %q, want empty", ptr)
	}
}

func TestAcceptRecordsSystemMessage(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	r1 := mustCreate(t, e, guest("u1"))

	if _, err := e.requests.Accept(ctx, r1, "a1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	msgs, _ := e.thread.ListThread(ctx, r1)
	if len(msgs) != 1 || !msgs[0].IsSystem() || msgs[0].Text != acceptedNotice {
		t.Fatalf("thread = %+v", msgs)
	}
	changed := e.bus.ofType(events.TypeRequestStatusChanged)
	if len(changed) != 1 {
		t.Fatalf("status events = %d", len(changed))
	}
	ev, _ := events.Decode[events.RequestStatusChanged](changed[0])
	if ev.To != models.StatusAccepted || ev.RequesterUID != "u1" || ev.RoomToken == "" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestCreateReusesLiveRequest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	r1 := mustCreate(t, e, guest("u1"))

	for _, accept := range []bool{false, true} {
		if accept {
			if _, err := e.requests.Accept(ctx, r1, "a1"); err != nil {
				t.Fatalf("accept: %v", err)
			}
		}
		res, err := e.requests.Create(ctx, guest("u1"), models.RequesterGuest, models.Profile{})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !res.Reused || res.RequestID != r1 {
			t.Fatalf("got %+v, want reuse of %s", res, r1)
		}
	}
	mine, _ := e.requests.ListMine(ctx, "u1")
	if len(mine) != 1 {
		t.Fatalf("records = %d, want 1", len(mine))
	}
	if n := len(e.bus.ofType(events.TypeRequestCreated)); n != 1 {
		t.Fatalf("created events = %d, want 1", n)
	}
}

func TestCreateAfterTerminalRequest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	r1 := mustCreate(t, e, guest("u1"))
	if err := e.requests.Reject(ctx, r1, "a1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	r2 := mustCreate(t, e, guest("u1"))
	if r2 == r1 {
		t.Fatal("rejected request reused")
	}

	// pointer left behind by a failed clear
	_ = e.store.UserState().SetActiveRequest(ctx, "u2", "missing")
	r3 := mustCreate(t, e, guest("u2"))
	if ptr, _ := e.store.UserState().GetActiveRequest(ctx, "u2"); ptr != r3 {
		t.Fatalf("pointer = %q, want %q", ptr, r3)
	}
}

type deniedUserState struct{ *memory.UserStateRepository }

func (deniedUserState) GetActiveRequest(context.Context, string) (string, error) {
	return "", models.ErrPermissionDenied
}

func TestCreateTreatsUnreadablePointerAsAbsent(t *testing.T) {
	e := newTestEnv(t)
	e.requests.users = deniedUserState{e.store.UserState()}

	res, err := e.requests.Create(context.Background(), client("u1", "a@b.c"), models.RequesterClient, models.Profile{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Reused || res.RequestID == "" {
		t.Fatalf("got %+v", res)
	}
	if got := mustGet(t, e, res.RequestID); got.DisplayName != "a@b.c" || got.CreatedByType != models.RequesterClient {
		t.Fatalf("request = %+v", got)
	}
}

func TestCreateBannedUser(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	if err := e.bans.Ban(ctx, "u1", "a1", "spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}

	_, err := e.requests.Create(ctx, guest("u1"), models.RequesterGuest, models.Profile{})
	if !errors.Is(err, models.ErrBannedUser) {
		t.Fatalf("err = %v, want banned", err)
	}
	var opErr *models.OpError
	if !errors.As(err, &opErr) || opErr.Op != "createRequest" {
		t.Fatalf("err = %#v, want OpError for createRequest", err)
	}
	if mine, _ := e.requests.ListMine(ctx, "u1"); len(mine) != 0 {
		t.Fatalf("records = %d, want 0", len(mine))
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	cases := []struct {
		name    string
		id      models.Identity
		typ     models.RequesterType
		profile models.Profile
	}{
		{"missing uid", models.Identity{}, models.RequesterGuest, models.Profile{}},
		{"missing type", guest("u1"), "", models.Profile{}},
		{"bad email", guest("u1"), models.RequesterGuest, models.Profile{Email: "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.requests.Create(ctx, tc.id, tc.typ, tc.profile); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestAcceptUnknownRequest(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.requests.Accept(context.Background(), "nope", "a1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		e := newTestEnv(t)
		r1 := mustCreate(t, e, guest("u1"))

		var wg sync.WaitGroup
		results := make([]models.AcceptResult, 2)
		errs := make([]error, 2)
		for j, admin := range []string{"a1", "a2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[j], errs[j] = e.requests.Accept(ctx, r1, admin)
			}()
		}
		wg.Wait()

		winner := -1
		for j, err := range errs {
			switch {
			case err == nil:
				if winner != -1 {
					t.Fatal("both accepts succeeded")
				}
				winner = j
			case !errors.Is(err, models.ErrInvalidTransition):
				t.Fatalf("loser err = %v, want invalid transition", err)
			}
		}
		if winner == -1 {
			t.Fatal("no accept succeeded")
		}

		req := mustGet(t, e, r1)
		room, _ := e.rooms.Get(ctx, r1)
		want := []string{"a1", "a2"}[winner]
		if req.AssignedAdminUID != want || req.RoomToken != results[winner].RoomToken {
			t.Fatalf("mixed state: request %+v, winner %s %+v", req, want, results[winner])
		}
		if !room.Active || !room.IsParticipant(want) || room.IsParticipant([]string{"a2", "a1"}[winner]) {
			t.Fatalf("room %+v does not belong to winner %s", room, want)
		}
	}
}

type failingRooms struct{ *memory.RoomRepository }

func (failingRooms) Upsert(context.Context, *models.Room) error { return errors.New("disk full") }

func TestAcceptRollsBackWhenRoomWriteFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	r1 := mustCreate(t, e, guest("u1"))
	e.rooms.rooms = failingRooms{e.store.Rooms()}

	if _, err := e.requests.Accept(ctx, r1, "a1"); err == nil {
		t.Fatal("expected accept to fail")
	}
	req := mustGet(t, e, r1)
	if req.Status != models.StatusPending || req.RoomToken != "" || req.AssignedAdminUID != "" || req.AcceptedAt != nil {
		t.Fatalf("half-applied accept: %+v", req)
	}
	if n := len(e.bus.ofType(events.TypeRequestStatusChanged)); n != 0 {
		t.Fatalf("status events = %d, want 0", n)
	}

	// the whole operation can be retried
	e.rooms.rooms = e.store.Rooms()
	if _, err := e.requests.Accept(ctx, r1, "a1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRejectClearsPointer(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	r1 := mustCreate(t, e, guest("u1"))

	if err := e.requests.Reject(ctx, r1, "a1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	req := mustGet(t, e, r1)
	if req.Status != models.StatusRejected || req.RejectedAt == nil || req.AssignedAdminUID != "a1" {
		t.Fatalf("request = %+v", req)
	}
	if ptr, _ := e.store.UserState().GetActiveRequest(ctx, "u1"); ptr != "" {
		t.Fatalf("pointer = %q", ptr)
	}
	for _, op := range []func() error{
		func() error { return e.requests.Reject(ctx, r1, "a1") },
		func() error { _, err := e.requests.Accept(ctx, r1, "a1"); return err },
		func() error { return e.requests.Close(ctx, r1, "a1", "") },
	} {
		if err := op(); !errors.Is(err, models.ErrInvalidTransition) {
			t.Fatalf("err = %v, want invalid transition", err)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	r1 := mustCreate(t, e, guest("u1"))
	if _, err := e.requests.Accept(ctx, r1, "a1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := e.requests.Close(ctx, r1, "a1", "resolved"); err != nil {
		t.Fatalf("close: %v", err)
	}
	first := mustGet(t, e, r1)

	if err := e.requests.Close(ctx, r1, "a2", "again"); err != nil {
		t.Fatalf("second close: %v", err)
	}
	second := mustGet(t, e, r1)
	if second.EndedBy != "a1" || second.EndReason != "resolved" || !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("second close changed the record: %+v", second)
	}
	if n := len(e.bus.ofType(events.TypeRequestStatusChanged)); n != 2 {
		t.Fatalf("status events = %d, want 2", n)
	}
}

func TestCloseErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	if err := e.requests.Close(ctx, "nope", "a1", ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	r1 := mustCreate(t, e, guest("u1"))
	if err := e.requests.Close(ctx, r1, "a1", ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
}

func TestListPendingNewestFirst(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	r1 := mustCreate(t, e, guest("u1"))
	r2 := mustCreate(t, e, guest("u2"))
	r3 := mustCreate(t, e, guest("u3"))
	if _, err := e.requests.Accept(ctx, r2, "a1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	pending, err := e.requests.ListPending(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != r3 || pending[1].ID != r1 {
		t.Fatalf("pending = %+v", pending)
	}
}
