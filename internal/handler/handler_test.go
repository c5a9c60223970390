package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"support-app/session-service/internal/models"
	"support-app/session-service/internal/repository/memory"
	"support-app/session-service/internal/services"
	"support-app/session-service/internal/utils"
)

// tokenProvider accepts "guest:<uid>" and "user:<uid>" bearer tokens.
type tokenProvider struct{}

func (tokenProvider) Verify(_ context.Context, token string) (models.Identity, error) {
	kind, uid, ok := strings.Cut(token, ":")
	if !ok || uid == "" {
		return models.Identity{}, errors.New("bad token")
	}
	return models.Identity{UID: uid, Email: uid + "@example.com", Anonymous: kind == "guest"}, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := utils.NopLogger()
	store := memory.NewStore()

	perms := services.NewPermissionResolver(services.NewAllowList([]string{"root"}, nil), store.Admins(), nil, log)
	bans := services.NewBanService(store.Bans(), log)
	rooms := services.NewRoomService(store.Rooms(), log)
	thread := services.NewThreadService(store, store.Requests(), store.Messages(), nil, log)
	requests := services.NewRequestService(store, store.Requests(), store.UserState(), bans, rooms, thread, nil, log)
	fanout := services.NewFanoutService(services.FanoutConfig{
		Audience:      perms,
		Notifications: store.Notifications(),
		PushTokens:    store.PushTokens(),
		Log:           log,
	})

	router := gin.New()
	RegisterRoutes(router, Handlers{
		Support:       NewSupportHandler(requests, thread, rooms, perms, log),
		Admin:         NewAdminHandler(requests, thread, bans, perms, log),
		Notifications: NewNotificationHandler(fanout, log),
	}, utils.AuthMiddleware(tokenProvider{}), utils.RequireAdmin(perms))
	return router
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(t)
	if w := call(t, r, http.MethodGet, "/api/support/requests", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/api/support/requests", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/api/admin/requests/pending", "user:u1", nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

func TestSessionFlowOverHTTP(t *testing.T) {
	r := newRouter(t)

	w := call(t, r, http.MethodPost, "/api/support/requests", "guest:u1", map[string]string{"phone": "+100"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.CreateResult](t, w)

	w = call(t, r, http.MethodPost, "/api/support/requests", "guest:u1", map[string]string{})
	if w.Code != http.StatusOK || !decode[models.CreateResult](t, w).Reused {
		t.Fatalf("second create = %d %s", w.Code, w.Body.String())
	}

	pending := decode[[]models.Request](t, call(t, r, http.MethodGet, "/api/admin/requests/pending", "user:root", nil))
	if len(pending) != 1 || pending[0].ID != created.RequestID || pending[0].CreatedByType != models.RequesterGuest {
		t.Fatalf("pending = %+v", pending)
	}

	w = call(t, r, http.MethodPost, "/api/admin/requests/"+created.RequestID+"/accept", "user:root", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept status = %d: %s", w.Code, w.Body.String())
	}
	acc := decode[models.AcceptResult](t, w)
	if acc.RoomID == "" || acc.RoomToken == "" {
		t.Fatalf("accept = %+v", acc)
	}
	if w := call(t, r, http.MethodPost, "/api/admin/requests/"+created.RequestID+"/accept", "user:root", nil); w.Code != http.StatusConflict {
		t.Fatalf("second accept status = %d", w.Code)
	}

	peers := "/api/support/rooms/" + acc.RoomID + "/peers"
	if w := call(t, r, http.MethodPut, peers, "guest:u1", map[string]string{"peer_id": "p-u1"}); w.Code != http.StatusOK {
		t.Fatalf("set peer status = %d: %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodGet, peers, "guest:intruder", nil); w.Code != http.StatusForbidden {
		t.Fatalf("intruder peers status = %d", w.Code)
	}
	dir := decode[map[string]string](t, call(t, r, http.MethodGet, peers, "user:root", nil))
	if dir["u1"] != "p-u1" {
		t.Fatalf("peers = %v", dir)
	}

	w = call(t, r, http.MethodPost, "/api/admin/requests/"+created.RequestID+"/close", "user:root", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d: %s", w.Code, w.Body.String())
	}
	req := decode[models.Request](t, call(t, r, http.MethodGet, "/api/support/requests/"+created.RequestID, "guest:u1", nil))
	if req.Status != models.StatusClosed || req.EndReason != models.DefaultEndReason {
		t.Fatalf("request = %+v", req)
	}
}

func TestOfflineThreadOverHTTP(t *testing.T) {
	r := newRouter(t)
	created := decode[models.CreateResult](t, call(t, r, http.MethodPost, "/api/support/requests", "user:u1", map[string]string{"display_name": "Ann"}))
	thread := "/api/support/requests/" + created.RequestID + "/messages"

	if w := call(t, r, http.MethodPost, thread, "user:u1", map[string]string{"text": "hello"}); w.Code != http.StatusCreated {
		t.Fatalf("append status = %d: %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodPost, thread, "user:u2", map[string]string{"text": "hijack"}); w.Code != http.StatusForbidden {
		t.Fatalf("foreign append status = %d", w.Code)
	}
	if w := call(t, r, http.MethodPost, thread, "user:u1", map[string]string{"text": ""}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty append status = %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, thread, "user:u2", nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign read status = %d", w.Code)
	}

	reply := "/api/admin/requests/" + created.RequestID + "/reply"
	if w := call(t, r, http.MethodPost, reply, "user:root", map[string]string{"text": "on it"}); w.Code != http.StatusCreated {
		t.Fatalf("reply status = %d: %s", w.Code, w.Body.String())
	}

	msgs := decode[[]models.OfflineMessage](t, call(t, r, http.MethodGet, thread, "user:root", nil))
	if len(msgs) != 2 || msgs[0].FromName != "Ann" || msgs[1].FromName != models.SupportDisplayName {
		t.Fatalf("thread = %+v", msgs)
	}

	inbox := decode[[]models.Request](t, call(t, r, http.MethodGet, "/api/admin/inbox", "user:root", nil))
	if len(inbox) != 1 || inbox[0].LastOfflineText != "on it" {
		t.Fatalf("inbox = %+v", inbox)
	}

	one := thread[len("/api/support"):]
	if w := call(t, r, http.MethodDelete, "/api/admin"+one+"/"+msgs[0].ID, "user:root", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodDelete, "/api/admin"+one, "user:root", nil); w.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d: %s", w.Code, w.Body.String())
	}
	if msgs := decode[[]models.OfflineMessage](t, call(t, r, http.MethodGet, thread, "user:u1", nil)); len(msgs) != 0 {
		t.Fatalf("thread after clear = %+v", msgs)
	}
}

func TestBanOverHTTP(t *testing.T) {
	r := newRouter(t)
	if w := call(t, r, http.MethodPut, "/api/admin/bans/u1", "user:root", map[string]string{"reason": "spam"}); w.Code != http.StatusNoContent {
		t.Fatalf("ban status = %d: %s", w.Code, w.Body.String())
	}

	w := call(t, r, http.MethodPost, "/api/support/requests", "guest:u1", map[string]string{})
	if w.Code != http.StatusForbidden || decode[map[string]string](t, w)["code"] != "banned" {
		t.Fatalf("banned create = %d %s", w.Code, w.Body.String())
	}

	bans := decode[[]models.Ban](t, call(t, r, http.MethodGet, "/api/admin/bans", "user:root", nil))
	if len(bans) != 1 || bans[0].Reason != "spam" || bans[0].By != "root" {
		t.Fatalf("bans = %+v", bans)
	}

	if w := call(t, r, http.MethodDelete, "/api/admin/bans/u1", "user:root", nil); w.Code != http.StatusNoContent {
		t.Fatalf("unban status = %d", w.Code)
	}
	if w := call(t, r, http.MethodPost, "/api/support/requests", "guest:u1", map[string]string{}); w.Code != http.StatusCreated {
		t.Fatalf("create after unban = %d", w.Code)
	}
}

func TestAdminGrantOverHTTP(t *testing.T) {
	r := newRouter(t)
	if w := call(t, r, http.MethodPut, "/api/admin/admins/a2", "user:root", nil); w.Code != http.StatusNoContent {
		t.Fatalf("grant status = %d: %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodGet, "/api/admin/inbox", "user:a2", nil); w.Code != http.StatusOK {
		t.Fatalf("granted admin status = %d", w.Code)
	}
	if w := call(t, r, http.MethodDelete, "/api/admin/admins/a2", "user:root", nil); w.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/api/admin/inbox", "user:a2", nil); w.Code != http.StatusForbidden {
		t.Fatalf("revoked admin status = %d", w.Code)
	}
}

func TestNotificationsOverHTTP(t *testing.T) {
	r := newRouter(t)
	if w := call(t, r, http.MethodPost, "/api/support/push-tokens", "user:u1", map[string]string{"token": "abc"}); w.Code != http.StatusOK {
		t.Fatalf("push token status = %d: %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodPost, "/api/support/push-tokens", "user:u1", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty push token status = %d", w.Code)
	}
	list := decode[[]models.Notification](t, call(t, r, http.MethodGet, "/api/notifications", "user:u1", nil))
	if len(list) != 0 {
		t.Fatalf("notifications = %+v", list)
	}
	if w := call(t, r, http.MethodPut, "/api/notifications/missing/read", "user:u1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("mark missing status = %d", w.Code)
	}
}

func TestGuestCannotClaimClientType(t *testing.T) {
	r := newRouter(t)
	w := call(t, r, http.MethodPost, "/api/support/requests", "guest:u1", map[string]string{"type": "client"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("guest as client status = %d: %s", w.Code, w.Body.String())
	}
	if pending := decode[[]models.Request](t, call(t, r, http.MethodGet, "/api/admin/requests/pending", "user:root", nil)); len(pending) != 0 {
		t.Fatalf("pending = %+v", pending)
	}

	w = call(t, r, http.MethodPost, "/api/support/requests", "user:u2", map[string]string{"type": "client"})
	if w.Code != http.StatusCreated {
		t.Fatalf("client create status = %d: %s", w.Code, w.Body.String())
	}
	mine := decode[[]models.Request](t, call(t, r, http.MethodGet, "/api/support/requests", "user:u2", nil))
	if len(mine) != 1 || mine[0].CreatedByType != models.RequesterClient {
		t.Fatalf("mine = %+v", mine)
	}
}
