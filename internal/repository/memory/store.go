// Package memory is an in-process store used by the "memory" storage driver
// and as the backend of service tests. It has no multi-document
// transactions: Atomic runs its function directly.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"support-app/session-service/internal/models"
)

type Store struct {
	mu            sync.Mutex
	requests      map[string]models.Request
	rooms         map[string]models.Room
	messages      map[string][]models.OfflineMessage
	userState     map[string]string
	bans          map[string]models.Ban
	admins        map[string]bool
	notifications map[string][]models.Notification
	pushTokens    map[string]map[string]models.PushToken
}

func NewStore() *Store {
	return &Store{
		requests:      map[string]models.Request{},
		rooms:         map[string]models.Room{},
		messages:      map[string][]models.OfflineMessage{},
		userState:     map[string]string{},
		bans:          map[string]models.Ban{},
		admins:        map[string]bool{},
		notifications: map[string][]models.Notification{},
		pushTokens:    map[string]map[string]models.PushToken{},
	}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Requests() *RequestRepository           { return &RequestRepository{s} }
func (s *Store) Rooms() *RoomRepository                 { return &RoomRepository{s} }
func (s *Store) Messages() *MessageRepository           { return &MessageRepository{s} }
func (s *Store) UserState() *UserStateRepository        { return &UserStateRepository{s} }
func (s *Store) Bans() *BanRepository                   { return &BanRepository{s} }
func (s *Store) Admins() *AdminRepository               { return &AdminRepository{s} }
func (s *Store) Notifications() *NotificationRepository { return &NotificationRepository{s} }
func (s *Store) PushTokens() *PushTokenRepository       { return &PushTokenRepository{s} }

// --- requests ---

type RequestRepository struct{ s *Store }

func (r *RequestRepository) Create(_ context.Context, req *models.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.requests[req.ID] = *req
	return nil
}

func (r *RequestRepository) GetByID(_ context.Context, id string) (*models.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &req, nil
}

func (r *RequestRepository) filter(keep func(models.Request) bool, less func(a, b models.Request) bool) []models.Request {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Request{}
	for _, req := range r.s.requests {
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func newestFirst(a, b models.Request) bool { return a.CreatedAt.After(b.CreatedAt) }

func (r *RequestRepository) ListByStatus(_ context.Context, status models.RequestStatus) ([]models.Request, error) {
	return r.filter(func(req models.Request) bool { return req.Status == status }, newestFirst), nil
}

func (r *RequestRepository) ListByCreator(_ context.Context, uid string) ([]models.Request, error) {
	return r.filter(func(req models.Request) bool { return req.CreatedByUID == uid }, newestFirst), nil
}

func (r *RequestRepository) ListWithOffline(_ context.Context, limit int64) ([]models.Request, error) {
	out := r.filter(
		func(req models.Request) bool { return req.HasOffline() },
		func(a, b models.Request) bool { return a.LastOfflineAt.After(b.LastOfflineAt) },
	)
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mutate applies fn to the stored request when its status is from.
func (r *RequestRepository) mutate(id string, from models.RequestStatus, fn func(*models.Request)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	if from != "" && req.Status != from {
		return models.ErrInvalidTransition
	}
	fn(&req)
	r.s.requests[id] = req
	return nil
}

func (r *RequestRepository) MarkAccepted(_ context.Context, id, adminUID, roomID, roomToken string, at time.Time) error {
	return r.mutate(id, models.StatusPending, func(req *models.Request) {
		req.Status = models.StatusAccepted
		req.AcceptedAt = &at
		req.AssignedAdminUID = adminUID
		req.RoomID = roomID
		req.RoomToken = roomToken
	})
}

func (r *RequestRepository) RevertAccepted(_ context.Context, id, roomToken string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	if req.Status != models.StatusAccepted || req.RoomToken != roomToken {
		return models.ErrInvalidTransition
	}
	req.Status = models.StatusPending
	req.AcceptedAt = nil
	req.AssignedAdminUID = ""
	req.RoomID = ""
	req.RoomToken = ""
	r.s.requests[id] = req
	return nil
}

func (r *RequestRepository) MarkRejected(_ context.Context, id, adminUID string, at time.Time) error {
	return r.mutate(id, models.StatusPending, func(req *models.Request) {
		req.Status = models.StatusRejected
		req.RejectedAt = &at
		req.AssignedAdminUID = adminUID
	})
}

func (r *RequestRepository) MarkClosed(_ context.Context, id, adminUID, reason string, at time.Time) error {
	return r.mutate(id, models.StatusAccepted, func(req *models.Request) {
		req.Status = models.StatusClosed
		req.EndedAt = &at
		req.EndedBy = adminUID
		req.EndReason = reason
		req.RoomID = ""
		req.RoomToken = ""
	})
}

func (r *RequestRepository) RefreshOfflineSummary(_ context.Context, id string, s models.OfflineSummary) error {
	return r.mutate(id, "", func(req *models.Request) {
		if s.LastOfflineAt.Before(req.LastOfflineAt) {
			return
		}
		req.OfflineSummary = s
	})
}

func (r *RequestRepository) SwapOfflineSummary(_ context.Context, id string, expected time.Time, s models.OfflineSummary) (bool, error) {
	swapped := false
	err := r.mutate(id, "", func(req *models.Request) {
		if !req.LastOfflineAt.Equal(expected) {
			return
		}
		req.OfflineSummary = s
		swapped = true
	})
	return swapped, err
}

func (r *RequestRepository) SetAdminReply(_ context.Context, id string, reply models.AdminReply) error {
	return r.mutate(id, "", func(req *models.Request) { req.AdminReply = reply })
}

func (r *RequestRepository) ClearOffline(_ context.Context, id string) error {
	return r.mutate(id, "", func(req *models.Request) {
		req.OfflineSummary = models.OfflineSummary{}
		req.AdminReply = models.AdminReply{}
	})
}

// --- rooms ---

type RoomRepository struct{ s *Store }

func copyRoom(room models.Room) models.Room {
	participants := make(map[string]bool, len(room.Participants))
	for k, v := range room.Participants {
		participants[k] = v
	}
	peers := make(map[string]string, len(room.PeerIDs))
	for k, v := range room.PeerIDs {
		peers[k] = v
	}
	room.Participants = participants
	room.PeerIDs = peers
	return room
}

func (r *RoomRepository) Upsert(_ context.Context, room *models.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rooms[room.ID] = copyRoom(*room)
	return nil
}

func (r *RoomRepository) GetByID(_ context.Context, id string) (*models.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	room = copyRoom(room)
	return &room, nil
}

func (r *RoomRepository) Deactivate(_ context.Context, id, by, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[id]
	if !ok {
		return models.ErrNotFound
	}
	room.Active = false
	room.EndedAt = &at
	room.EndedBy = by
	room.EndReason = reason
	r.s.rooms[id] = room
	return nil
}

func (r *RoomRepository) SetPeerID(_ context.Context, roomID, uid, peerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[roomID]
	if !ok {
		return models.ErrNotFound
	}
	room = copyRoom(room)
	room.PeerIDs[uid] = peerID
	r.s.rooms[roomID] = room
	return nil
}

// --- offline messages ---

type MessageRepository struct{ s *Store }

func (r *MessageRepository) Insert(_ context.Context, msg *models.OfflineMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messages[msg.RequestID] = append(r.s.messages[msg.RequestID], *msg)
	return nil
}

func (r *MessageRepository) ListByRequest(_ context.Context, requestID string) ([]models.OfflineMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]models.OfflineMessage{}, r.s.messages[requestID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MessageRepository) DeleteByRequest(_ context.Context, requestID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := int64(len(r.s.messages[requestID]))
	delete(r.s.messages, requestID)
	return n, nil
}

func (r *MessageRepository) Delete(_ context.Context, requestID, messageID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	thread := r.s.messages[requestID]
	for i, m := range thread {
		if m.ID == messageID {
			r.s.messages[requestID] = append(thread[:i:i], thread[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

// --- user state ---

type UserStateRepository struct{ s *Store }

func (r *UserStateRepository) GetActiveRequest(_ context.Context, uid string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.userState[uid], nil
}

func (r *UserStateRepository) SetActiveRequest(_ context.Context, uid, requestID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.userState[uid] = requestID
	return nil
}

func (r *UserStateRepository) ClearActiveRequest(_ context.Context, uid, requestID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.userState[uid] == requestID {
		r.s.userState[uid] = ""
	}
	return nil
}

// --- bans ---

type BanRepository struct{ s *Store }

func (r *BanRepository) Put(_ context.Context, ban *models.Ban) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.bans[ban.UID] = *ban
	return nil
}

func (r *BanRepository) Delete(_ context.Context, uid string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.bans, uid)
	return nil
}

func (r *BanRepository) Get(_ context.Context, uid string) (*models.Ban, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ban, ok := r.s.bans[uid]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &ban, nil
}

func (r *BanRepository) List(_ context.Context) ([]models.Ban, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Ban, 0, len(r.s.bans))
	for _, b := range r.s.bans {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

// --- admins ---

type AdminRepository struct{ s *Store }

func (r *AdminRepository) IsAdmin(_ context.Context, uid string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.admins[uid], nil
}

func (r *AdminRepository) ListAdmins(_ context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []string{}
	for uid, ok := range r.s.admins {
		if ok {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *AdminRepository) SetAdmin(_ context.Context, uid string, admin bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if admin {
		r.s.admins[uid] = true
	} else {
		delete(r.s.admins, uid)
	}
	return nil
}

// --- notifications ---

type NotificationRepository struct{ s *Store }

func (r *NotificationRepository) Create(_ context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.notifications[n.UserID] = append(r.s.notifications[n.UserID], *n)
	return nil
}

func (r *NotificationRepository) ListByUser(_ context.Context, uid string, limit int64) ([]models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]models.Notification{}, r.s.notifications[uid]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *NotificationRepository) MarkAsRead(_ context.Context, uid, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.notifications[uid]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return models.ErrNotFound
}

// --- push tokens ---

type PushTokenRepository struct{ s *Store }

func (r *PushTokenRepository) Register(_ context.Context, t *models.PushToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.pushTokens[t.UID] == nil {
		r.s.pushTokens[t.UID] = map[string]models.PushToken{}
	}
	r.s.pushTokens[t.UID][t.Key] = *t
	return nil
}

func (r *PushTokenRepository) ListByUser(_ context.Context, uid string) ([]models.PushToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.PushToken, 0, len(r.s.pushTokens[uid]))
	for _, t := range r.s.pushTokens[uid] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *PushTokenRepository) Remove(_ context.Context, uid, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.pushTokens[uid], key)
	return nil
}
