package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

type BanService struct {
	bans BanRepository
	log  *utils.Logger
	now  func() time.Time
}

func NewBanService(bans BanRepository, log *utils.Logger) *BanService {
	return &BanService{bans: bans, log: log, now: defaultNow}
}

func (s *BanService) Ban(ctx context.Context, uid, by, reason string) error {
	if uid == "" {
		return invalid("ban", "uid is required")
	}
	ban := &models.Ban{UID: uid, By: by, Reason: strings.TrimSpace(reason), At: s.now()}
	if err := s.bans.Put(ctx, ban); err != nil {
		return fail("ban", "write ban failed", err)
	}
	s.log.Info("[BAN] user banned", "uid", uid, "by", by)
	return nil
}

func (s *BanService) Unban(ctx context.Context, uid string) error {
	if uid == "" {
		return invalid("unban", "uid is required")
	}
	if err := s.bans.Delete(ctx, uid); err != nil {
		return fail("unban", "delete ban failed", err)
	}
	s.log.Info("[BAN] user unbanned", "uid", uid)
	return nil
}

// IsBanned is advisory. A denied read counts as not banned; the store's own
// rules still apply to every write the user attempts.
func (s *BanService) IsBanned(ctx context.Context, uid string) (bool, error) {
	if uid == "" {
		return false, invalid("isBanned", "uid is required")
	}
	_, err := s.bans.Get(ctx, uid)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		return false, nil
	case errors.Is(err, models.ErrPermissionDenied):
		s.log.Warn("[BAN] ban record unreadable, assuming not banned", "uid", uid)
		return false, nil
	default:
		return false, fail("isBanned", "read ban failed", err)
	}
}

func (s *BanService) List(ctx context.Context) ([]models.Ban, error) {
	bans, err := s.bans.List(ctx)
	if err != nil {
		return nil, fail("listBans", "", err)
	}
	return bans, nil
}
