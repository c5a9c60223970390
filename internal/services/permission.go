package services

import (
	"context"
	"errors"
	"sort"

	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

type Decision int

const (
	Unknown Decision = iota
	Granted
	Denied
)

// AdminStrategy is one way of proving adminship. Unknown passes the question
// to the next strategy in the chain.
type AdminStrategy interface {
	Resolve(ctx context.Context, id models.Identity) (Decision, error)
}

// AllowList is the static admin configuration, loaded once at start-up.
type AllowList struct {
	uids   map[string]struct{}
	emails map[string]struct{}
}

func NewAllowList(uids, emails []string) AllowList {
	a := AllowList{uids: map[string]struct{}{}, emails: map[string]struct{}{}}
	for _, u := range uids {
		if u != "" {
			a.uids[u] = struct{}{}
		}
	}
	for _, e := range emails {
		if e = models.NormalizeEmail(e); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	return a
}

func (a AllowList) HasUID(uid string) bool {
	_, ok := a.uids[uid]
	return ok
}

func (a AllowList) HasEmail(email string) bool {
	email = models.NormalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := a.emails[email]
	return ok
}

func (a AllowList) UIDs() []string {
	out := make([]string, 0, len(a.uids))
	for u := range a.uids {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

type uidAllowList struct{ list AllowList }

func (s uidAllowList) Resolve(_ context.Context, id models.Identity) (Decision, error) {
	if s.list.HasUID(id.UID) {
		return Granted, nil
	}
	return Unknown, nil
}

type emailAllowList struct{ list AllowList }

func (s emailAllowList) Resolve(_ context.Context, id models.Identity) (Decision, error) {
	if s.list.HasEmail(id.Email) {
		return Granted, nil
	}
	return Unknown, nil
}

type adminTable struct {
	admins AdminRepository
	log    *utils.Logger
}

func (s adminTable) Resolve(ctx context.Context, id models.Identity) (Decision, error) {
	ok, err := s.admins.IsAdmin(ctx, id.UID)
	if errors.Is(err, models.ErrPermissionDenied) {
		s.log.Warn("[PERMISSION] admin table unreadable, using allow-lists", "uid", id.UID, "error", err)
		return Unknown, nil
	}
	if err != nil {
		return Unknown, err
	}
	if ok {
		return Granted, nil
	}
	return Denied, nil
}

type AudienceCache interface {
	Get(ctx context.Context) ([]string, bool, error)
	Set(ctx context.Context, uids []string) error
	Invalidate(ctx context.Context) error
}

type PermissionResolver struct {
	strategies []AdminStrategy
	allow      AllowList
	admins     AdminRepository
	cache      AudienceCache
	log        *utils.Logger
}

// NewPermissionResolver builds the chain uid allow-list, email allow-list,
// admin table. cache may be nil.
func NewPermissionResolver(allow AllowList, admins AdminRepository, cache AudienceCache, log *utils.Logger) *PermissionResolver {
	return &PermissionResolver{
		strategies: []AdminStrategy{
			uidAllowList{list: allow},
			emailAllowList{list: allow},
			adminTable{admins: admins, log: log},
		},
		allow:  allow,
		admins: admins,
		cache:  cache,
		log:    log,
	}
}

func (p *PermissionResolver) IsAdmin(ctx context.Context, id models.Identity) (bool, error) {
	if id.UID == "" {
		return false, nil
	}
	for _, s := range p.strategies {
		d, err := s.Resolve(ctx, id)
		if err != nil {
			return false, fail("isAdmin", "admin lookup failed", err)
		}
		switch d {
		case Granted:
			return true, nil
		case Denied:
			return false, nil
		}
	}
	return false, nil
}

// Admins is the notification audience: table admins plus the uid allow-list.
// Email allow-list entries have no uid, so those admins pass IsAdmin but get
// no in-app or push notification. Only the operator alert email reaches them.
func (p *PermissionResolver) Admins(ctx context.Context) ([]string, error) {
	if p.cache != nil {
		uids, ok, err := p.cache.Get(ctx)
		if err != nil {
			p.log.Warn("[CACHE] admin audience read failed", "error", err)
		} else if ok {
			return uids, nil
		}
	}

	table, err := p.admins.ListAdmins(ctx)
	if errors.Is(err, models.ErrPermissionDenied) {
		p.log.Warn("[PERMISSION] admin table unreadable, audience is allow-list only", "error", err)
		table = nil
	} else if err != nil {
		return nil, fail("admins", "list admins failed", err)
	}

	seen := map[string]struct{}{}
	uids := []string{}
	for _, u := range append(p.allow.UIDs(), table...) {
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		uids = append(uids, u)
	}
	sort.Strings(uids)

	if p.cache != nil {
		if err := p.cache.Set(ctx, uids); err != nil {
			p.log.Warn("[CACHE] admin audience write failed", "error", err)
		}
	}
	return uids, nil
}

func (p *PermissionResolver) Grant(ctx context.Context, actor models.Identity, uid string) error {
	return p.setAdmin(ctx, "grantAdmin", actor, uid, true)
}

func (p *PermissionResolver) Revoke(ctx context.Context, actor models.Identity, uid string) error {
	return p.setAdmin(ctx, "revokeAdmin", actor, uid, false)
}

func (p *PermissionResolver) setAdmin(ctx context.Context, op string, actor models.Identity, uid string, admin bool) error {
	if uid == "" {
		return invalid(op, "uid is required")
	}
	ok, err := p.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !ok {
		return fail(op, "actor is not an admin", models.ErrPermissionDenied)
	}
	if err := p.admins.SetAdmin(ctx, uid, admin); err != nil {
		return fail(op, "write admin flag failed", err)
	}
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx); err != nil {
			p.log.Warn("[CACHE] admin audience invalidate failed", "error", err)
		}
	}
	p.log.Info("[PERMISSION] admin flag changed", "uid", uid, "admin", admin, "by", actor.UID)
	return nil
}
