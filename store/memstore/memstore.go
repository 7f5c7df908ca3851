// Package memstore is an in-memory implementation of store.Store, used
// by handler/inbox/discovery tests to exercise the Activity Store
// contract without a sqlite file. It is not used by the runtime; the
// runtime uses store/sqlite.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/normalize"
	"github.com/deemkeen/apforge/store"
	"github.com/google/uuid"
)

type followKey struct{ follower, followed string }
type likeKey struct{ liker, liked string }
type blockKey struct{ blocker, blocked string }

// Store is a mutex-guarded in-memory Activity Store.
type Store struct {
	mu sync.Mutex

	actorsByIri map[string]*domain.Actor
	actorsById  map[uuid.UUID]*domain.Actor

	activities map[string]*domain.Activity

	processed map[string]bool

	follows          map[followKey]*domain.Follow
	followsByActIri  map[string]*domain.Follow
	likes            map[likeKey]*domain.Like
	blocks           map[blockKey]*domain.Block
	contentObjects   map[string]*domain.ContentObject
	relays           map[string]*domain.Relay
	deliveryRecords  []domain.DeliveryRecord
	followPairLocks  map[followKey]*sync.Mutex
	followLocksGuard sync.Mutex
}

func New() *Store {
	return &Store{
		actorsByIri:     map[string]*domain.Actor{},
		actorsById:      map[uuid.UUID]*domain.Actor{},
		activities:      map[string]*domain.Activity{},
		processed:       map[string]bool{},
		follows:         map[followKey]*domain.Follow{},
		followsByActIri: map[string]*domain.Follow{},
		likes:           map[likeKey]*domain.Like{},
		blocks:          map[blockKey]*domain.Block{},
		contentObjects:  map[string]*domain.ContentObject{},
		relays:          map[string]*domain.Relay{},
		followPairLocks: map[followKey]*sync.Mutex{},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) UpsertActor(a *domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Iri = normalize.IRI(a.Iri)
	if a.Id == uuid.Nil {
		if existing, ok := s.actorsByIri[a.Iri]; ok {
			a.Id = existing.Id
		} else {
			a.Id = uuid.New()
		}
	}
	cp := *a
	s.actorsByIri[a.Iri] = &cp
	s.actorsById[a.Id] = &cp
	return nil
}

func (s *Store) GetActorById(id uuid.UUID) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actorsById[id]
	if !ok {
		return nil, apforgeerr.NotFound("actor not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetActorByIri(iri string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actorsByIri[normalize.IRI(iri)]
	if !ok {
		return nil, apforgeerr.NotFound("actor not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetActorByUsername(username string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actorsByIri {
		if a.PreferredUsername == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apforgeerr.NotFound("actor not found", nil)
}

func (s *Store) UpsertActivity(a *domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Iri = normalize.IRI(a.Iri)
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.activities[a.Iri] = &cp
	return nil
}

func (s *Store) GetActivityByIri(iri string) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[normalize.IRI(iri)]
	if !ok {
		return nil, apforgeerr.NotFound("activity not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) SoftDeleteActivity(iri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[normalize.IRI(iri)]
	if !ok {
		return apforgeerr.NotFound("activity not found", nil)
	}
	now := time.Now()
	a.DeletedAt = &now
	return nil
}

func (s *Store) IsProcessed(iri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[normalize.IRI(iri)], nil
}

func (s *Store) MarkProcessed(iri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[normalize.IRI(iri)] = true
	return nil
}

func (s *Store) UpsertFollow(f *domain.Follow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.FollowerIri = normalize.IRI(f.FollowerIri)
	f.FollowedIri = normalize.IRI(f.FollowedIri)
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	cp := *f
	k := followKey{f.FollowerIri, f.FollowedIri}
	s.follows[k] = &cp
	if f.ActivityIri != "" {
		s.followsByActIri[normalize.IRI(f.ActivityIri)] = &cp
	}
	return nil
}

func (s *Store) GetFollow(followerIri, followedIri string) (*domain.Follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.follows[followKey{normalize.IRI(followerIri), normalize.IRI(followedIri)}]
	if !ok {
		return nil, apforgeerr.NotFound("follow not found", nil)
	}
	cp := *f
	return &cp, nil
}

func (s *Store) GetFollowByActivityIri(iri string) (*domain.Follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followsByActIri[normalize.IRI(iri)]
	if !ok {
		return nil, apforgeerr.NotFound("follow not found", nil)
	}
	cp := *f
	return &cp, nil
}

func (s *Store) UpdateFollowStatus(followerIri, followedIri string, status domain.FollowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := followKey{normalize.IRI(followerIri), normalize.IRI(followedIri)}
	f, ok := s.follows[k]
	if !ok {
		return apforgeerr.NotFound("follow not found", nil)
	}
	f.Status = status
	return nil
}

func (s *Store) DeleteFollow(followerIri, followedIri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.follows, followKey{normalize.IRI(followerIri), normalize.IRI(followedIri)})
	return nil
}

func (s *Store) ListFollowerIris(actorIri string, page store.Page) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actorIri = normalize.IRI(actorIri)
	var rows []*domain.Follow
	for k, f := range s.follows {
		if k.followed == actorIri {
			rows = append(rows, f)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	all := make([]string, len(rows))
	for i, f := range rows {
		all[i] = f.FollowerIri
	}
	return paginate(all, page), len(all), nil
}

func (s *Store) ListFollowingIris(actorIri string, page store.Page) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actorIri = normalize.IRI(actorIri)
	var rows []*domain.Follow
	for k, f := range s.follows {
		if k.follower == actorIri {
			rows = append(rows, f)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	all := make([]string, len(rows))
	for i, f := range rows {
		all[i] = f.FollowedIri
	}
	return paginate(all, page), len(all), nil
}

func (s *Store) UpsertLike(l *domain.Like) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.LikerIri = normalize.IRI(l.LikerIri)
	l.LikedObjectIri = normalize.IRI(l.LikedObjectIri)
	if l.Id == uuid.Nil {
		l.Id = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	cp := *l
	s.likes[likeKey{l.LikerIri, l.LikedObjectIri}] = &cp
	return nil
}

func (s *Store) GetLike(likerIri, likedObjectIri string) (*domain.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.likes[likeKey{normalize.IRI(likerIri), normalize.IRI(likedObjectIri)}]
	if !ok {
		return nil, apforgeerr.NotFound("like not found", nil)
	}
	cp := *l
	return &cp, nil
}

func (s *Store) DeleteLike(likerIri, likedObjectIri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.likes, likeKey{normalize.IRI(likerIri), normalize.IRI(likedObjectIri)})
	return nil
}

func (s *Store) ListLikedIris(actorIri string, page store.Page) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actorIri = normalize.IRI(actorIri)
	var rows []*domain.Like
	for k, l := range s.likes {
		if k.liker == actorIri {
			rows = append(rows, l)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	all := make([]string, len(rows))
	for i, l := range rows {
		all[i] = l.LikedObjectIri
	}
	return paginate(all, page), len(all), nil
}

func (s *Store) UpsertBlock(b *domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.BlockerIri = normalize.IRI(b.BlockerIri)
	b.BlockedIri = normalize.IRI(b.BlockedIri)
	if b.Id == uuid.Nil {
		b.Id = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	cp := *b
	s.blocks[blockKey{b.BlockerIri, b.BlockedIri}] = &cp
	return nil
}

func (s *Store) GetBlock(blockerIri, blockedIri string) (*domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[blockKey{normalize.IRI(blockerIri), normalize.IRI(blockedIri)}]
	if !ok {
		return nil, apforgeerr.NotFound("block not found", nil)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) DeleteBlock(blockerIri, blockedIri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey{normalize.IRI(blockerIri), normalize.IRI(blockedIri)})
	return nil
}

func (s *Store) UpsertContentObject(c *domain.ContentObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Iri = normalize.IRI(c.Iri)
	c.AttributedToIri = normalize.IRI(c.AttributedToIri)
	if c.Id == uuid.Nil {
		if existing, ok := s.contentObjects[c.Iri]; ok {
			c.Id = existing.Id
		} else {
			c.Id = uuid.New()
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	s.contentObjects[c.Iri] = &cp
	return nil
}

func (s *Store) GetContentObjectByIri(iri string) (*domain.ContentObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contentObjects[normalize.IRI(iri)]
	if !ok {
		return nil, apforgeerr.NotFound("content object not found", nil)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SoftDeleteContentObject(iri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contentObjects[normalize.IRI(iri)]
	if !ok {
		return apforgeerr.NotFound("content object not found", nil)
	}
	now := time.Now()
	c.DeletedAt = &now
	return nil
}

func (s *Store) ListOutboxIris(actorIri string, page store.Page) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actorIri = normalize.IRI(actorIri)
	var rows []*domain.ContentObject
	for _, c := range s.contentObjects {
		if c.AttributedToIri == actorIri && c.DeletedAt == nil {
			rows = append(rows, c)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	all := make([]string, len(rows))
	for i, c := range rows {
		all[i] = c.Iri
	}
	return paginate(all, page), len(all), nil
}

// ListInboxIris returns the IRIs of activities whose recorded recipient
// set includes actorIri, newest first.
func (s *Store) ListInboxIris(actorIri string, page store.Page) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actorIri = normalize.IRI(actorIri)
	var rows []*domain.Activity
	for _, a := range s.activities {
		if a.DeletedAt != nil {
			continue
		}
		for _, r := range a.RecipientIris {
			if normalize.IRI(r) == actorIri {
				rows = append(rows, a)
				break
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	all := make([]string, len(rows))
	for i, a := range rows {
		all[i] = a.Iri
	}
	return paginate(all, page), len(all), nil
}

func (s *Store) MoveActor(oldIri, newIri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldIri = normalize.IRI(oldIri)
	newIri = normalize.IRI(newIri)

	a, ok := s.actorsByIri[oldIri]
	if !ok {
		return apforgeerr.NotFound("actor not found", nil)
	}
	a.Iri = newIri
	delete(s.actorsByIri, oldIri)
	s.actorsByIri[newIri] = a

	swap := func(iri string) string {
		if iri == oldIri {
			return newIri
		}
		return iri
	}
	for _, act := range s.activities {
		if act.ActorIri == oldIri {
			act.ActorIri = newIri
		}
		if act.ObjectIri == oldIri {
			act.ObjectIri = newIri
		}
		act.InReplyToIri = swap(act.InReplyToIri)
		for i, r := range act.RecipientIris {
			act.RecipientIris[i] = swap(r)
		}
	}
	for _, c := range s.contentObjects {
		if c.AttributedToIri == oldIri {
			c.AttributedToIri = newIri
		}
		c.InReplyToIri = swap(c.InReplyToIri)
	}
	for k, f := range s.follows {
		nk := k
		changed := false
		if k.follower == oldIri {
			nk.follower = newIri
			changed = true
		}
		if k.followed == oldIri {
			nk.followed = newIri
			changed = true
		}
		if changed {
			delete(s.follows, k)
			f.FollowerIri = nk.follower
			f.FollowedIri = nk.followed
			s.follows[nk] = f
		}
	}
	for k, l := range s.likes {
		if k.liker == oldIri || k.liked == oldIri {
			delete(s.likes, k)
			l.LikerIri, l.LikedObjectIri = swap(k.liker), swap(k.liked)
			s.likes[likeKey{l.LikerIri, l.LikedObjectIri}] = l
		}
	}
	for k, b := range s.blocks {
		nk := k
		changed := false
		if k.blocker == oldIri {
			nk.blocker = newIri
			changed = true
		}
		if k.blocked == oldIri {
			nk.blocked = newIri
			changed = true
		}
		if changed {
			delete(s.blocks, k)
			b.BlockerIri = nk.blocker
			b.BlockedIri = nk.blocked
			s.blocks[nk] = b
		}
	}
	return nil
}

func (s *Store) UpsertRelay(r *domain.Relay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Iri = normalize.IRI(r.Iri)
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	cp := *r
	s.relays[r.Iri] = &cp
	return nil
}

func (s *Store) GetRelayByIri(iri string) (*domain.Relay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relays[normalize.IRI(iri)]
	if !ok {
		return nil, apforgeerr.NotFound("relay not found", nil)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) UpdateRelayStatus(iri string, status domain.RelayStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relays[normalize.IRI(iri)]
	if !ok {
		return apforgeerr.NotFound("relay not found", nil)
	}
	r.Status = status
	return nil
}

func (s *Store) DeleteRelay(iri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relays, normalize.IRI(iri))
	return nil
}

func (s *Store) ListAcceptedRelayInboxes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.relays {
		if r.Status == domain.RelayAccepted && r.InboxIri != "" {
			out = append(out, r.InboxIri)
		}
	}
	return out, nil
}

func (s *Store) RecordDeliveryAttempt(rec *domain.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Id == uuid.Nil {
		rec.Id = uuid.New()
	}
	s.deliveryRecords = append(s.deliveryRecords, *rec)
	return nil
}

func (s *Store) ListFailedDeliveries(limit int) ([]domain.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, r := range s.deliveryRecords {
		if r.Status == domain.DeliveryFailed {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) WithFollowPairLock(ctx context.Context, followerIri, followedIri string, fn func() error) error {
	k := followKey{normalize.IRI(followerIri), normalize.IRI(followedIri)}
	s.followLocksGuard.Lock()
	lock, ok := s.followPairLocks[k]
	if !ok {
		lock = &sync.Mutex{}
		s.followPairLocks[k] = lock
	}
	s.followLocksGuard.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (s *Store) Close() error { return nil }

func paginate(all []string, page store.Page) []string {
	perPage := page.PerPage
	if perPage <= 0 {
		perPage = len(all)
	}
	start := (page.Page - 1) * perPage
	if page.Page <= 0 {
		start = 0
	}
	if start >= len(all) || start < 0 {
		return nil
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
