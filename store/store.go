// Package store defines the activity store abstraction: the
// persistence surface for actors, activities, and the follow/like/block
// edges between them. Concrete implementations live in subpackages
// (store/sqlite).
package store

import (
	"context"

	"github.com/deemkeen/apforge/domain"
	"github.com/google/uuid"
)

// Page describes pagination parameters for collection reads.
type Page struct {
	Page    int
	PerPage int
}

// Store is the full activity store surface. All mutation operations on
// IRI-keyed rows are atomic upserts (INSERT ... ON CONFLICT DO UPDATE
// semantics).
type Store interface {
	// Actors
	UpsertActor(a *domain.Actor) error
	GetActorById(id uuid.UUID) (*domain.Actor, error)
	GetActorByIri(iri string) (*domain.Actor, error)
	GetActorByUsername(username string) (*domain.Actor, error)

	// Activities
	UpsertActivity(a *domain.Activity) error
	GetActivityByIri(iri string) (*domain.Activity, error)
	SoftDeleteActivity(iri string) error

	// ProcessedActivityId set (inbound dedup)
	IsProcessed(iri string) (bool, error)
	MarkProcessed(iri string) error

	// Follows
	UpsertFollow(f *domain.Follow) error
	GetFollow(followerIri, followedIri string) (*domain.Follow, error)
	GetFollowByActivityIri(iri string) (*domain.Follow, error)
	UpdateFollowStatus(followerIri, followedIri string, status domain.FollowStatus) error
	DeleteFollow(followerIri, followedIri string) error
	ListFollowerIris(actorIri string, page Page) ([]string, int, error)
	ListFollowingIris(actorIri string, page Page) ([]string, int, error)

	// Likes
	UpsertLike(l *domain.Like) error
	GetLike(likerIri, likedObjectIri string) (*domain.Like, error)
	DeleteLike(likerIri, likedObjectIri string) error
	ListLikedIris(actorIri string, page Page) ([]string, int, error)

	// Blocks
	UpsertBlock(b *domain.Block) error
	GetBlock(blockerIri, blockedIri string) (*domain.Block, error)
	DeleteBlock(blockerIri, blockedIri string) error

	// Content objects
	UpsertContentObject(c *domain.ContentObject) error
	GetContentObjectByIri(iri string) (*domain.ContentObject, error)
	SoftDeleteContentObject(iri string) error
	ListOutboxIris(actorIri string, page Page) ([]string, int, error)
	ListInboxIris(actorIri string, page Page) ([]string, int, error)

	// MoveActor rewrites every foreign-IRI column from oldIri to
	// newIri in a single transaction.
	MoveActor(oldIri, newIri string) error

	// Relays
	UpsertRelay(r *domain.Relay) error
	GetRelayByIri(iri string) (*domain.Relay, error)
	UpdateRelayStatus(iri string, status domain.RelayStatus) error
	DeleteRelay(iri string) error
	ListAcceptedRelayInboxes() ([]string, error)

	// Delivery dead-letter tracking
	RecordDeliveryAttempt(rec *domain.DeliveryRecord) error
	ListFailedDeliveries(limit int) ([]domain.DeliveryRecord, error)

	// WithFollowPairLock serializes concurrent mutations of the same
	// (follower, followed) pair, so a Follow chased by an Undo cannot
	// interleave under concurrent workers.
	WithFollowPairLock(ctx context.Context, followerIri, followedIri string, fn func() error) error

	Close() error
}
