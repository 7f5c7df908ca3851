// Package domain defines the entities of the federation engine's data
// model: actors, activities, and the edges between them.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FollowStatus is the lifecycle state of a Follow edge.
type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
	FollowRejected FollowStatus = "rejected"
)

// RelayStatus mirrors FollowStatus for instance-to-instance relay
// subscriptions.
type RelayStatus string

const (
	RelayPending  RelayStatus = "pending"
	RelayAccepted RelayStatus = "accepted"
	RelayRejected RelayStatus = "rejected"
)

// Actor is a local or remote ActivityPub actor, keyed by its normalized
// IRI. PrivateKeyPem is present if and only if IsLocal.
type Actor struct {
	Id                uuid.UUID
	Iri               string
	PreferredUsername string
	DisplayName       string
	Summary           string
	IsLocal           bool
	InboxIri          string
	OutboxIri         string
	FollowersIri      string
	FollowingIri      string
	LikedIri          string
	SharedInboxIri    string
	PublicKeyPem      string
	PrivateKeyPem     string
	Raw               string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Activity is a stored ActivityPub activity (Follow, Create, Like, ...).
type Activity struct {
	Id            uuid.UUID
	Iri           string
	Type          string
	ActorIri      string
	ObjectIri     string
	InReplyToIri  string
	RecipientIris []string
	Raw           string
	Processed     bool
	Local         bool
	FromRelay     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Follow is a (follower, followed) edge between two actor IRIs.
type Follow struct {
	Id          uuid.UUID
	FollowerIri string
	FollowedIri string
	Status      FollowStatus
	ActivityIri string
	CreatedAt   time.Time
}

// Like is a (liker, likedObject) edge.
type Like struct {
	Id             uuid.UUID
	LikerIri       string
	LikedObjectIri string
	ActivityIri    string
	CreatedAt      time.Time
}

// Block is a (blocker, blocked) edge.
type Block struct {
	Id          uuid.UUID
	BlockerIri  string
	BlockedIri  string
	ActivityIri string
	CreatedAt   time.Time
}

// ContentObject is any non-actor ActivityStreams object (Note, Article,
// ...) attributed to an actor. Soft-deleted on Delete.
type ContentObject struct {
	Id                   uuid.UUID
	Iri                  string
	Type                 string
	AttributedToIri      string
	InReplyToIri         string
	Raw                  string
	ActivityPubUpdatedAt *time.Time
	CreatedAt            time.Time
	DeletedAt            *time.Time
}

// IsTombstone reports whether this object has been soft-deleted.
func (c ContentObject) IsTombstone() bool { return c.DeletedAt != nil }

// ProcessedActivityId records that a normalized inbound activity IRI has
// already been accepted for processing.
type ProcessedActivityId struct {
	Iri       string
	CreatedAt time.Time
}

// Relay is a non-actor peer instance subscribed to receive
// public-timeline fan-out.
type Relay struct {
	Id        uuid.UUID
	Iri       string
	InboxIri  string
	Status    RelayStatus
	CreatedAt time.Time
}

// DeliveryStatus is the per-target outcome of one outbox delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is the dead-letter tracking row for one
// (outbox job, target inbox) pair.
type DeliveryRecord struct {
	Id          uuid.UUID
	JobId       string
	TargetInbox string
	Attempts    int
	LastError   string
	Status      DeliveryStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
