// Package handlers implements the per-activity-type handler set: one
// handler per activity type, each idempotent, reading and writing
// through the activity store and, when needed, the remote object
// fetcher or outbox.
package handlers

import (
	"context"

	"github.com/deemkeen/apforge/store"
	"github.com/google/uuid"
)

// Fetcher is the subset of the remote object fetcher handlers need.
type Fetcher interface {
	FetchAndStoreObject(ctx context.Context, iri string) (map[string]interface{}, error)
}

// OutboxEnqueuer hands an activity a handler constructs (e.g. an
// Accept reply) to the outbox pipeline.
type OutboxEnqueuer interface {
	EnqueueOutbound(ctx context.Context, localActorId uuid.UUID, activityRaw map[string]interface{}) error
}

// ModerationSink is the external moderation collaborator Flag
// activities are handed to.
type ModerationSink interface {
	ReportContent(ctx context.Context, objectIri, reporterIri, category string, raw map[string]interface{}) error
}

// Deps bundles the collaborators every handler may need. Handlers hold
// borrowed references for the duration of one job; the store owns the
// rows.
type Deps struct {
	Store           store.Store
	Fetcher         Fetcher
	Outbox          OutboxEnqueuer
	Moderation      ModerationSink
	InstanceBaseURL string
}
