package handlers

import (
	"context"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/inbox"
	"github.com/google/uuid"
)

// Like handles an inbound Like: insert the (liker, likedObject) edge if
// absent, then best-effort fetch-and-store the liked object.
func Like(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		if job.ActorIri == "" || job.ObjectIri == "" {
			return apforgeerr.BadRequest("Like missing actor or object", nil)
		}

		if _, err := d.Store.GetLike(job.ActorIri, job.ObjectIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
			if err := d.Store.UpsertLike(&domain.Like{
				LikerIri:       job.ActorIri,
				LikedObjectIri: job.ObjectIri,
				ActivityIri:    job.ActivityIri,
			}); err != nil {
				return apforgeerr.Internal("persisting like", err)
			}
		} else if err != nil {
			return apforgeerr.Internal("loading like edge", err)
		}

		_, _ = d.Fetcher.FetchAndStoreObject(ctx, job.ObjectIri)
		return nil
	}
}

// Announce handles an inbound Announce (boost): persist the activity
// row if new, then fetch-and-store the announced object.
func Announce(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		if job.ActorIri == "" || job.ObjectIri == "" {
			return apforgeerr.BadRequest("Announce missing actor or object", nil)
		}

		if _, err := d.Store.GetActivityByIri(job.ActivityIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
			if err := d.Store.UpsertActivity(&domain.Activity{
				Id:        uuid.New(),
				Iri:       job.ActivityIri,
				Type:      "Announce",
				ActorIri:  job.ActorIri,
				ObjectIri: job.ObjectIri,
				Raw:       string(job.Raw),
			}); err != nil {
				return apforgeerr.Internal("persisting announce", err)
			}
		} else if err != nil {
			return apforgeerr.Internal("loading announce activity", err)
		}

		_, _ = d.Fetcher.FetchAndStoreObject(ctx, job.ObjectIri)
		return nil
	}
}

// Block handles an inbound Block: insert the (blocker, blocked) edge if
// absent.
func Block(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		if job.ActorIri == "" || job.ObjectIri == "" {
			return apforgeerr.BadRequest("Block missing actor or object", nil)
		}

		if _, err := d.Store.GetBlock(job.ActorIri, job.ObjectIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
			if err := d.Store.UpsertBlock(&domain.Block{
				BlockerIri:  job.ActorIri,
				BlockedIri:  job.ObjectIri,
				ActivityIri: job.ActivityIri,
			}); err != nil {
				return apforgeerr.Internal("persisting block", err)
			}
		} else if err != nil {
			return apforgeerr.Internal("loading block edge", err)
		}
		return nil
	}
}
