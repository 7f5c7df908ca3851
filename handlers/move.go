package handlers

import (
	"context"
	"encoding/json"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/normalize"
)

// Move handles an inbound Move (object = old actor IRI, target = new
// actor IRI): when the old actor is known locally, rewrite its IRI and
// every foreign-IRI column referencing it, in one transaction
// (store.MoveActor). A Move naming an actor we don't know is a no-op.
func Move(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		oldIri := job.ObjectIri
		if oldIri == "" {
			return apforgeerr.BadRequest("Move missing object", nil)
		}

		var raw map[string]interface{}
		_ = json.Unmarshal(job.Raw, &raw)

		var newIri string
		switch t := raw["target"].(type) {
		case string:
			newIri = t
		case map[string]interface{}:
			newIri, _ = t["id"].(string)
		}
		newIri = normalize.IRI(newIri)
		if newIri == "" {
			return apforgeerr.BadRequest("Move missing target", nil)
		}

		if _, err := d.Store.GetActorByIri(oldIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
			return nil
		} else if err != nil {
			return apforgeerr.Internal("loading actor for move", err)
		}

		return d.Store.MoveActor(oldIri, newIri)
	}
}
