package handlers

import (
	"context"
	"encoding/json"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/normalize"
)

// innerActivity is the resolved shape of an Undo's inner object,
// whether it arrived embedded or as a bare IRI referencing an
// already-stored activity.
type innerActivity struct {
	Iri    string
	Type   string
	Actor  string
	Object string
}

// Undo handles Undo of {Follow, Like, Announce, Block, Create}. The
// inner object's actor must equal the outer activity's actor, else the
// handler rejects and mutates no state.
func Undo(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		inner, err := resolveInner(d, job)
		if err != nil {
			return err
		}

		if normalize.IRI(inner.Actor) != normalize.IRI(job.ActorIri) {
			return apforgeerr.BadRequest("Undo inner actor does not match outer actor", nil)
		}

		switch inner.Type {
		case "Follow":
			return d.Store.WithFollowPairLock(ctx, inner.Actor, inner.Object, func() error {
				return d.Store.DeleteFollow(inner.Actor, inner.Object)
			})
		case "Like":
			return d.Store.DeleteLike(inner.Actor, inner.Object)
		case "Block":
			return d.Store.DeleteBlock(inner.Actor, inner.Object)
		case "Announce":
			return softDeleteIfPresent(d, inner.Iri)
		case "Create":
			return softDeleteIfPresent(d, inner.Object)
		default:
			// Unrecognized undo target: nothing to revert.
			return nil
		}
	}
}

func softDeleteIfPresent(d *Deps, iri string) error {
	if iri == "" {
		return nil
	}
	if _, err := d.Store.GetContentObjectByIri(iri); err == nil {
		return d.Store.SoftDeleteContentObject(iri)
	}
	return d.Store.SoftDeleteActivity(iri)
}

func resolveInner(d *Deps, job inbox.QueuedActivity) (innerActivity, error) {
	var raw map[string]interface{}
	_ = json.Unmarshal(job.Raw, &raw)

	objField, _ := raw["object"]

	switch v := objField.(type) {
	case string:
		act, err := d.Store.GetActivityByIri(normalize.IRI(v))
		if err != nil {
			return innerActivity{}, apforgeerr.BadRequest("Undo references unknown activity", err)
		}
		return innerActivity{Iri: act.Iri, Type: act.Type, Actor: act.ActorIri, Object: act.ObjectIri}, nil
	case map[string]interface{}:
		ia := innerActivity{}
		ia.Iri, _ = v["id"].(string)
		ia.Type, _ = v["type"].(string)
		ia.Actor, _ = v["actor"].(string)
		switch obj := v["object"].(type) {
		case string:
			ia.Object = obj
		case map[string]interface{}:
			ia.Object, _ = obj["id"].(string)
		}
		return ia, nil
	default:
		return innerActivity{}, apforgeerr.BadRequest("Undo missing object", nil)
	}
}
