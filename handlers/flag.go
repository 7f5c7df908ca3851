package handlers

import (
	"context"
	"encoding/json"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/inbox"
)

// Flag hands the reported object off to the external moderation
// interface; apforge itself makes no moderation decision.
func Flag(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		if job.ActorIri == "" || job.ObjectIri == "" {
			return apforgeerr.BadRequest("Flag missing actor or object", nil)
		}

		var raw map[string]interface{}
		_ = json.Unmarshal(job.Raw, &raw)

		category, _ := raw["category"].(string)
		if category == "" {
			category, _ = raw["content"].(string)
		}

		return d.Moderation.ReportContent(ctx, job.ObjectIri, job.ActorIri, category, raw)
	}
}
