package outbox

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/httpsig"
	"github.com/deemkeen/apforge/jsonld"
	"github.com/deemkeen/apforge/keystore"
	"github.com/deemkeen/apforge/normalize"
	"github.com/deemkeen/apforge/queue"
	"github.com/deemkeen/apforge/store"
	"github.com/google/uuid"
)

const deliveryTimeout = 10 * time.Second

var deliveryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Fetcher is the subset of the remote fetcher the outbox worker needs
// to resolve delivery targets.
type Fetcher interface {
	FetchActorInboxIri(ctx context.Context, actorIri string) (string, error)
	FetchSharedInboxForDomain(ctx context.Context, domainName string) (string, error)
}

// KeyProvider is the subset of the key store the worker needs to sign
// outbound requests.
type KeyProvider interface {
	GetPrivateKeyPem(localActorId uuid.UUID) (string, error)
}

// Worker drains the outbound queue: load the actor and key, resolve
// targets, sign, deliver.
type Worker struct {
	store   store.Store
	keys    KeyProvider
	jsonld  *jsonld.Processor
	fetcher Fetcher
	client  *http.Client
}

func NewWorker(s store.Store, keys KeyProvider, proc *jsonld.Processor, fetcher Fetcher) *Worker {
	return &Worker{
		store:   s,
		keys:    keys,
		jsonld:  proc,
		fetcher: fetcher,
		client:  &http.Client{Timeout: deliveryTimeout},
	}
}

// HandleJob adapts a queue.Job into the outbound delivery steps,
// suitable as a queue.Handler.
func (w *Worker) HandleJob(ctx context.Context, job queue.Job) error {
	var payload Job
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil // malformed payload: permanent, ack
	}

	actor, err := w.store.GetActorById(payload.LocalActorId)
	if err != nil || !actor.IsLocal {
		return nil // actor gone or not local: nothing to deliver as
	}

	privPem, err := w.keys.GetPrivateKeyPem(payload.LocalActorId)
	if err != nil {
		return nil // actor has no signing key: permanent
	}
	privKey, err := keystore.ParsePrivateKey(privPem)
	if err != nil {
		return apforgeerr.Internal("parsing actor private key", err)
	}

	// Canonicalizing validates the activity is well-formed JSON-LD
	// before it goes out; the wire body stays the original JSON.
	if _, err := w.jsonld.Canonicalize(payload.ActivityRaw); err != nil {
		return err
	}

	body, err := json.Marshal(payload.ActivityRaw)
	if err != nil {
		return apforgeerr.Internal("marshaling activity for delivery", err)
	}

	targets, err := w.resolveTargets(ctx, actor, payload.ActivityRaw)
	if err != nil {
		return err
	}

	keyId := actor.Iri + "#main-key"

	var lastErr error
	for _, inboxURL := range targets {
		if derr := w.deliverWithRetry(ctx, job.JobId, inboxURL, keyId, privKey, body); derr != nil {
			lastErr = derr
		}
	}

	// A job is "complete" once every target has succeeded or exhausted
	// retries; failures are already recorded per-target, so the job
	// itself is acked regardless.
	_ = lastErr
	return nil
}

// resolveTargets expands the activity's recipient set into a list of
// inbox URLs, preferring a domain's shared inbox when two or more
// recipients resolve to that domain.
func (w *Worker) resolveTargets(ctx context.Context, actor *domain.Actor, activity map[string]interface{}) ([]string, error) {
	recipients := recipientSet(activity)

	isPublic := false
	for _, r := range recipients {
		if r == PublicIRI {
			isPublic = true
			break
		}
	}

	actorIris, err := w.expandRecipients(actor, recipients)
	if err != nil {
		return nil, err
	}

	type resolved struct {
		actorIri string
		inboxIri string
		host     string
	}

	var entries []resolved
	hostCount := map[string]int{}

	for _, iri := range actorIris {
		inboxIri, err := w.inboxFor(ctx, iri)
		if err != nil {
			continue // unreachable recipient: skip, not fatal to the job
		}
		host := hostOf(inboxIri)
		entries = append(entries, resolved{actorIri: iri, inboxIri: inboxIri, host: host})
		hostCount[host]++
	}

	seenInbox := map[string]bool{}
	var targets []string
	sharedByHost := map[string]string{}

	for _, e := range entries {
		inbox := e.inboxIri
		if hostCount[e.host] >= 2 {
			shared, ok := sharedByHost[e.host]
			if !ok {
				s, err := w.fetcher.FetchSharedInboxForDomain(ctx, e.host)
				if err == nil && s != "" {
					shared = s
				}
				sharedByHost[e.host] = shared
			}
			if shared != "" {
				inbox = shared
			}
		}
		if inbox == "" || seenInbox[inbox] {
			continue
		}
		seenInbox[inbox] = true
		targets = append(targets, inbox)
	}

	// Public activities also fan out to every accepted relay.
	if isPublic {
		relayInboxes, err := w.store.ListAcceptedRelayInboxes()
		if err == nil {
			for _, inbox := range relayInboxes {
				if inbox == "" || seenInbox[inbox] {
					continue
				}
				seenInbox[inbox] = true
				targets = append(targets, inbox)
			}
		}
	}

	return targets, nil
}

// expandRecipients resolves the raw to/cc/... values into concrete
// actor IRIs: the public IRI and any followers-collection IRI expand
// to the corresponding actor's followers; anything else is taken as an
// actor IRI directly.
func (w *Worker) expandRecipients(actor *domain.Actor, raw []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string

	add := func(iri string) {
		iri = normalize.IRI(iri)
		if iri == "" || seen[iri] {
			return
		}
		seen[iri] = true
		out = append(out, iri)
	}

	for _, r := range raw {
		switch {
		case r == PublicIRI:
			followers, err := w.allFollowers(actor.Iri)
			if err != nil {
				return nil, err
			}
			for _, f := range followers {
				add(f)
			}
		case r == actor.FollowersIri:
			followers, err := w.allFollowers(actor.Iri)
			if err != nil {
				return nil, err
			}
			for _, f := range followers {
				add(f)
			}
		default:
			if owner, err := w.store.GetActorByIri(ownerOfFollowersCollection(r)); err == nil && owner.FollowersIri == r {
				followers, ferr := w.allFollowers(owner.Iri)
				if ferr != nil {
					return nil, ferr
				}
				for _, f := range followers {
					add(f)
				}
				continue
			}
			add(r)
		}
	}

	return out, nil
}

// ownerOfFollowersCollection is a best-effort guess at the owning
// actor IRI for a followers-collection URL that doesn't match any
// known actor's FollowersIri directly; most such collections live at
// "<actorIri>/followers".
func ownerOfFollowersCollection(iri string) string {
	const suffix = "/followers"
	if len(iri) > len(suffix) && iri[len(iri)-len(suffix):] == suffix {
		return iri[:len(iri)-len(suffix)]
	}
	return iri
}

func (w *Worker) allFollowers(actorIri string) ([]string, error) {
	var out []string
	page := store.Page{Page: 1, PerPage: 200}
	for {
		iris, total, err := w.store.ListFollowerIris(actorIri, page)
		if err != nil {
			return nil, apforgeerr.Internal("listing followers for delivery", err)
		}
		out = append(out, iris...)
		if page.Page*page.PerPage >= total || len(iris) == 0 {
			break
		}
		page.Page++
	}
	return out, nil
}

func (w *Worker) inboxFor(ctx context.Context, actorIri string) (string, error) {
	if a, err := w.store.GetActorByIri(actorIri); err == nil {
		if a.InboxIri != "" {
			return a.InboxIri, nil
		}
		if a.SharedInboxIri != "" {
			return a.SharedInboxIri, nil
		}
	}
	return w.fetcher.FetchActorInboxIri(ctx, actorIri)
}

// deliverWithRetry POSTs body to inboxURL, making up to 3 attempts on
// transient failures and waiting 1s, then 2s, between them; 4xx
// responses are not retried.
// Every terminal outcome is recorded as a DeliveryRecord for dead-letter
// inspection.
func (w *Worker) deliverWithRetry(ctx context.Context, jobId, inboxURL, keyId string, privKey *rsa.PrivateKey, body []byte) error {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= 3; attempt++ {
		attempts = attempt
		err := w.deliverOnce(ctx, inboxURL, keyId, privKey, body)
		if err == nil {
			w.record(jobId, inboxURL, attempt, "", domain.DeliveryDelivered)
			return nil
		}

		lastErr = err
		if !apforgeerr.KindOf(err).Transient() {
			break
		}
		if attempt == 3 {
			break
		}

		select {
		case <-time.After(deliveryBackoff[attempt-1]):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = 3
		}
	}

	w.record(jobId, inboxURL, attempts, lastErr.Error(), domain.DeliveryFailed)
	return lastErr
}

func (w *Worker) deliverOnce(ctx context.Context, inboxURL, keyId string, privKey *rsa.PrivateKey, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURL, bytes.NewReader(body))
	if err != nil {
		return apforgeerr.Internal("building delivery request", err)
	}
	req.Header.Set("Content-Type", `application/activity+json`)

	if err := httpsig.Sign(req, keyId, privKey, body); err != nil {
		return err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return apforgeerr.RemoteFetchFailed("delivery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return apforgeerr.BadRequest(fmt.Sprintf("delivery rejected with %d", resp.StatusCode), nil)
	}
	return apforgeerr.RemoteFetchFailed(fmt.Sprintf("delivery failed with %d", resp.StatusCode), nil)
}

func (w *Worker) record(jobId, inboxURL string, attempts int, lastError string, status domain.DeliveryStatus) {
	_ = w.store.RecordDeliveryAttempt(&domain.DeliveryRecord{
		Id:          uuid.New(),
		JobId:       jobId,
		TargetInbox: inboxURL,
		Attempts:    attempts,
		LastError:   lastError,
		Status:      status,
	})
}
