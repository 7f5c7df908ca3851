// Package remotefetch retrieves remote actors and objects over HTTP:
// bounded retries with exponential backoff, TTL caching of positive
// and negative results, and local persistence of whatever is fetched.
package remotefetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/cache"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/jsonld"
	"github.com/deemkeen/apforge/normalize"
	"github.com/google/uuid"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
	positiveTTL    = 24 * time.Hour
	negativeTTL    = 1 * time.Hour
	negativeToken  = "\x00not-found"
	acceptHeader   = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// ActorContentStore is the subset of the activity store the fetcher
// persists into.
type ActorContentStore interface {
	UpsertActor(a *domain.Actor) error
	UpsertContentObject(c *domain.ContentObject) error
}

// Fetcher is the remote object fetcher.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	store       ActorContentStore
	jsonld      *jsonld.Processor
	objectCache *cache.Cache
}

// New constructs a Fetcher. instanceBaseURL is used to build the
// outbound User-Agent string.
func New(instanceBaseURL string, store ActorContentStore, proc *jsonld.Processor, objectCache *cache.Cache) *Fetcher {
	return &Fetcher{
		client:      &http.Client{Timeout: requestTimeout},
		userAgent:   fmt.Sprintf("apforge/1.0 (+%s)", instanceBaseURL),
		store:       store,
		jsonld:      proc,
		objectCache: objectCache,
	}
}

// FetchObject retrieves and JSON-LD-compacts the remote document at
// iri, without persisting it.
func (f *Fetcher) FetchObject(ctx context.Context, iri string) (map[string]interface{}, error) {
	iri = normalize.IRI(iri)

	if cached, ok := f.objectCache.Get(ctx, "obj:"+iri); ok {
		if cached == negativeToken {
			return nil, apforgeerr.NotFound("object not found (cached)", nil)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(cached), &doc); err == nil {
			return doc, nil
		}
	}

	body, err := f.getWithRetry(ctx, iri)
	if err != nil {
		f.cacheNegativeIfNotFound(ctx, "obj:"+iri, err)
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apforgeerr.BadRequest("remote document is not valid JSON", err)
	}

	compacted, err := f.jsonld.Compact(raw, nil)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(compacted); err == nil {
		f.objectCache.Set(ctx, "obj:"+iri, string(encoded), positiveTTL)
	}

	return compacted, nil
}

// FetchAndStoreObject fetches iri and persists it as an Actor or
// ContentObject depending on its compacted type.
func (f *Fetcher) FetchAndStoreObject(ctx context.Context, iri string) (map[string]interface{}, error) {
	doc, err := f.FetchObject(ctx, iri)
	if err != nil {
		return nil, err
	}

	typ, _ := doc["type"].(string)
	switch typ {
	case "Person", "Service", "Application", "Group":
		actor := actorFromDoc(doc, iri)
		if err := f.store.UpsertActor(actor); err != nil {
			return nil, apforgeerr.Internal("persisting fetched actor", err)
		}
	default:
		obj := contentObjectFromDoc(doc, iri)
		if err := f.store.UpsertContentObject(obj); err != nil {
			return nil, apforgeerr.Internal("persisting fetched object", err)
		}
	}

	return doc, nil
}

// FetchActor is a convenience wrapper used by the key store to resolve
// an unrecognized keyId's owning actor, satisfying keystore's
// RemoteActorFetcher interface.
func (f *Fetcher) FetchActor(ctx context.Context, iri string) (*domain.Actor, error) {
	doc, err := f.FetchObject(ctx, iri)
	if err != nil {
		return nil, err
	}
	return actorFromDoc(doc, iri), nil
}

// FetchPublicKey fetches the actor owning keyId and returns its
// publicKeyPem, resolving an array of key entries by matching "id"
// when publicKey is a list.
func (f *Fetcher) FetchPublicKey(ctx context.Context, keyId string) (string, error) {
	actorIri := keyId
	if idx := strings.IndexByte(keyId, '#'); idx != -1 {
		actorIri = keyId[:idx]
	}

	doc, err := f.FetchObject(ctx, actorIri)
	if err != nil {
		return "", err
	}

	switch pk := doc["publicKey"].(type) {
	case map[string]interface{}:
		if pem, ok := pk["publicKeyPem"].(string); ok {
			return pem, nil
		}
	case []interface{}:
		for _, entry := range pk {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			if id, _ := m["id"].(string); id == keyId {
				if pem, ok := m["publicKeyPem"].(string); ok {
					return pem, nil
				}
			}
		}
	}

	return "", apforgeerr.NotFound("actor has no matching public key", nil)
}

// FetchActorInboxIri resolves the inbox IRI of a remote actor.
func (f *Fetcher) FetchActorInboxIri(ctx context.Context, actorIri string) (string, error) {
	doc, err := f.FetchObject(ctx, actorIri)
	if err != nil {
		return "", err
	}
	inbox, _ := doc["inbox"].(string)
	if inbox == "" {
		return "", apforgeerr.NotFound("actor has no inbox", nil)
	}
	return inbox, nil
}

// FetchSharedInboxForDomain discovers domain's shared inbox via
// nodeinfo: try /nodeinfo/2.0 directly, then
// /.well-known/nodeinfo -> linked 2.0 document; extract
// usage.sharedInboxUrl when protocols contains activitypub.
func (f *Fetcher) FetchSharedInboxForDomain(ctx context.Context, domainName string) (string, error) {
	cacheKey := "shared-inbox:" + strings.ToLower(domainName)
	if cached, ok := f.objectCache.Get(ctx, cacheKey); ok {
		if cached == negativeToken {
			return "", apforgeerr.NotFound("no shared inbox (cached)", nil)
		}
		return cached, nil
	}

	sharedInbox, err := f.discoverSharedInbox(ctx, domainName)
	if err != nil {
		f.objectCache.Set(ctx, cacheKey, negativeToken, negativeTTL)
		return "", err
	}

	f.objectCache.Set(ctx, cacheKey, sharedInbox, positiveTTL)
	return sharedInbox, nil
}

func (f *Fetcher) discoverSharedInbox(ctx context.Context, domainName string) (string, error) {
	direct := fmt.Sprintf("https://%s/nodeinfo/2.0", domainName)
	if body, err := f.getWithRetry(ctx, direct); err == nil {
		if shared, ok := extractSharedInbox(body); ok {
			return shared, nil
		}
	}

	wellKnown := fmt.Sprintf("https://%s/.well-known/nodeinfo", domainName)
	body, err := f.getWithRetry(ctx, wellKnown)
	if err != nil {
		return "", err
	}

	var links struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &links); err != nil {
		return "", apforgeerr.BadRequest("malformed well-known nodeinfo document", err)
	}

	for _, l := range links.Links {
		if !strings.Contains(l.Rel, "2.0") {
			continue
		}
		niBody, err := f.getWithRetry(ctx, l.Href)
		if err != nil {
			continue
		}
		if shared, ok := extractSharedInbox(niBody); ok {
			return shared, nil
		}
	}

	return "", apforgeerr.NotFound("domain has no shared inbox", nil)
}

func extractSharedInbox(body []byte) (string, bool) {
	var doc struct {
		Protocols []string `json:"protocols"`
		Usage     struct {
			SharedInboxUrl string `json:"sharedInboxUrl"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	hasAP := false
	for _, p := range doc.Protocols {
		if p == "activitypub" {
			hasAP = true
			break
		}
	}
	if hasAP && doc.Usage.SharedInboxUrl != "" {
		return doc.Usage.SharedInboxUrl, true
	}
	return "", false
}

// getWithRetry performs an HTTP GET against iri: Accept/User-Agent
// headers, up to 3 retries with 1s/2s/4s backoff on transient
// failures, no retry on 4xx.
func (f *Fetcher) getWithRetry(ctx context.Context, iri string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
		if err != nil {
			return nil, apforgeerr.Internal("building remote fetch request", err)
		}
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = apforgeerr.RemoteFetchFailed("remote request failed", err)
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, apforgeerr.NotFound("remote resource not found", nil)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, apforgeerr.RemoteFetchFailed(fmt.Sprintf("remote returned %d", resp.StatusCode), nil)
		}
		if resp.StatusCode >= 500 {
			lastErr = apforgeerr.RemoteFetchFailed(fmt.Sprintf("remote returned %d", resp.StatusCode), nil)
			continue
		}
		if readErr != nil {
			lastErr = apforgeerr.RemoteFetchFailed("reading remote response body", readErr)
			continue
		}

		return body, nil
	}

	return nil, lastErr
}

func (f *Fetcher) cacheNegativeIfNotFound(ctx context.Context, key string, err error) {
	if apforgeerr.Is(err, apforgeerr.KindNotFound) {
		f.objectCache.Set(ctx, key, negativeToken, negativeTTL)
	}
}

func actorFromDoc(doc map[string]interface{}, fallbackIri string) *domain.Actor {
	a := &domain.Actor{
		Id:      uuid.New(),
		Iri:     stringField(doc, "id", fallbackIri),
		IsLocal: false,
	}
	a.PreferredUsername = stringField(doc, "preferredUsername", "")
	a.DisplayName = stringField(doc, "name", "")
	a.Summary = stringField(doc, "summary", "")
	a.InboxIri = stringField(doc, "inbox", "")
	a.OutboxIri = stringField(doc, "outbox", "")
	a.FollowersIri = stringField(doc, "followers", "")
	a.FollowingIri = stringField(doc, "following", "")
	a.LikedIri = stringField(doc, "liked", "")

	if endpoints, ok := doc["endpoints"].(map[string]interface{}); ok {
		a.SharedInboxIri = stringField(endpoints, "sharedInbox", "")
	}

	if pk, ok := doc["publicKey"].(map[string]interface{}); ok {
		a.PublicKeyPem = stringField(pk, "publicKeyPem", "")
	}

	if raw, err := json.Marshal(doc); err == nil {
		a.Raw = string(raw)
	}

	return a
}

func contentObjectFromDoc(doc map[string]interface{}, fallbackIri string) *domain.ContentObject {
	c := &domain.ContentObject{
		Id:  uuid.New(),
		Iri: stringField(doc, "id", fallbackIri),
	}
	c.Type = stringField(doc, "type", "")
	c.AttributedToIri = stringField(doc, "attributedTo", "")
	c.InReplyToIri = stringField(doc, "inReplyTo", "")

	if raw, err := json.Marshal(doc); err == nil {
		c.Raw = string(raw)
	}

	return c
}

func stringField(doc map[string]interface{}, key, fallback string) string {
	if v, ok := doc[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
