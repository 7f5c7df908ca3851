package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/httpsig"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/jsonld"
	"github.com/deemkeen/apforge/keystore"
	"github.com/deemkeen/apforge/queue/memqueue"
	"github.com/deemkeen/apforge/store/memstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticResolver struct {
	keyId string
	pem   string
}

func (s staticResolver) GetPublicKeyPem(ctx context.Context, keyId string) (string, error) {
	if keyId != s.keyId {
		return "", http.ErrNotSupported
	}
	return s.pem, nil
}

func newSignedRequest(t *testing.T, targetURL, keyId string, privPem string, body []byte) *http.Request {
	t.Helper()
	priv, err := keystore.ParsePrivateKey(privPem)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Host", "example.test")
	req.Header.Set("Content-Type", "application/activity+json")
	if err := httpsig.Sign(req, keyId, priv, body); err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	return req
}

func newTestIngress(t *testing.T) (*Deps, *gin.Engine, *memstore.Store, string, string) {
	t.Helper()
	s := memstore.New()
	proc, err := jsonld.New()
	if err != nil {
		t.Fatalf("jsonld.New: %v", err)
	}
	q := memqueue.New(10)
	acceptor := inbox.NewAcceptor(s, proc, q)

	kp, err := keystore.GenerateLocalKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	keyId := "https://peer.test/users/bob#main-key"

	d := &Deps{
		Store:       s,
		Acceptor:    acceptor,
		KeyResolver: staticResolver{keyId: keyId, pem: kp.PublicPem},
	}

	local := &domain.Actor{Id: uuid.New(), Iri: "https://example.test/actors/alice", PreferredUsername: "alice", IsLocal: true}
	if err := s.UpsertActor(local); err != nil {
		t.Fatalf("seed actor: %v", err)
	}

	r := gin.New()
	r.POST("/inbox", d.SharedInbox)
	r.POST("/actors/:user/inbox", d.ActorInbox)

	return d, r, s, keyId, kp.PrivatePem
}

func followBody(activityIri string) []byte {
	body := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityIri,
		"type":     "Follow",
		"actor":    "https://peer.test/users/bob",
		"object":   "https://example.test/actors/alice",
	}
	buf, _ := json.Marshal(body)
	return buf
}

func TestActorInboxAcceptsValidSignedActivity(t *testing.T) {
	_, r, s, keyId, privPem := newTestIngress(t)

	body := followBody("https://peer.test/activities/1")
	req := newSignedRequest(t, "https://example.test/actors/alice/inbox", keyId, privPem, body)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	processed, err := s.IsProcessed("https://peer.test/activities/1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !processed {
		t.Errorf("expected activity marked processed")
	}
}

func TestActorInboxRejectsBadDigest(t *testing.T) {
	_, r, _, keyId, privPem := newTestIngress(t)

	signedBody := followBody("https://peer.test/activities/2")
	req := newSignedRequest(t, "https://example.test/actors/alice/inbox", keyId, privPem, signedBody)

	// Serve a different body than what was signed: the Digest header
	// still reflects signedBody, so the recomputed digest must mismatch.
	tampered := followBody("https://peer.test/activities/tampered")
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", w.Code, w.Body.String())
	}
}

func TestActorInboxRejectsUnsignedRequest(t *testing.T) {
	_, r, _, _, _ := newTestIngress(t)

	body := followBody("https://peer.test/activities/3")
	req := httptest.NewRequest(http.MethodPost, "/actors/alice/inbox", bytes.NewReader(body))
	req.Header.Set("Host", "example.test")
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", "Mon, 02 Jan 2006 15:04:05 GMT")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized && w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 401/400, body = %s", w.Code, w.Body.String())
	}
}

func TestActorInboxUnknownActorIs404(t *testing.T) {
	_, r, _, keyId, privPem := newTestIngress(t)
	body := followBody("https://peer.test/activities/4")
	req := newSignedRequest(t, "https://example.test/actors/ghost/inbox", keyId, privPem, body)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestSharedInboxAcceptsValidSignedActivity(t *testing.T) {
	_, r, s, keyId, privPem := newTestIngress(t)

	body := followBody("https://peer.test/activities/shared-1")
	req := newSignedRequest(t, "https://example.test/inbox", keyId, privPem, body)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	processed, _ := s.IsProcessed("https://peer.test/activities/shared-1")
	if !processed {
		t.Errorf("expected activity marked processed via shared inbox")
	}
}

func TestActorInboxDuplicateActivityStillAccepted(t *testing.T) {
	_, r, _, keyId, privPem := newTestIngress(t)

	activityIri := "https://peer.test/activities/dup-1"
	for i := 0; i < 2; i++ {
		body := followBody(activityIri)
		req := newSignedRequest(t, "https://example.test/actors/alice/inbox", keyId, privPem, body)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusAccepted {
			t.Fatalf("iteration %d: status = %d, body = %s", i, w.Code, w.Body.String())
		}
	}
}
