package outbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/keystore"
	"github.com/deemkeen/apforge/store/memstore"
)

func newDeliveryWorker(t *testing.T) (*Worker, *memstore.Store, string) {
	t.Helper()
	s := memstore.New()
	w := &Worker{
		store:  s,
		client: &http.Client{Timeout: time.Second},
	}

	kp, err := keystore.GenerateLocalKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return w, s, kp.PrivatePem
}

func shortenBackoff(t *testing.T) {
	t.Helper()
	orig := deliveryBackoff
	deliveryBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { deliveryBackoff = orig })
}

func TestDeliverWithRetrySucceedsAndRecordsDelivered(t *testing.T) {
	shortenBackoff(t)
	w, s, privPem := newDeliveryWorker(t)
	priv, _ := keystore.ParsePrivateKey(privPem)

	var gotSignature, gotDigest string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("Signature")
		gotDigest = r.Header.Get("Digest")
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	body := []byte(`{"type":"Create"}`)
	if err := w.deliverWithRetry(context.Background(), "job-1", srv.URL, "https://example.test/actors/admin#main-key", priv, body); err != nil {
		t.Fatalf("deliverWithRetry: %v", err)
	}

	if gotSignature == "" || gotDigest == "" {
		t.Errorf("expected Signature and Digest headers on delivery, got %q / %q", gotSignature, gotDigest)
	}

	recs, _ := s.ListFailedDeliveries(10)
	if len(recs) != 0 {
		t.Errorf("expected no failed delivery records, got %d", len(recs))
	}
}

func TestDeliverWithRetryRetriesOn5xxThenFails(t *testing.T) {
	shortenBackoff(t)
	w, s, privPem := newDeliveryWorker(t)
	priv, _ := keystore.ParsePrivateKey(privPem)

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits++
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := w.deliverWithRetry(context.Background(), "job-2", srv.URL, "https://example.test/actors/admin#main-key", priv, []byte(`{}`))
	if err == nil {
		t.Fatal("expected delivery failure after exhausted retries")
	}
	if hits != 3 {
		t.Errorf("expected 3 attempts for persistent 5xx, got %d", hits)
	}

	recs, _ := s.ListFailedDeliveries(10)
	if len(recs) != 1 || recs[0].Status != domain.DeliveryFailed {
		t.Fatalf("expected one failed delivery record, got %+v", recs)
	}
	if recs[0].Attempts != 3 {
		t.Errorf("dead-letter Attempts = %d, want 3", recs[0].Attempts)
	}
}

func TestDeliverWithRetryDoesNotRetry4xx(t *testing.T) {
	shortenBackoff(t)
	w, s, privPem := newDeliveryWorker(t)
	priv, _ := keystore.ParsePrivateKey(privPem)

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits++
		rw.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := w.deliverWithRetry(context.Background(), "job-3", srv.URL, "https://example.test/actors/admin#main-key", priv, []byte(`{}`))
	if err == nil {
		t.Fatal("expected delivery error for 4xx")
	}
	if hits != 1 {
		t.Errorf("expected exactly one attempt for 4xx, got %d", hits)
	}

	recs, _ := s.ListFailedDeliveries(10)
	if len(recs) != 1 {
		t.Fatalf("expected one failed delivery record, got %+v", recs)
	}
	if recs[0].Attempts != 1 {
		t.Errorf("dead-letter Attempts = %d, want 1 (single 4xx attempt)", recs[0].Attempts)
	}
}

func TestResolveTargetsIncludesAcceptedRelaysForPublicActivity(t *testing.T) {
	w, s, _ := newDeliveryWorker(t)

	actor := &domain.Actor{
		Iri:          "https://example.test/actors/admin",
		FollowersIri: "https://example.test/actors/admin/followers",
		IsLocal:      true,
	}
	_ = s.UpsertActor(actor)
	_ = s.UpsertRelay(&domain.Relay{Iri: "https://relay.test/actor", InboxIri: "https://relay.test/inbox", Status: domain.RelayAccepted})
	_ = s.UpsertRelay(&domain.Relay{Iri: "https://pending.test/actor", InboxIri: "https://pending.test/inbox", Status: domain.RelayPending})

	activity := map[string]interface{}{
		"type": "Create",
		"to":   []interface{}{PublicIRI},
	}

	targets, err := w.resolveTargets(context.Background(), actor, activity)
	if err != nil {
		t.Fatalf("resolveTargets: %v", err)
	}

	found := false
	for _, tgt := range targets {
		if tgt == "https://relay.test/inbox" {
			found = true
		}
		if tgt == "https://pending.test/inbox" {
			t.Errorf("pending relay must not receive fan-out, targets = %v", targets)
		}
	}
	if !found {
		t.Errorf("accepted relay inbox missing from targets %v", targets)
	}
}
