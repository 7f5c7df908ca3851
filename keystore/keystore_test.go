package keystore

import (
	"context"
	"testing"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/cache"
	"github.com/deemkeen/apforge/domain"
	"github.com/google/uuid"
)

type fakeStore struct {
	byId  map[uuid.UUID]*domain.Actor
	byIri map[string]*domain.Actor
}

func newFakeStore() *fakeStore {
	return &fakeStore{byId: map[uuid.UUID]*domain.Actor{}, byIri: map[string]*domain.Actor{}}
}

func (f *fakeStore) GetActorById(id uuid.UUID) (*domain.Actor, error) {
	a, ok := f.byId[id]
	if !ok {
		return nil, apforgeerr.NotFound("no such actor", nil)
	}
	return a, nil
}

func (f *fakeStore) GetActorByIri(iri string) (*domain.Actor, error) {
	a, ok := f.byIri[iri]
	if !ok {
		return nil, apforgeerr.NotFound("no such actor", nil)
	}
	return a, nil
}

func (f *fakeStore) UpsertActor(a *domain.Actor) error {
	f.byId[a.Id] = a
	f.byIri[a.Iri] = a
	return nil
}

type fakeFetcher struct {
	actors map[string]*domain.Actor
	calls  int
}

func (f *fakeFetcher) FetchActor(ctx context.Context, iri string) (*domain.Actor, error) {
	f.calls++
	a, ok := f.actors[iri]
	if !ok {
		return nil, apforgeerr.NotFound("remote actor not found", nil)
	}
	return a, nil
}

func (f *fakeFetcher) FetchPublicKey(ctx context.Context, keyId string) (string, error) {
	a, ok := f.actors[stripFragment(keyId)]
	if !ok || a.PublicKeyPem == "" {
		return "", apforgeerr.NotFound("remote actor has no public key", nil)
	}
	return a.PublicKeyPem, nil
}

func TestGetPrivateKeyPemRequiresLocal(t *testing.T) {
	s := newFakeStore()
	remoteId := uuid.New()
	s.byId[remoteId] = &domain.Actor{Id: remoteId, IsLocal: false}

	ks := New(s, &fakeFetcher{}, cache.New("test", nil))
	if _, err := ks.GetPrivateKeyPem(remoteId); apforgeerr.KindOf(err) != apforgeerr.KindNotFound {
		t.Fatalf("expected NotFound for non-local actor, got %v", err)
	}

	localId := uuid.New()
	s.byId[localId] = &domain.Actor{Id: localId, IsLocal: true, PrivateKeyPem: "pem-data"}
	pem, err := ks.GetPrivateKeyPem(localId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pem != "pem-data" {
		t.Errorf("got %q", pem)
	}
}

func TestGetPublicKeyPemLocalHit(t *testing.T) {
	s := newFakeStore()
	a := &domain.Actor{Id: uuid.New(), Iri: "https://example.test/actors/alice", PublicKeyPem: "alice-pub"}
	s.byIri[a.Iri] = a

	fetcher := &fakeFetcher{actors: map[string]*domain.Actor{}}
	ks := New(s, fetcher, cache.New("test", nil))

	pem, err := ks.GetPublicKeyPem(context.Background(), a.Iri+"#main-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pem != "alice-pub" {
		t.Errorf("got %q", pem)
	}
	if fetcher.calls != 0 {
		t.Errorf("expected no remote fetch for a locally known actor, got %d calls", fetcher.calls)
	}
}

func TestGetPublicKeyPemFetchesAndCaches(t *testing.T) {
	s := newFakeStore()
	remote := &domain.Actor{Id: uuid.New(), Iri: "https://peer.test/users/bob", PublicKeyPem: "bob-pub"}
	fetcher := &fakeFetcher{actors: map[string]*domain.Actor{remote.Iri: remote}}
	ks := New(s, fetcher, cache.New("test", nil))

	keyId := remote.Iri + "#main-key"
	pem, err := ks.GetPublicKeyPem(context.Background(), keyId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pem != "bob-pub" {
		t.Errorf("got %q", pem)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected exactly one remote fetch, got %d", fetcher.calls)
	}

	// Second call should hit the cache, not the fetcher again.
	if _, err := ks.GetPublicKeyPem(context.Background(), keyId); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected cache hit on second call, fetcher called %d times", fetcher.calls)
	}
}

func TestGetPublicKeyPemNegativeCache(t *testing.T) {
	s := newFakeStore()
	fetcher := &fakeFetcher{actors: map[string]*domain.Actor{}}
	ks := New(s, fetcher, cache.New("test", nil))

	keyId := "https://peer.test/users/ghost#main-key"
	if _, err := ks.GetPublicKeyPem(context.Background(), keyId); apforgeerr.KindOf(err) != apforgeerr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := ks.GetPublicKeyPem(context.Background(), keyId); apforgeerr.KindOf(err) != apforgeerr.KindNotFound {
		t.Fatalf("expected NotFound on second call, got %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected negative result to be cached, fetcher called %d times", fetcher.calls)
	}
}
