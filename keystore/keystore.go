// Package keystore generates RSA keypairs for local actors and
// resolves/caches public keys by keyId for the HTTP signature engine.
package keystore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/cache"
	"github.com/deemkeen/apforge/domain"
	"github.com/google/uuid"
)

const (
	keySize       = 2048
	positiveTTL   = 24 * time.Hour
	negativeTTL   = 1 * time.Hour
	negativeToken = "\x00not-found"
)

// KeyPair is a generated RSA keypair, PEM-encoded.
type KeyPair struct {
	PrivatePem string
	PublicPem  string
}

// ActorLookup is the subset of the activity store the key store needs.
type ActorLookup interface {
	GetActorById(id uuid.UUID) (*domain.Actor, error)
	GetActorByIri(iri string) (*domain.Actor, error)
	UpsertActor(a *domain.Actor) error
}

// RemoteActorFetcher is the subset of the remote object fetcher the key
// store needs to resolve a keyId it doesn't recognize locally.
type RemoteActorFetcher interface {
	FetchActor(ctx context.Context, iri string) (*domain.Actor, error)
	// FetchPublicKey resolves keyId to its owning actor's publicKeyPem,
	// handling both the single-object and array forms of "publicKey".
	FetchPublicKey(ctx context.Context, keyId string) (string, error)
}

// KeyStore generates and resolves actor signing keys.
type KeyStore struct {
	store   ActorLookup
	fetcher RemoteActorFetcher
	cache   *cache.Cache
}

func New(store ActorLookup, fetcher RemoteActorFetcher, c *cache.Cache) *KeyStore {
	return &KeyStore{store: store, fetcher: fetcher, cache: c}
}

// GenerateLocalKeypair produces a fresh 2048-bit RSA keypair: SPKI
// (PKIX) public PEM, PKCS#8 private PEM.
func GenerateLocalKeypair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling pkcs8 private key: %w", err)
	}
	privPem := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling pkix public key: %w", err)
	}
	pubPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return &KeyPair{PrivatePem: string(privPem), PublicPem: string(pubPem)}, nil
}

// ParsePrivateKey decodes a PKCS#8 PEM-encoded RSA private key.
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing pkcs8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey decodes a PKIX PEM-encoded RSA public key.
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing pkix public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA public key")
	}
	return rsaKey, nil
}

// Digest returns the SHA-256 digest header value for body:
// "SHA-256=<base64>".
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// GetPrivateKeyPem returns the PEM-encoded private key for a local
// actor. Fails NotFound if the actor is unknown or not local.
func (k *KeyStore) GetPrivateKeyPem(localActorId uuid.UUID) (string, error) {
	actor, err := k.store.GetActorById(localActorId)
	if err != nil {
		return "", apforgeerr.NotFound("actor not found", err)
	}
	if !actor.IsLocal || actor.PrivateKeyPem == "" {
		return "", apforgeerr.NotFound("actor is not local or has no private key", nil)
	}
	return actor.PrivateKeyPem, nil
}

// GetPublicKeyPem resolves keyId (an IRI with a #fragment identifying
// the key) to a PEM-encoded RSA public key: strip the fragment to get
// the owning actor IRI, look the actor up locally, otherwise fetch its
// profile remotely, extract publicKeyPem, persist the actor, and cache
// the PEM under the original keyId.
func (k *KeyStore) GetPublicKeyPem(ctx context.Context, keyId string) (string, error) {
	if cached, ok := k.cache.Get(ctx, keyId); ok {
		if cached == negativeToken {
			return "", apforgeerr.NotFound("public key not found (cached)", nil)
		}
		return cached, nil
	}

	actorIri := stripFragment(keyId)

	actor, err := k.store.GetActorByIri(actorIri)
	if err != nil || actor == nil {
		actor, err = k.fetcher.FetchActor(ctx, actorIri)
		if err != nil {
			k.cache.Set(ctx, keyId, negativeToken, negativeTTL)
			return "", apforgeerr.NotFound("actor not found for keyId", err)
		}
		if pem, pkErr := k.fetcher.FetchPublicKey(ctx, keyId); pkErr == nil && pem != "" {
			actor.PublicKeyPem = pem
		}
		if storeErr := k.store.UpsertActor(actor); storeErr != nil {
			return "", apforgeerr.Internal("persisting fetched actor", storeErr)
		}
	}

	if actor.PublicKeyPem == "" {
		k.cache.Set(ctx, keyId, negativeToken, negativeTTL)
		return "", apforgeerr.NotFound("actor has no public key", nil)
	}

	k.cache.Set(ctx, keyId, actor.PublicKeyPem, positiveTTL)
	return actor.PublicKeyPem, nil
}

func stripFragment(iri string) string {
	if idx := strings.IndexByte(iri, '#'); idx != -1 {
		return iri[:idx]
	}
	return iri
}
