package app

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/config"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/keystore"
	"github.com/deemkeen/apforge/store"
	"github.com/google/uuid"
)

const defaultActorUsername = "admin"

// seedDefaultActor provisions a single local actor so the engine has
// something to exercise the outbox/inbox pipelines with. Actor
// registration proper is an external concern; this is development
// convenience only, and skipped once an actor with the reserved
// username already exists.
func seedDefaultActor(s store.Store, conf *config.AppConfig) error {
	if _, err := s.GetActorByUsername(defaultActorUsername); err == nil {
		return nil
	} else if !apforgeerr.Is(err, apforgeerr.KindNotFound) {
		return fmt.Errorf("checking for default actor: %w", err)
	}

	var privPem, pubPem string
	if conf.Conf.DefaultActorPrivateKeyPem != "" {
		key, err := keystore.ParsePrivateKey(conf.Conf.DefaultActorPrivateKeyPem)
		if err != nil {
			return fmt.Errorf("parsing defaultActorPrivateKeyPem: %w", err)
		}
		pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return fmt.Errorf("deriving default actor public key: %w", err)
		}
		privPem = conf.Conf.DefaultActorPrivateKeyPem
		pubPem = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	} else {
		pair, err := keystore.GenerateLocalKeypair()
		if err != nil {
			return fmt.Errorf("generating default actor keypair: %w", err)
		}
		privPem, pubPem = pair.PrivatePem, pair.PublicPem
	}

	base := conf.Conf.InstanceBaseUrl
	iri := fmt.Sprintf("%s/actors/%s", base, defaultActorUsername)

	actor := &domain.Actor{
		Id:                uuid.New(),
		Iri:               iri,
		PreferredUsername: defaultActorUsername,
		DisplayName:       "Default Actor",
		IsLocal:           true,
		InboxIri:          iri + "/inbox",
		OutboxIri:         iri + "/outbox",
		FollowersIri:      iri + "/followers",
		FollowingIri:      iri + "/following",
		LikedIri:          iri + "/liked",
		SharedInboxIri:    base + "/inbox",
		PublicKeyPem:      pubPem,
		PrivateKeyPem:     privPem,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	if err := s.UpsertActor(actor); err != nil {
		return fmt.Errorf("persisting default actor: %w", err)
	}

	return nil
}
