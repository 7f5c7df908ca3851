// Package sqlite implements store.Store on top of modernc.org/sqlite:
// raw SQL constant strings and a wrapTransaction helper that retries
// on SQLITE_BUSY.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/store"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	schemaActors = `CREATE TABLE IF NOT EXISTS actors(
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		preferred_username TEXT,
		display_name TEXT,
		summary TEXT,
		is_local INTEGER NOT NULL DEFAULT 0,
		inbox_iri TEXT,
		outbox_iri TEXT,
		followers_iri TEXT,
		following_iri TEXT,
		liked_iri TEXT,
		shared_inbox_iri TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		raw TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	schemaActivities = `CREATE TABLE IF NOT EXISTS activities(
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE,
		type TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		object_iri TEXT,
		in_reply_to_iri TEXT,
		recipient_iris TEXT,
		raw TEXT,
		processed INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		from_relay INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	)`

	schemaActivityRecipients = `CREATE TABLE IF NOT EXISTS activity_recipients(
		activity_iri TEXT NOT NULL,
		recipient_iri TEXT NOT NULL,
		UNIQUE(activity_iri, recipient_iri)
	)`

	schemaProcessedActivities = `CREATE TABLE IF NOT EXISTS processed_activities(
		iri TEXT NOT NULL PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	schemaFollows = `CREATE TABLE IF NOT EXISTS follows(
		id TEXT NOT NULL PRIMARY KEY,
		follower_iri TEXT NOT NULL,
		followed_iri TEXT NOT NULL,
		status TEXT NOT NULL,
		activity_iri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_iri, followed_iri)
	)`

	schemaLikes = `CREATE TABLE IF NOT EXISTS likes(
		id TEXT NOT NULL PRIMARY KEY,
		liker_iri TEXT NOT NULL,
		liked_object_iri TEXT NOT NULL,
		activity_iri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(liker_iri, liked_object_iri)
	)`

	schemaBlocks = `CREATE TABLE IF NOT EXISTS blocks(
		id TEXT NOT NULL PRIMARY KEY,
		blocker_iri TEXT NOT NULL,
		blocked_iri TEXT NOT NULL,
		activity_iri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(blocker_iri, blocked_iri)
	)`

	schemaContentObjects = `CREATE TABLE IF NOT EXISTS content_objects(
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		attributed_to_iri TEXT,
		in_reply_to_iri TEXT,
		raw TEXT,
		activitypub_updated_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	)`

	schemaRelays = `CREATE TABLE IF NOT EXISTS relays(
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		inbox_iri TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	schemaDeliveryRecords = `CREATE TABLE IF NOT EXISTS delivery_records(
		id TEXT NOT NULL PRIMARY KEY,
		job_id TEXT NOT NULL,
		target_inbox TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(job_id, target_inbox)
	)`
)

// DB implements store.Store.
type DB struct {
	db *sql.DB

	mu     sync.Mutex
	stripe map[string]*sync.Mutex
}

var _ store.Store = (*DB)(nil)

// Open opens (creating if necessary) the sqlite database at path and
// runs schema migrations. path may be ":memory:" for tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	sqlDB.Exec("PRAGMA journal_mode = WAL")
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	d := &DB{db: sqlDB, stripe: make(map[string]*sync.Mutex)}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate() error {
	for _, ddl := range []string{
		schemaActors, schemaActivities, schemaActivityRecipients,
		schemaProcessedActivities,
		schemaFollows, schemaLikes, schemaBlocks, schemaContentObjects,
		schemaRelays, schemaDeliveryRecords,
	} {
		if _, err := d.db.Exec(ddl); err != nil {
			return fmt.Errorf("running schema migration: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

// wrapTransaction runs f within a transaction, retrying on SQLITE_BUSY.
func (d *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	for {
		err = f(tx)
		if err != nil {
			var serr *sqlite.Error
			if isSqliteBusy(err, &serr) {
				continue
			}
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	}
}

func isSqliteBusy(err error, target **sqlite.Error) bool {
	serr, ok := err.(*sqlite.Error)
	if !ok {
		return false
	}
	*target = serr
	return serr.Code() == sqlitelib.SQLITE_BUSY
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// WithFollowPairLock serializes concurrent mutations of the same
// (follower, followed) pair via a striped in-process mutex.
func (d *DB) WithFollowPairLock(ctx context.Context, followerIri, followedIri string, fn func() error) error {
	key := followerIri + "|" + followedIri

	d.mu.Lock()
	m, ok := d.stripe[key]
	if !ok {
		m = &sync.Mutex{}
		d.stripe[key] = m
	}
	d.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn()
}

// --- Actors ---

const (
	sqlUpsertActor = `INSERT INTO actors(
		id, iri, preferred_username, display_name, summary, is_local,
		inbox_iri, outbox_iri, followers_iri, following_iri, liked_iri,
		shared_inbox_iri, public_key_pem, private_key_pem, raw, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(iri) DO UPDATE SET
		preferred_username = excluded.preferred_username,
		display_name = excluded.display_name,
		summary = excluded.summary,
		inbox_iri = excluded.inbox_iri,
		outbox_iri = excluded.outbox_iri,
		followers_iri = excluded.followers_iri,
		following_iri = excluded.following_iri,
		liked_iri = excluded.liked_iri,
		shared_inbox_iri = excluded.shared_inbox_iri,
		public_key_pem = excluded.public_key_pem,
		raw = excluded.raw,
		updated_at = CURRENT_TIMESTAMP`

	sqlSelectActorColumns = `id, iri, preferred_username, display_name, summary, is_local,
		inbox_iri, outbox_iri, followers_iri, following_iri, liked_iri,
		shared_inbox_iri, public_key_pem, private_key_pem, raw, created_at, updated_at`

	sqlSelectActorById       = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByIri      = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE iri = ?`
	sqlSelectActorByUsername = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE preferred_username = ? AND is_local = 1`
)

func (d *DB) UpsertActor(a *domain.Actor) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertActor,
			a.Id.String(), a.Iri, a.PreferredUsername, a.DisplayName, a.Summary, boolToInt(a.IsLocal),
			a.InboxIri, a.OutboxIri, a.FollowersIri, a.FollowingIri, a.LikedIri,
			a.SharedInboxIri, a.PublicKeyPem, a.PrivateKeyPem, a.Raw,
		)
		return err
	})
}

func scanActor(row interface{ Scan(...any) error }) (*domain.Actor, error) {
	var a domain.Actor
	var id string
	var isLocal int
	if err := row.Scan(
		&id, &a.Iri, &a.PreferredUsername, &a.DisplayName, &a.Summary, &isLocal,
		&a.InboxIri, &a.OutboxIri, &a.FollowersIri, &a.FollowingIri, &a.LikedIri,
		&a.SharedInboxIri, &a.PublicKeyPem, &a.PrivateKeyPem, &a.Raw,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	a.Id = parsed
	a.IsLocal = isLocal != 0
	return &a, nil
}

func (d *DB) GetActorById(id uuid.UUID) (*domain.Actor, error) {
	a, err := scanActor(d.db.QueryRow(sqlSelectActorById, id.String()))
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("actor not found", err)
	}
	return a, err
}

func (d *DB) GetActorByIri(iri string) (*domain.Actor, error) {
	a, err := scanActor(d.db.QueryRow(sqlSelectActorByIri, iri))
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("actor not found", err)
	}
	return a, err
}

func (d *DB) GetActorByUsername(username string) (*domain.Actor, error) {
	a, err := scanActor(d.db.QueryRow(sqlSelectActorByUsername, username))
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("actor not found", err)
	}
	return a, err
}

// --- Activities ---

const (
	sqlUpsertActivity = `INSERT INTO activities(
		id, iri, type, actor_iri, object_iri, in_reply_to_iri, recipient_iris,
		raw, processed, local, from_relay, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(iri) DO UPDATE SET
		processed = excluded.processed,
		raw = excluded.raw,
		updated_at = CURRENT_TIMESTAMP`

	sqlSelectActivityColumns = `id, iri, type, actor_iri, object_iri, in_reply_to_iri, recipient_iris,
		raw, processed, local, from_relay, created_at, updated_at, deleted_at`

	sqlSelectActivityByIri = `SELECT ` + sqlSelectActivityColumns + ` FROM activities WHERE iri = ?`
	sqlSoftDeleteActivity  = `UPDATE activities SET deleted_at = CURRENT_TIMESTAMP WHERE iri = ?`

	sqlDeleteActivityRecipients = `DELETE FROM activity_recipients WHERE activity_iri = ?`
	sqlInsertActivityRecipient  = `INSERT INTO activity_recipients(activity_iri, recipient_iri) VALUES (?, ?) ON CONFLICT DO NOTHING`
)

func (d *DB) UpsertActivity(a *domain.Activity) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	recipients, err := json.Marshal(a.RecipientIris)
	if err != nil {
		return fmt.Errorf("marshaling recipient iris: %w", err)
	}

	var iri any
	if a.Iri != "" {
		iri = a.Iri
	}

	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertActivity,
			a.Id.String(), iri, a.Type, a.ActorIri, a.ObjectIri, a.InReplyToIri,
			string(recipients), a.Raw, boolToInt(a.Processed), boolToInt(a.Local), boolToInt(a.FromRelay),
		)
		if isUniqueConstraint(err) {
			return apforgeerr.Conflict("activity already exists", err)
		}
		if err != nil {
			return err
		}
		if a.Iri == "" {
			return nil
		}
		if _, err := tx.Exec(sqlDeleteActivityRecipients, a.Iri); err != nil {
			return err
		}
		for _, r := range a.RecipientIris {
			if _, err := tx.Exec(sqlInsertActivityRecipient, a.Iri, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetActivityByIri(iri string) (*domain.Activity, error) {
	row := d.db.QueryRow(sqlSelectActivityByIri, iri)

	var a domain.Activity
	var id string
	var processed, local, fromRelay int
	var recipients string
	var nullIri sql.NullString
	var deletedAt sql.NullTime

	if err := row.Scan(
		&id, &nullIri, &a.Type, &a.ActorIri, &a.ObjectIri, &a.InReplyToIri, &recipients,
		&a.Raw, &processed, &local, &fromRelay, &a.CreatedAt, &a.UpdatedAt, &deletedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, apforgeerr.NotFound("activity not found", err)
		}
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	a.Id = parsed
	a.Iri = nullIri.String
	a.Processed = processed != 0
	a.Local = local != 0
	a.FromRelay = fromRelay != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	_ = json.Unmarshal([]byte(recipients), &a.RecipientIris)

	return &a, nil
}

func (d *DB) SoftDeleteActivity(iri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlSoftDeleteActivity, iri)
		return err
	})
}

// --- ProcessedActivityId ---

const (
	sqlInsertProcessed = `INSERT INTO processed_activities(iri) VALUES (?) ON CONFLICT(iri) DO NOTHING`
	sqlSelectProcessed = `SELECT 1 FROM processed_activities WHERE iri = ?`
)

func (d *DB) MarkProcessed(iri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertProcessed, iri)
		return err
	})
}

func (d *DB) IsProcessed(iri string) (bool, error) {
	var one int
	err := d.db.QueryRow(sqlSelectProcessed, iri).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- Follows ---

const (
	sqlUpsertFollow = `INSERT INTO follows(id, follower_iri, followed_iri, status, activity_iri)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(follower_iri, followed_iri) DO UPDATE SET
			status = excluded.status,
			activity_iri = excluded.activity_iri`

	sqlSelectFollow            = `SELECT id, follower_iri, followed_iri, status, activity_iri, created_at FROM follows WHERE follower_iri = ? AND followed_iri = ?`
	sqlSelectFollowByActivity  = `SELECT id, follower_iri, followed_iri, status, activity_iri, created_at FROM follows WHERE activity_iri = ?`
	sqlUpdateFollowStatus      = `UPDATE follows SET status = ? WHERE follower_iri = ? AND followed_iri = ?`
	sqlDeleteFollow            = `DELETE FROM follows WHERE follower_iri = ? AND followed_iri = ?`
	sqlSelectFollowerIrisPage  = `SELECT follower_iri FROM follows WHERE followed_iri = ? AND status = 'accepted' ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountFollowers          = `SELECT COUNT(*) FROM follows WHERE followed_iri = ? AND status = 'accepted'`
	sqlSelectFollowingIrisPage = `SELECT followed_iri FROM follows WHERE follower_iri = ? AND status = 'accepted' ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountFollowing          = `SELECT COUNT(*) FROM follows WHERE follower_iri = ? AND status = 'accepted'`
)

func (d *DB) UpsertFollow(f *domain.Follow) error {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollow, f.Id.String(), f.FollowerIri, f.FollowedIri, string(f.Status), f.ActivityIri)
		return err
	})
}

func scanFollow(row interface{ Scan(...any) error }) (*domain.Follow, error) {
	var f domain.Follow
	var id, status string
	if err := row.Scan(&id, &f.FollowerIri, &f.FollowedIri, &status, &f.ActivityIri, &f.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	f.Id = parsed
	f.Status = domain.FollowStatus(status)
	return &f, nil
}

func (d *DB) GetFollow(followerIri, followedIri string) (*domain.Follow, error) {
	f, err := scanFollow(d.db.QueryRow(sqlSelectFollow, followerIri, followedIri))
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("follow not found", err)
	}
	return f, err
}

func (d *DB) GetFollowByActivityIri(iri string) (*domain.Follow, error) {
	f, err := scanFollow(d.db.QueryRow(sqlSelectFollowByActivity, iri))
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("follow not found", err)
	}
	return f, err
}

func (d *DB) UpdateFollowStatus(followerIri, followedIri string, status domain.FollowStatus) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowStatus, string(status), followerIri, followedIri)
		return err
	})
}

func (d *DB) DeleteFollow(followerIri, followedIri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollow, followerIri, followedIri)
		return err
	})
}

func (d *DB) ListFollowerIris(actorIri string, page store.Page) ([]string, int, error) {
	return d.listIris(sqlSelectFollowerIrisPage, sqlCountFollowers, actorIri, page)
}

func (d *DB) ListFollowingIris(actorIri string, page store.Page) ([]string, int, error) {
	return d.listIris(sqlSelectFollowingIrisPage, sqlCountFollowing, actorIri, page)
}

func (d *DB) listIris(pageQuery, countQuery, key string, page store.Page) ([]string, int, error) {
	var total int
	if err := d.db.QueryRow(countQuery, key).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(page)
	rows, err := d.db.Query(pageQuery, key, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var iri string
		if err := rows.Scan(&iri); err != nil {
			return nil, 0, err
		}
		out = append(out, iri)
	}
	return out, total, rows.Err()
}

func pageBounds(p store.Page) (limit, offset int) {
	if p.PerPage <= 0 {
		p.PerPage = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p.PerPage, (p.Page - 1) * p.PerPage
}

// --- Likes ---

const (
	sqlUpsertLike        = `INSERT INTO likes(id, liker_iri, liked_object_iri, activity_iri) VALUES (?, ?, ?, ?) ON CONFLICT(liker_iri, liked_object_iri) DO NOTHING`
	sqlSelectLike        = `SELECT id, liker_iri, liked_object_iri, activity_iri, created_at FROM likes WHERE liker_iri = ? AND liked_object_iri = ?`
	sqlDeleteLike        = `DELETE FROM likes WHERE liker_iri = ? AND liked_object_iri = ?`
	sqlSelectLikedPage   = `SELECT liked_object_iri FROM likes WHERE liker_iri = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountLiked        = `SELECT COUNT(*) FROM likes WHERE liker_iri = ?`
)

func (d *DB) UpsertLike(l *domain.Like) error {
	if l.Id == uuid.Nil {
		l.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertLike, l.Id.String(), l.LikerIri, l.LikedObjectIri, l.ActivityIri)
		return err
	})
}

func (d *DB) GetLike(likerIri, likedObjectIri string) (*domain.Like, error) {
	var l domain.Like
	var id string
	err := d.db.QueryRow(sqlSelectLike, likerIri, likedObjectIri).Scan(&id, &l.LikerIri, &l.LikedObjectIri, &l.ActivityIri, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("like not found", err)
	}
	if err != nil {
		return nil, err
	}
	l.Id, err = uuid.Parse(id)
	return &l, err
}

func (d *DB) DeleteLike(likerIri, likedObjectIri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLike, likerIri, likedObjectIri)
		return err
	})
}

func (d *DB) ListLikedIris(actorIri string, page store.Page) ([]string, int, error) {
	return d.listIris(sqlSelectLikedPage, sqlCountLiked, actorIri, page)
}

// --- Blocks ---

const (
	sqlUpsertBlock = `INSERT INTO blocks(id, blocker_iri, blocked_iri, activity_iri) VALUES (?, ?, ?, ?) ON CONFLICT(blocker_iri, blocked_iri) DO NOTHING`
	sqlSelectBlock = `SELECT id, blocker_iri, blocked_iri, activity_iri, created_at FROM blocks WHERE blocker_iri = ? AND blocked_iri = ?`
	sqlDeleteBlock = `DELETE FROM blocks WHERE blocker_iri = ? AND blocked_iri = ?`
)

func (d *DB) UpsertBlock(b *domain.Block) error {
	if b.Id == uuid.Nil {
		b.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertBlock, b.Id.String(), b.BlockerIri, b.BlockedIri, b.ActivityIri)
		return err
	})
}

func (d *DB) GetBlock(blockerIri, blockedIri string) (*domain.Block, error) {
	var b domain.Block
	var id string
	err := d.db.QueryRow(sqlSelectBlock, blockerIri, blockedIri).Scan(&id, &b.BlockerIri, &b.BlockedIri, &b.ActivityIri, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("block not found", err)
	}
	if err != nil {
		return nil, err
	}
	b.Id, err = uuid.Parse(id)
	return &b, err
}

func (d *DB) DeleteBlock(blockerIri, blockedIri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBlock, blockerIri, blockedIri)
		return err
	})
}

// --- Content objects ---

const (
	sqlUpsertContentObject = `INSERT INTO content_objects(id, iri, type, attributed_to_iri, in_reply_to_iri, raw, activitypub_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(iri) DO UPDATE SET
			type = excluded.type,
			raw = excluded.raw,
			activitypub_updated_at = excluded.activitypub_updated_at`

	sqlSelectContentObjectByIri = `SELECT id, iri, type, attributed_to_iri, in_reply_to_iri, raw, activitypub_updated_at, created_at, deleted_at FROM content_objects WHERE iri = ?`
	sqlSoftDeleteContentObject  = `UPDATE content_objects SET deleted_at = CURRENT_TIMESTAMP WHERE iri = ?`
	sqlSelectOutboxPage         = `SELECT iri FROM content_objects WHERE attributed_to_iri = ? AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountOutbox              = `SELECT COUNT(*) FROM content_objects WHERE attributed_to_iri = ? AND deleted_at IS NULL`
)

func (d *DB) UpsertContentObject(c *domain.ContentObject) error {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertContentObject, c.Id.String(), c.Iri, c.Type, c.AttributedToIri, c.InReplyToIri, c.Raw, c.ActivityPubUpdatedAt)
		return err
	})
}

func (d *DB) GetContentObjectByIri(iri string) (*domain.ContentObject, error) {
	var c domain.ContentObject
	var id string
	var updatedAt, deletedAt sql.NullTime

	err := d.db.QueryRow(sqlSelectContentObjectByIri, iri).Scan(
		&id, &c.Iri, &c.Type, &c.AttributedToIri, &c.InReplyToIri, &c.Raw, &updatedAt, &c.CreatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("content object not found", err)
	}
	if err != nil {
		return nil, err
	}
	c.Id, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		c.ActivityPubUpdatedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	return &c, nil
}

func (d *DB) SoftDeleteContentObject(iri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlSoftDeleteContentObject, iri)
		return err
	})
}

func (d *DB) ListOutboxIris(actorIri string, page store.Page) ([]string, int, error) {
	return d.listIris(sqlSelectOutboxPage, sqlCountOutbox, actorIri, page)
}

// ListInboxIris returns the IRIs of activities delivered to actorIri
// (recorded per-recipient at dispatch time), newest first.
func (d *DB) ListInboxIris(actorIri string, page store.Page) ([]string, int, error) {
	const q = `SELECT a.iri FROM activities a
		JOIN activity_recipients r ON r.activity_iri = a.iri
		WHERE r.recipient_iri = ? AND a.deleted_at IS NULL
		ORDER BY a.created_at DESC LIMIT ? OFFSET ?`
	const c = `SELECT COUNT(*) FROM activities a
		JOIN activity_recipients r ON r.activity_iri = a.iri
		WHERE r.recipient_iri = ? AND a.deleted_at IS NULL`
	return d.listIris(q, c, actorIri, page)
}

// --- Move ---

func (d *DB) MoveActor(oldIri, newIri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		stmts := []struct {
			query string
			args  []any
		}{
			{`UPDATE actors SET iri = ? WHERE iri = ?`, []any{newIri, oldIri}},
			{`UPDATE activities SET actor_iri = ? WHERE actor_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE activities SET object_iri = ? WHERE object_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE activities SET in_reply_to_iri = ? WHERE in_reply_to_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE OR IGNORE activity_recipients SET recipient_iri = ? WHERE recipient_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE content_objects SET attributed_to_iri = ? WHERE attributed_to_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE content_objects SET in_reply_to_iri = ? WHERE in_reply_to_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE follows SET follower_iri = ? WHERE follower_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE follows SET followed_iri = ? WHERE followed_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE likes SET liker_iri = ? WHERE liker_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE likes SET liked_object_iri = ? WHERE liked_object_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE blocks SET blocker_iri = ? WHERE blocker_iri = ?`, []any{newIri, oldIri}},
			{`UPDATE blocks SET blocked_iri = ? WHERE blocked_iri = ?`, []any{newIri, oldIri}},
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s.query, s.args...); err != nil {
				return fmt.Errorf("move actor: %w", err)
			}
		}
		return nil
	})
}

// --- Relays ---

const (
	sqlUpsertRelay     = `INSERT INTO relays(id, iri, inbox_iri, status) VALUES (?, ?, ?, ?) ON CONFLICT(iri) DO UPDATE SET inbox_iri = excluded.inbox_iri, status = excluded.status`
	sqlSelectRelay     = `SELECT id, iri, inbox_iri, status, created_at FROM relays WHERE iri = ?`
	sqlUpdateRelayStat = `UPDATE relays SET status = ? WHERE iri = ?`
	sqlDeleteRelay     = `DELETE FROM relays WHERE iri = ?`

	sqlSelectAcceptedRelayInboxes = `SELECT inbox_iri FROM relays WHERE status = 'accepted' AND inbox_iri != ''`
)

func (d *DB) UpsertRelay(r *domain.Relay) error {
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRelay, r.Id.String(), r.Iri, r.InboxIri, string(r.Status))
		return err
	})
}

func (d *DB) GetRelayByIri(iri string) (*domain.Relay, error) {
	var r domain.Relay
	var id, status string
	err := d.db.QueryRow(sqlSelectRelay, iri).Scan(&id, &r.Iri, &r.InboxIri, &status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apforgeerr.NotFound("relay not found", err)
	}
	if err != nil {
		return nil, err
	}
	r.Id, err = uuid.Parse(id)
	r.Status = domain.RelayStatus(status)
	return &r, err
}

func (d *DB) UpdateRelayStatus(iri string, status domain.RelayStatus) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRelayStat, string(status), iri)
		return err
	})
}

func (d *DB) DeleteRelay(iri string) error {
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRelay, iri)
		return err
	})
}

func (d *DB) ListAcceptedRelayInboxes() ([]string, error) {
	rows, err := d.db.Query(sqlSelectAcceptedRelayInboxes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		out = append(out, inbox)
	}
	return out, rows.Err()
}

// --- Delivery records ---

const (
	sqlUpsertDelivery = `INSERT INTO delivery_records(id, job_id, target_inbox, attempts, last_error, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(job_id, target_inbox) DO UPDATE SET
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP`

	sqlSelectFailedDeliveries = `SELECT id, job_id, target_inbox, attempts, last_error, status, created_at, updated_at
		FROM delivery_records WHERE status = 'failed' ORDER BY updated_at DESC LIMIT ?`
)

func (d *DB) RecordDeliveryAttempt(rec *domain.DeliveryRecord) error {
	if rec.Id == uuid.Nil {
		rec.Id = uuid.New()
	}
	return d.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertDelivery, rec.Id.String(), rec.JobId, rec.TargetInbox, rec.Attempts, rec.LastError, string(rec.Status))
		return err
	})
}

func (d *DB) ListFailedDeliveries(limit int) ([]domain.DeliveryRecord, error) {
	rows, err := d.db.Query(sqlSelectFailedDeliveries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		var id, status string
		if err := rows.Scan(&id, &rec.JobId, &rec.TargetInbox, &rec.Attempts, &rec.LastError, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Id, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		rec.Status = domain.DeliveryStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
