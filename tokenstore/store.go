// Package tokenstore persists provider grants in SQLite so silent restore
// survives application restarts. Token material is encrypted at rest with a
// key derived from the application secret.
package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/clinicore/go-session/provider"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Config for the persistent grant store.
type Config struct {
	// Secret is the application secret the at-rest encryption key derives
	// from. Must be at least 16 bytes.
	Secret []byte

	// Salt feeds the key derivation. It can be public but should be stable
	// per installation.
	Salt []byte
}

// Store is a provider.GrantStore backed by bun over SQLite.
type Store struct {
	db     *bun.DB
	repo   repository.Repository[*GrantRecord]
	sealer *sealer
}

var _ provider.GrantStore = (*Store)(nil)

// OpenSQLite opens (creating if needed) the SQLite database at dsn and
// returns a ready bun handle.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open grant database")
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// New creates a Store over db.
func New(db *bun.DB, cfg Config) (*Store, error) {
	s, err := newSealer(cfg.Secret, cfg.Salt)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid token store configuration")
	}

	repo := repository.NewRepository[*GrantRecord](db, repository.ModelHandlers[*GrantRecord]{
		NewRecord: func() *GrantRecord { return &GrantRecord{} },
		GetID: func(r *GrantRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *GrantRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &Store{db: db, repo: repo, sealer: s}, nil
}

// Migrate creates the grants table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*GrantRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to migrate grant store")
	}
	return nil
}

// Save implements provider.GrantStore. Saving a grant for a provider that
// already has one replaces it.
func (s *Store) Save(ctx context.Context, grant *provider.Grant) error {
	if grant == nil || grant.Provider == "" {
		return goerrors.New("grant requires a provider", goerrors.CategoryBadInput)
	}

	payload := sealedPayload{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	}
	if !grant.ExpiresAt.IsZero() {
		payload.ExpiresAt = grant.ExpiresAt.Unix()
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode grant")
	}

	sealed, err := s.sealer.seal(plaintext)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to seal grant")
	}

	record := &GrantRecord{
		ID:       recordID(grant.Provider),
		Provider: string(grant.Provider),
		Subject:  grant.Subject,
		Email:    grant.Email,
		Sealed:   sealed,
	}
	if !grant.ExpiresAt.IsZero() {
		exp := grant.ExpiresAt
		record.ExpiresAt = &exp
	}

	existing, err := s.find(ctx, grant.Provider)
	if err != nil && !repository.IsRecordNotFound(err) {
		return err
	}
	if existing != nil {
		record.ID = existing.ID
		now := time.Now()
		record.UpdatedAt = &now
		_, err = s.repo.UpdateTx(ctx, s.db, record, repository.UpdateByID(record.ID.String()))
		return err
	}

	_, err = s.repo.CreateTx(ctx, s.db, record)
	return err
}

// Find implements provider.GrantStore.
func (s *Store) Find(ctx context.Context, kind provider.Kind) (*provider.Grant, error) {
	record, err := s.find(ctx, kind)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, provider.ErrGrantNotFound.Clone().
				WithMetadata(map[string]any{"provider": string(kind)})
		}
		return nil, err
	}

	plaintext, err := s.sealer.open(record.Sealed)
	if err != nil {
		// an unreadable row is as good as no row, drop it
		_ = s.Delete(ctx, kind)
		return nil, provider.ErrGrantNotFound.Clone().
			WithMetadata(map[string]any{"provider": string(kind), "reason": "sealed payload unreadable"})
	}

	var payload sealedPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode grant")
	}

	grant := &provider.Grant{
		Provider:     kind,
		Subject:      record.Subject,
		Email:        record.Email,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresAt > 0 {
		grant.ExpiresAt = time.Unix(payload.ExpiresAt, 0)
	}

	return grant, nil
}

// Delete implements provider.GrantStore.
func (s *Store) Delete(ctx context.Context, kind provider.Kind) error {
	_, err := s.db.NewDelete().
		Model((*GrantRecord)(nil)).
		Where("?TableAlias.provider = ?", string(kind)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete grant")
	}
	return nil
}

func (s *Store) find(ctx context.Context, kind provider.Kind) (*GrantRecord, error) {
	record := &GrantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", string(kind)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"provider": string(kind)})
		}
		return nil, err
	}
	return record, nil
}

// recordID derives a stable id from the provider kind so repeated saves hit
// the same row.
func recordID(kind provider.Kind) uuid.UUID {
	if id, err := hashid.NewUUID("grant:" + string(kind)); err == nil {
		return id
	}
	return uuid.New()
}
