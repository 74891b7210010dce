package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbt "github.com/tranz-r/quote-engine/db/db"
	"github.com/tranz-r/quote-engine/quote"
)

// GORMQuoteDBWrapper is a GORM-based PostgreSQL implementation of
// dbt.QuoteDBWrapper.
type GORMQuoteDBWrapper struct {
	db *gorm.DB
}

// NewGORMQuoteDBWrapper creates and returns a new instance of
// GORMQuoteDBWrapper.
func NewGORMQuoteDBWrapper(db *gorm.DB) dbt.QuoteDBWrapper {
	return &GORMQuoteDBWrapper{
		db: db,
	}
}

func toStored(m *QuoteModel) *dbt.StoredQuote {
	return &dbt.StoredQuote{
		ID:        m.ID,
		SessionID: m.SessionID,
		QuoteType: quote.QuoteType(m.QuoteType),
		Reference: m.Reference,
		Payload:   m.Payload,
		UpdatedAt: m.UpdatedAt,
	}
}

// EnsureSession returns the presented session when it exists, otherwise
// creates a fresh one.
func (pgdb *GORMQuoteDBWrapper) EnsureSession(presented uuid.UUID) (uuid.UUID, error) {
	if presented != uuid.Nil {
		var existing GuestSessionModel
		result := pgdb.db.First(&existing, "id = ?", presented)
		if result.Error == nil {
			return presented, nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return uuid.Nil, fmt.Errorf("failed to look up session %s: %w", presented, result.Error)
		}
	}

	session := GuestSessionModel{ID: uuid.New()}
	if result := pgdb.db.Create(&session); result.Error != nil {
		return uuid.Nil, fmt.Errorf("failed to create guest session: %w", result.Error)
	}
	return session.ID, nil
}

// GetCollection retrieves every stored quote of a session plus the
// collection version.
func (pgdb *GORMQuoteDBWrapper) GetCollection(sessionID uuid.UUID) (*dbt.Collection, error) {
	var session GuestSessionModel
	if result := pgdb.db.First(&session, "id = ?", sessionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, result.Error)
	}

	var models []QuoteModel
	if result := pgdb.db.Where("session_id = ?", sessionID).Order("quote_type").Find(&models); result.Error != nil {
		return nil, fmt.Errorf("failed to load quotes for session %s: %w", sessionID, result.Error)
	}

	out := &dbt.Collection{SessionID: sessionID, Version: session.Version}
	for i := range models {
		out.Quotes = append(out.Quotes, *toStored(&models[i]))
	}
	return out, nil
}

// GetQuote retrieves one stored quote and the current collection version.
func (pgdb *GORMQuoteDBWrapper) GetQuote(sessionID uuid.UUID, t quote.QuoteType) (*dbt.StoredQuote, int64, error) {
	var session GuestSessionModel
	if result := pgdb.db.First(&session, "id = ?", sessionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, 0, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
		}
		return nil, 0, fmt.Errorf("failed to load session %s: %w", sessionID, result.Error)
	}

	var model QuoteModel
	result := pgdb.db.Where("session_id = ? AND quote_type = ?", sessionID, string(t)).First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, session.Version, fmt.Errorf("quote %s/%s: %w", sessionID, t, dbt.ErrQuoteNotFound)
		}
		return nil, 0, fmt.Errorf("failed to load quote %s/%s: %w", sessionID, t, result.Error)
	}
	return toStored(&model), session.Version, nil
}

// CreateQuote installs a fresh quote inside a transaction, bumping the
// collection version. An occupied slot returns the existing quote
// unchanged.
func (pgdb *GORMQuoteDBWrapper) CreateQuote(sessionID uuid.UUID, q dbt.StoredQuote) (*dbt.StoredQuote, int64, error) {
	var created *dbt.StoredQuote
	var version int64

	err := pgdb.db.Transaction(func(tx *gorm.DB) error {
		var session GuestSessionModel
		if result := tx.First(&session, "id = ?", sessionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
			}
			return fmt.Errorf("failed to load session %s: %w", sessionID, result.Error)
		}

		var existing QuoteModel
		result := tx.Where("session_id = ? AND quote_type = ?", sessionID, string(q.QuoteType)).First(&existing)
		if result.Error == nil {
			created = toStored(&existing)
			version = session.Version
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check quote slot %s/%s: %w", sessionID, q.QuoteType, result.Error)
		}

		model := QuoteModel{
			ID:        q.ID,
			SessionID: sessionID,
			QuoteType: string(q.QuoteType),
			Reference: q.Reference,
			Payload:   q.Payload,
		}
		if model.ID == uuid.Nil {
			model.ID = uuid.New()
		}
		if result := tx.Create(&model); result.Error != nil {
			return fmt.Errorf("failed to create quote %s/%s: %w", sessionID, q.QuoteType, result.Error)
		}

		if err := bumpVersion(tx, sessionID, session.Version); err != nil {
			return err
		}
		created = toStored(&model)
		version = session.Version + 1
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return created, version, nil
}

// bumpVersion increments the session version with a guarded UPDATE so two
// concurrent transactions cannot both claim the same bump.
func bumpVersion(tx *gorm.DB, sessionID uuid.UUID, from int64) error {
	result := tx.Model(&GuestSessionModel{}).
		Where("id = ? AND version = ?", sessionID, from).
		Updates(map[string]any{"version": from + 1, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to bump version for session %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s moved past version %d: %w", sessionID, from, dbt.ErrVersionConflict)
	}
	return nil
}

// ReplaceQuote overwrites a quote's payload under optimistic locking.
func (pgdb *GORMQuoteDBWrapper) ReplaceQuote(sessionID uuid.UUID, q dbt.StoredQuote, expectedVersion int64) (int64, error) {
	var version int64

	err := pgdb.db.Transaction(func(tx *gorm.DB) error {
		var session GuestSessionModel
		if result := tx.First(&session, "id = ?", sessionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
			}
			return fmt.Errorf("failed to load session %s: %w", sessionID, result.Error)
		}
		if session.Version != expectedVersion {
			return fmt.Errorf("expected version %d, have %d: %w", expectedVersion, session.Version, dbt.ErrVersionConflict)
		}

		var existing QuoteModel
		result := tx.Where("session_id = ? AND quote_type = ?", sessionID, string(q.QuoteType)).First(&existing)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("quote %s/%s: %w", sessionID, q.QuoteType, dbt.ErrQuoteNotFound)
			}
			return fmt.Errorf("failed to load quote %s/%s: %w", sessionID, q.QuoteType, result.Error)
		}

		// Payload is the only caller-writable column; the reference stays.
		update := tx.Model(&existing).Updates(map[string]any{"payload": []byte(q.Payload)})
		if update.Error != nil {
			return fmt.Errorf("failed to update quote %s/%s: %w", sessionID, q.QuoteType, update.Error)
		}

		if err := bumpVersion(tx, sessionID, session.Version); err != nil {
			return err
		}
		version = session.Version + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// DeleteQuote clears one type's slot and bumps the version.
func (pgdb *GORMQuoteDBWrapper) DeleteQuote(sessionID uuid.UUID, t quote.QuoteType) (int64, error) {
	var version int64

	err := pgdb.db.Transaction(func(tx *gorm.DB) error {
		var session GuestSessionModel
		if result := tx.First(&session, "id = ?", sessionID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
			}
			return fmt.Errorf("failed to load session %s: %w", sessionID, result.Error)
		}

		result := tx.Where("session_id = ? AND quote_type = ?", sessionID, string(t)).Delete(&QuoteModel{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete quote %s/%s: %w", sessionID, t, result.Error)
		}
		if result.RowsAffected == 0 {
			// Nothing to delete; the version stays put.
			version = session.Version
			return nil
		}

		if err := bumpVersion(tx, sessionID, session.Version); err != nil {
			return err
		}
		version = session.Version + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// ListSessions returns every known session id.
func (pgdb *GORMQuoteDBWrapper) ListSessions() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if result := pgdb.db.Model(&GuestSessionModel{}).Order("created_at").Pluck("id", &ids); result.Error != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", result.Error)
	}
	return ids, nil
}

// DataLoaderGetCollections batch-loads collections for the admin listing.
func (pgdb *GORMQuoteDBWrapper) DataLoaderGetCollections(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*dbt.Collection, error) {
	if len(sessionIDs) == 0 {
		return map[uuid.UUID]*dbt.Collection{}, nil
	}

	var sessions []GuestSessionModel
	if result := pgdb.db.WithContext(ctx).Where("id IN ?", sessionIDs).Find(&sessions); result.Error != nil {
		return nil, fmt.Errorf("failed to batch-load sessions: %w", result.Error)
	}

	var models []QuoteModel
	if result := pgdb.db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Order("quote_type").Find(&models); result.Error != nil {
		return nil, fmt.Errorf("failed to batch-load quotes: %w", result.Error)
	}

	out := make(map[uuid.UUID]*dbt.Collection, len(sessions))
	for _, s := range sessions {
		out[s.ID] = &dbt.Collection{SessionID: s.ID, Version: s.Version}
	}
	for i := range models {
		if collection, ok := out[models[i].SessionID]; ok {
			collection.Quotes = append(collection.Quotes, *toStored(&models[i]))
		}
	}
	return out, nil
}
