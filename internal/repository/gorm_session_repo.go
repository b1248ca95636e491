package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/pkg/log"
)

// GormSessionRepository implements SessionRepository using GORM.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GORM-based session repository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// Create persists a new session. ID and code are assigned by the caller
// before this point.
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	l := log.Ctx(ctx)

	model := domain.SessionToModel(session)
	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Msg("failed to create session in db")
		return result.Error
	}

	session.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldSessionID, session.ID).Str(log.FieldSessionCode, session.Code).Msg("session created in db")
	return nil
}

// GetByID retrieves a session by ID.
func (r *GormSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	l := log.Ctx(ctx)

	var model domain.SessionModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldSessionID, id).Msg("failed to get session by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByCode retrieves a session by its canonicalized join code.
func (r *GormSessionRepository) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	l := log.Ctx(ctx)

	var model domain.SessionModel
	result := r.db.WithContext(ctx).First(&model, "code = ?", code)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldSessionCode, code).Msg("failed to get session by code")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// UpdatePlayback writes the shared playback state. Unconditional
// last-write-wins; concurrent participant writes race and the design accepts
// eventual convergence.
func (r *GormSessionRepository) UpdatePlayback(ctx context.Context, id string, playbackTime float64, isPlaying bool) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"playback_time": playbackTime,
			"is_playing":    isPlaying,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldSessionID, id).Msg("failed to update playback state in db")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AdjustParticipants changes the participant count by delta and returns the
// new count. The relative SQL expression avoids the lost-update race of a
// read-then-write. The result can momentarily go negative under racing
// leaves; callers treat anything <= 0 as empty.
func (r *GormSessionRepository) AdjustParticipants(ctx context.Context, id string, delta int) (int, error) {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.SessionModel{}).
		Where("id = ?", id).
		Update("participants", gorm.Expr("participants + ?", delta))
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldSessionID, id).Msg("failed to adjust participant count in db")
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrSessionNotFound
	}

	var model domain.SessionModel
	if err := r.db.WithContext(ctx).Select("participants").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}
	return model.Participants, nil
}

// Delete removes a session.
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Delete(&domain.SessionModel{}, "id = ?", id)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldSessionID, id).Msg("failed to delete session from db")
		return result.Error
	}
	l.Debug().Str(log.FieldSessionID, id).Msg("session deleted from db")
	return nil
}

// DeleteExpired removes all sessions created before cutoff, independent of
// participant count.
func (r *GormSessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Delete(&domain.SessionModel{}, "created_at < ?", cutoff)
	if result.Error != nil {
		l.Error().Err(result.Error).Time("cutoff", cutoff).Msg("failed to delete expired sessions")
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

var _ SessionRepository = (*GormSessionRepository)(nil)
