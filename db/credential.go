package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockTimeout bounds how long a write waits for another process.
const lockTimeout = 2 * time.Second

// ErrLockTimeout is returned when the credential lock could not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for the credential lock")

// Credential is the persisted access/refresh pair. There is at most one row.
type Credential struct {
	ID           uint   `gorm:"primaryKey"`
	AccessToken  string `gorm:"not null"`
	RefreshToken string `gorm:"not null"`
	UpdatedAt    time.Time
}

// CredentialRepository persists the credential pair.
type CredentialRepository interface {
	Get(ctx context.Context) (*Credential, error)
	Upsert(ctx context.Context, c *Credential) error
	Clear(ctx context.Context) error
}

type gormCredentialRepo struct {
	db       *gorm.DB
	lockPath string
}

// NewCredentialRepository creates a CredentialRepository. Writes are
// serialized across processes through a file lock at lockPath; an empty
// lockPath disables locking.
func NewCredentialRepository(db *gorm.DB, lockPath string) CredentialRepository {
	return &gormCredentialRepo{db: db, lockPath: lockPath}
}

func (r *gormCredentialRepo) Get(ctx context.Context) (*Credential, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var c Credential
	res := r.db.WithContext(ctx).Where("id = ?", 1).Limit(1).Find(&c)
	if res.Error != nil {
		log.Error().Err(res.Error).Msg("Failed to retrieve credentials")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &c, nil
}

// Upsert writes both tokens in one statement so a reader never sees a
// half-updated pair.
func (r *gormCredentialRepo) Upsert(ctx context.Context, c *Credential) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	if c == nil || c.AccessToken == "" || c.RefreshToken == "" {
		return fmt.Errorf("credential pair is incomplete")
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	c.ID = 1
	c.UpdatedAt = time.Now().UTC()
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		log.Error().Err(err).Msg("Failed to store credentials")
		return err
	}
	log.Debug().Msg("Credentials stored")
	return nil
}

func (r *gormCredentialRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Credential{}).Error; err != nil {
		log.Error().Err(err).Msg("Failed to clear credentials")
		return err
	}
	log.Debug().Msg("Credentials cleared")
	return nil
}

func (r *gormCredentialRepo) lock(ctx context.Context) (func(), error) {
	if r.lockPath == "" {
		return func() {}, nil
	}

	fl := flock.New(r.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("failed to lock %s: %w", r.lockPath, err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warn().Err(err).Msg("Failed to release the credential lock")
		}
	}, nil
}
