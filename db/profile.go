package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Profile is the identity snapshot of the logged-in user.
type Profile struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     int       `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// ProfileRepository persists the single profile row.
type ProfileRepository interface {
	Get(ctx context.Context) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	Clear(ctx context.Context) error
}

type gormProfileRepo struct{ db *gorm.DB }

// NewProfileRepository creates a ProfileRepository.
func NewProfileRepository(db *gorm.DB) ProfileRepository { return &gormProfileRepo{db: db} }

func (r *gormProfileRepo) Get(ctx context.Context) (*Profile, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var p Profile
	res := r.db.WithContext(ctx).Where("id = ?", 1).Limit(1).Find(&p)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *gormProfileRepo) Upsert(ctx context.Context, p *Profile) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	p.ID = 1
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(p).Error
}

func (r *gormProfileRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Profile{}).Error
}
