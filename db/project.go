package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Project is a cached entry of the user's project list.
type Project struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"index" json:"name"`
	PublicCode string    `gorm:"index" json:"public_code"`
	Role       string    `json:"role"`
	IsOwner    bool      `json:"is_owner"`
	Created    string    `json:"created_at"`
	SyncedAt   time.Time `json:"synced_at"`
}

// ProjectRepository is the local project cache used for offline search.
type ProjectRepository interface {
	ReplaceAll(ctx context.Context, projects []Project) error
	GetByID(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]Project, error)
	Search(ctx context.Context, text string) ([]Project, error)
	Clear(ctx context.Context) error
}

type gormProjectRepo struct{ db *gorm.DB }

// NewProjectRepository creates a ProjectRepository.
func NewProjectRepository(db *gorm.DB) ProjectRepository { return &gormProjectRepo{db: db} }

// ReplaceAll swaps the whole cache in one transaction.
func (r *gormProjectRepo) ReplaceAll(ctx context.Context, projects []Project) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Project{}).Error; err != nil {
			return err
		}
		if len(projects) == 0 {
			return nil
		}
		for i := range projects {
			projects[i].SyncedAt = now
		}
		return tx.Create(&projects).Error
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh the project cache")
		return err
	}
	log.Info().Int("count", len(projects)).Msg("Project cache refreshed")
	return nil
}

func (r *gormProjectRepo) GetByID(ctx context.Context, id string) (*Project, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var p Project
	res := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&p)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *gormProjectRepo) List(ctx context.Context) ([]Project, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var projects []Project
	if err := r.db.WithContext(ctx).Order("name").Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// Search matches text against the project name or public code.
func (r *gormProjectRepo) Search(ctx context.Context, text string) ([]Project, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	like := "%" + text + "%"
	var projects []Project
	if err := r.db.WithContext(ctx).Where("name LIKE ? OR public_code LIKE ?", like, like).Order("name").Find(&projects).Error; err != nil {
		log.Error().Err(err).Msgf("Failed to search projects: %s", text)
		return nil, err
	}
	return projects, nil
}

func (r *gormProjectRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Project{}).Error
}
