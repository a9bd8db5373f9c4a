// Package gormstore stores loan applications through gorm. MySQL is the
// production dialect; sqlite is used in tests and local runs.
package gormstore

import (
	"context"
	"errors"

	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct{ db *gorm.DB }

var _ repository.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// AutoMigrate creates or updates the loan_applications table.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.LoanApplication{})
}

func (s *Store) Create(ctx context.Context, app *models.LoanApplication) error {
	return s.db.WithContext(ctx).Create(app).Error
}

func (s *Store) Save(ctx context.Context, app *models.LoanApplication) error {
	res := s.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("id = ?", app.ID).
		Select("*").
		Updates(app)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when nothing changed.
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.LoanApplication{}).Where("id = ?", app.ID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.LoanApplication, error) {
	return first(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) FindByProcessInstanceID(ctx context.Context, processRef string) (*models.LoanApplication, error) {
	return first(s.db.WithContext(ctx).Where("process_instance_id = ?", processRef))
}

func (s *Store) FindByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.LoanApplication, error) {
	out := []*models.LoanApplication{}
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("submission_date, id").
		Find(&out).Error
	return out, err
}

func (s *Store) FindAll(ctx context.Context) ([]*models.LoanApplication, error) {
	out := []*models.LoanApplication{}
	err := s.db.WithContext(ctx).Order("submission_date, id").Find(&out).Error
	return out, err
}

func (s *Store) WithinTx(ctx context.Context, fn func(repo repository.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) WithinApplicationTx(ctx context.Context, id string, fn func(repo repository.Repository, app *models.LoanApplication) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// lock the application row up-front to serialize transitions
		app, err := first(lockForUpdate(tx).Where("id = ?", id))
		if err != nil {
			return err
		}
		return fn(&Store{db: tx}, app)
	})
}

// lockForUpdate adds FOR UPDATE where the dialect supports it. sqlite
// serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func first(q *gorm.DB) (*models.LoanApplication, error) {
	var out models.LoanApplication
	err := q.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
