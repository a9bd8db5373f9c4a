// Package repository defines storage for loan application records. Two
// backends exist: postgres (database/sql + lib/pq) and gormstore (gorm, MySQL
// in production).
package repository

import (
	"context"
	"errors"

	"loan-lifecycle/internal/models"
)

// ErrNotFound is returned when no application matches the lookup.
var ErrNotFound = errors.New("loan application not found")

type Repository interface {
	Create(ctx context.Context, app *models.LoanApplication) error
	Save(ctx context.Context, app *models.LoanApplication) error
	FindByID(ctx context.Context, id string) (*models.LoanApplication, error)
	FindByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.LoanApplication, error)
	FindAll(ctx context.Context) ([]*models.LoanApplication, error)
	FindByProcessInstanceID(ctx context.Context, processRef string) (*models.LoanApplication, error)
}

// UnitOfWork runs fn inside one database transaction. Returning an error from
// fn rolls back every write made through the repository it was handed.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
	// WithinApplicationTx loads the application with a row lock before calling
	// fn. ErrNotFound is returned without calling fn when the id is unknown.
	WithinApplicationTx(ctx context.Context, id string, fn func(repo Repository, app *models.LoanApplication) error) error
}

// Store is a repository that can also open transactions.
type Store interface {
	Repository
	UnitOfWork
}
