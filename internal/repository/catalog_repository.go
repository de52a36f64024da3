package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

// CatalogRepository reads the teacher and package records owned by the administration layer.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindTeacher loads the scheduling view of a teacher.
func (r *CatalogRepository) FindTeacher(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error) {
	const query = `SELECT id, hourly_rate, is_active FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := sqlx.GetContext(ctx, r.exec(exec), &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// FindPackage loads a subscription package.
func (r *CatalogRepository) FindPackage(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Package, error) {
	const query = `SELECT id, name, price, currency, is_active FROM packages WHERE id = $1`
	var pkg models.Package
	if err := sqlx.GetContext(ctx, r.exec(exec), &pkg, query, id); err != nil {
		return nil, err
	}
	return &pkg, nil
}
