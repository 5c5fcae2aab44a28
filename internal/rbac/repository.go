package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/chai-vision/chai-vision/internal/platform/db"
)

// Repository reads role grants.
type Repository interface {
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	UserBrands(ctx context.Context, userID int64) ([]string, error)
	UserChannels(ctx context.Context, userID int64) ([]string, error)
	AllBrands(ctx context.Context) ([]string, error)
	AllChannels(ctx context.Context) ([]string, error)
}

type pgRepository struct {
	db db.DBTX
}

// NewRepository builds a Postgres backed Repository.
func NewRepository(conn db.DBTX) Repository {
	return &pgRepository{db: conn}
}

const (
	userPermissionsSQL = `SELECT DISTINCT rp.permission
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
WHERE ur.user_id = $1
ORDER BY rp.permission`

	userBrandsSQL = `SELECT DISTINCT b.name
FROM user_roles ur
JOIN role_brand_access rba ON rba.role_id = ur.role_id
JOIN brands b ON b.key = rba.brand_key
WHERE ur.user_id = $1
ORDER BY b.name`

	userChannelsSQL = `SELECT DISTINCT c.name
FROM user_roles ur
JOIN role_channel_access rca ON rca.role_id = ur.role_id
JOIN channels c ON c.key = rca.channel_key
WHERE ur.user_id = $1
ORDER BY c.name`

	allBrandsSQL   = `SELECT name FROM brands ORDER BY name`
	allChannelsSQL = `SELECT name FROM channels ORDER BY name`
)

func (r *pgRepository) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	return r.strings(ctx, userPermissionsSQL, userID)
}

func (r *pgRepository) UserBrands(ctx context.Context, userID int64) ([]string, error) {
	return r.strings(ctx, userBrandsSQL, userID)
}

func (r *pgRepository) UserChannels(ctx context.Context, userID int64) ([]string, error) {
	return r.strings(ctx, userChannelsSQL, userID)
}

func (r *pgRepository) AllBrands(ctx context.Context) ([]string, error) {
	return r.strings(ctx, allBrandsSQL)
}

func (r *pgRepository) AllChannels(ctx context.Context) ([]string, error) {
	return r.strings(ctx, allChannelsSQL)
}

func (r *pgRepository) strings(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
