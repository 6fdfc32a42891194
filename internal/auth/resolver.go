package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

const defaultScopeTable = "access_scopes"

// ScopeResolver maps a validated identity to the entities it may view.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, claims *Claims) (Scope, error)
}

// ClaimsScopeResolver reads the scope embedded in the token. Admins without
// an explicit scope see everything.
type ClaimsScopeResolver struct{}

// ResolveScope implements ScopeResolver.
func (ClaimsScopeResolver) ResolveScope(_ context.Context, claims *Claims) (Scope, error) {
	if claims == nil {
		return Scope{}, errors.New("claims scope: nil claims")
	}
	if claims.Scope != nil {
		return *claims.Scope, nil
	}
	if role, _ := NormalizeRole(claims.Role); role == RoleAdmin {
		return Unrestricted(), nil
	}
	return Scope{}, nil
}

// Querier is the subset of *sql.DB used by the postgres resolver.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresScopeResolver loads grants from a table of (subject, level, entity_id)
// rows. A sector grant yields an unrestricted scope.
type PostgresScopeResolver struct {
	db    Querier
	table string
}

// ScopeResolverOption configures the postgres resolver.
type ScopeResolverOption func(*PostgresScopeResolver)

// WithScopeTable overrides the grants table name.
func WithScopeTable(table string) ScopeResolverOption {
	return func(r *PostgresScopeResolver) {
		if r != nil && table != "" {
			r.table = table
		}
	}
}

// NewPostgresScopeResolver constructs the resolver.
func NewPostgresScopeResolver(db Querier, opts ...ScopeResolverOption) (*PostgresScopeResolver, error) {
	if db == nil {
		return nil, errors.New("postgres scope resolver: nil db")
	}
	resolver := &PostgresScopeResolver{db: db, table: defaultScopeTable}
	for _, opt := range opts {
		opt(resolver)
	}
	return resolver, nil
}

// ResolveScope implements ScopeResolver.
func (r *PostgresScopeResolver) ResolveScope(ctx context.Context, claims *Claims) (Scope, error) {
	if claims == nil {
		return Scope{}, errors.New("postgres scope resolver: nil claims")
	}
	if role, _ := NormalizeRole(claims.Role); role == RoleAdmin {
		return Unrestricted(), nil
	}

	query := fmt.Sprintf(`SELECT level, entity_id FROM %s WHERE subject = $1 ORDER BY level, entity_id`, r.table)
	rows, err := r.db.QueryContext(ctx, query, claims.Subject)
	if err != nil {
		return Scope{}, err
	}
	defer rows.Close()

	var scope Scope
	for rows.Next() {
		var level, entityID string
		if err := rows.Scan(&level, &entityID); err != nil {
			return Scope{}, err
		}
		parsed, err := hierarchy.ParseLevel(level)
		if err != nil {
			continue
		}
		switch parsed {
		case hierarchy.LevelSector:
			scope.All = true
		case hierarchy.LevelState:
			scope.States = append(scope.States, entityID)
		case hierarchy.LevelPlant:
			scope.Plants = append(scope.Plants, entityID)
		case hierarchy.LevelEquipment:
			scope.Equipment = append(scope.Equipment, entityID)
		}
	}
	if err := rows.Err(); err != nil {
		return Scope{}, err
	}
	return scope, nil
}
