package auth

import (
	"context"
	"errors"
	"fmt"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

// Guard checks that a scope covers an entity. The directory lookup happens
// here, before any caller takes its own locks.
type Guard struct {
	directory hierarchy.Directory
}

// NewGuard constructs a guard.
func NewGuard(directory hierarchy.Directory) (*Guard, error) {
	if directory == nil {
		return nil, errors.New("guard: nil directory")
	}
	return &Guard{directory: directory}, nil
}

// Authorize returns hierarchy.ErrNotFound for unknown entities and
// ErrForbidden when the scope does not cover the entity.
func (g *Guard) Authorize(ctx context.Context, scope Scope, level hierarchy.Level, entityID string) error {
	if level == hierarchy.LevelSector {
		if !scope.All {
			return fmt.Errorf("%w: sector view requires an unrestricted scope", ErrForbidden)
		}
		return nil
	}
	lineage, err := g.directory.Lineage(ctx, level, entityID)
	if err != nil {
		return err
	}
	if !scope.Covers(lineage) {
		return fmt.Errorf("%w: %s %s is outside the caller scope", ErrForbidden, level, entityID)
	}
	return nil
}
