package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chai-vision/chai-vision/internal/shared"
)

// ErrInvalidUser indicates a non-positive user id.
var ErrInvalidUser = errors.New("rbac: invalid user")

// Service resolves permissions and data scopes for users.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EffectivePermissions returns deduplicated, lower-cased permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	rows, err := s.repo.UserPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions: %w", err)
	}
	return normalizePermissions(rows), nil
}

// Scope resolves the brands and channels a user may see. Holders of
// shared.PermDataAll receive the full universe and are marked unrestricted.
func (s *Service) Scope(ctx context.Context, userID int64) (Scope, error) {
	access, err := s.Access(ctx, userID)
	if err != nil {
		return Scope{}, err
	}
	return access.Scope, nil
}

// Access resolves permissions and scope together.
func (s *Service) Access(ctx context.Context, userID int64) (Access, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	access := Access{UserID: userID, Permissions: perms}
	access.Scope.Unrestricted = hasAnyPermission(perms, []string{shared.PermDataAll})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if access.Scope.Unrestricted {
			access.Scope.Brands, err = s.repo.AllBrands(gctx)
		} else {
			access.Scope.Brands, err = s.repo.UserBrands(gctx, userID)
		}
		if err != nil {
			return fmt.Errorf("rbac: brands: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if access.Scope.Unrestricted {
			access.Scope.Channels, err = s.repo.AllChannels(gctx)
		} else {
			access.Scope.Channels, err = s.repo.UserChannels(gctx, userID)
		}
		if err != nil {
			return fmt.Errorf("rbac: channels: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Access{}, err
	}
	if access.Scope.Brands == nil {
		access.Scope.Brands = []string{}
	}
	if access.Scope.Channels == nil {
		access.Scope.Channels = []string{}
	}
	return access, nil
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
