package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/namtroi/ragbase/pkg/errors"
)

var versionSuffix = regexp.MustCompile(`^(.+) v(\d+)$`)

// ProfileRegistry is a thin adapter over the Store's profile tables (spec.md
// §4.4), enforcing snapshot-at-upload resolution, duplicate-name versioning,
// and the archive/activate/delete administrative invariants.
type ProfileRegistry struct {
	store       ProfileStore
	bus         EventBus
	versionRetry int
	group       singleflight.Group
	logger      *slog.Logger
}

// NewProfileRegistry constructs a ProfileRegistry.
func NewProfileRegistry(store ProfileStore, bus EventBus, versionRetry int, logger *slog.Logger) *ProfileRegistry {
	if versionRetry <= 0 {
		versionRetry = 100
	}
	return &ProfileRegistry{store: store, bus: bus, versionRetry: versionRetry, logger: logger.With("component", "ingest.profiles")}
}

// ActiveSnapshot resolves the currently active profile, collapsing concurrent
// callers onto a single Store round-trip (the profile rarely changes, so a
// cache stampede under concurrent uploads is wasted work, not a correctness
// issue — singleflight removes the duplication without adding staleness risk).
func (r *ProfileRegistry) ActiveSnapshot(ctx context.Context) (ProcessingProfile, error) {
	v, err, _ := r.group.Do("active", func() (any, error) {
		p, found, err := r.store.GetActiveProfile(ctx)
		if err != nil {
			return ProcessingProfile{}, err
		}
		if !found {
			return ProcessingProfile{}, apperrors.Wrap("store_unavailable", "no active processing profile configured", nil)
		}
		return p, nil
	})
	if err != nil {
		return ProcessingProfile{}, err
	}
	return v.(ProcessingProfile), nil
}

// Create duplicates a source profile under a new, versioned name if the
// requested name is already taken, per spec.md §4.4's naming rule.
func (r *ProfileRegistry) Create(ctx context.Context, p ProcessingProfile) (ProcessingProfile, error) {
	name := p.Name
	for attempt := 0; attempt < r.versionRetry; attempt++ {
		p.Name = name
		created, err := r.store.CreateProfile(ctx, p)
		if err == nil {
			return created, nil
		}
		if !apperrors.IsCode(err, "duplicate_profile_name") {
			return ProcessingProfile{}, err
		}
		name = NextVersionName(name)
	}
	return ProcessingProfile{}, apperrors.Wrap("duplicate_profile_name", "exhausted version-name retry budget", nil)
}

// NextVersionName implements spec.md §4.4's duplicate-naming rule: given
// source name N, generate "N v(k+1)" if N matches "^(.+) v(\d+)$", else "N v2".
func NextVersionName(name string) string {
	if m := versionSuffix.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return fmt.Sprintf("%s v%d", m[1], n+1)
		}
	}
	return name + " v2"
}

// Activate implements spec.md §4.4's activation invariant: reject archived targets.
func (r *ProfileRegistry) Activate(ctx context.Context, id uuid.UUID) error {
	p, found, err := r.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.Wrap("profile_not_found", "profile does not exist", nil)
	}
	if p.IsArchived {
		return apperrors.Wrap("INVALID_STATUS", "cannot activate an archived profile", nil)
	}
	return r.store.ActivateProfile(ctx, id)
}

// Archive implements spec.md §4.4: reject archiving the default or active profile.
func (r *ProfileRegistry) Archive(ctx context.Context, id uuid.UUID) error {
	p, found, err := r.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.Wrap("profile_not_found", "profile does not exist", nil)
	}
	if p.IsDefault {
		return apperrors.Wrap("INVALID_STATUS", "cannot archive the default profile", nil)
	}
	if p.IsActive {
		return apperrors.Wrap("INVALID_STATUS", "cannot archive the active profile", nil)
	}
	return r.store.SetArchived(ctx, id, true)
}

// Unarchive implements spec.md §4.4: reject unarchiving a profile that is not archived.
func (r *ProfileRegistry) Unarchive(ctx context.Context, id uuid.UUID) error {
	p, found, err := r.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.Wrap("profile_not_found", "profile does not exist", nil)
	}
	if !p.IsArchived {
		return apperrors.Wrap("INVALID_STATUS", "profile is not archived", nil)
	}
	return r.store.SetArchived(ctx, id, false)
}

// DeleteResult reports either the outcome of a delete or a confirmation request.
type DeleteResult struct {
	Deleted              bool
	RequiresConfirmation bool
	DependentCount       int
}

// Delete implements spec.md §4.4's delete lifecycle: reject unless archived,
// non-default, non-active; surface a confirmation request when dependent
// documents exist unless the caller already confirmed.
func (r *ProfileRegistry) Delete(ctx context.Context, id uuid.UUID, confirmed bool) (DeleteResult, error) {
	p, found, err := r.store.GetProfile(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if !found {
		return DeleteResult{}, apperrors.Wrap("profile_not_found", "profile does not exist", nil)
	}
	if !p.IsArchived {
		return DeleteResult{}, apperrors.Wrap("INVALID_STATUS", "profile must be archived before deletion", nil)
	}
	if p.IsDefault {
		return DeleteResult{}, apperrors.Wrap("INVALID_STATUS", "cannot delete the default profile", nil)
	}
	if p.IsActive {
		return DeleteResult{}, apperrors.Wrap("INVALID_STATUS", "cannot delete the active profile", nil)
	}

	count, err := r.store.CountDocumentsForProfile(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if count > 0 && !confirmed {
		return DeleteResult{RequiresConfirmation: true, DependentCount: count}, nil
	}

	if err := r.store.DeleteProfileCascade(ctx, id); err != nil {
		return DeleteResult{}, err
	}
	r.logger.Info("profile deleted", "profileId", id, "dependentDocuments", count)
	return DeleteResult{Deleted: true, DependentCount: count}, nil
}

// List returns profiles, optionally including archived ones.
func (r *ProfileRegistry) List(ctx context.Context, includeArchived bool) ([]ProcessingProfile, error) {
	return r.store.ListProfiles(ctx, includeArchived)
}

// Get returns a single profile by ID.
func (r *ProfileRegistry) Get(ctx context.Context, id uuid.UUID) (ProcessingProfile, bool, error) {
	return r.store.GetProfile(ctx, id)
}
