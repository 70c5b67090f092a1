package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

// Username rules: 3–20 characters, letters, digits and underscore.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// ProfileService provisions and updates user profiles.
//
// Profiles are created lazily: the first successful login only creates the
// auth user; the profile row appears when the user picks a username during
// onboarding. Username uniqueness is enforced by the backend; this service
// translates the violation into a recoverable conflict the caller resolves
// by prompting for a different name — it never auto-suffixes or retries.
type ProfileService struct {
	gw      gateway.Gateway
	logger  *slog.Logger
	timeout time.Duration
}

func NewProfileService(gw gateway.Gateway, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		gw:      gw,
		logger:  logger,
		timeout: DefaultCallTimeout,
	}
}

// GetProfile fetches the profile for userID.
// Returns apperror.ErrNotFound when the user has no profile row yet.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userID", "user ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.gw.Select(ctx, gateway.TableProfiles, gateway.Filters{"id": userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching profile %s: %w", userID, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("profile", userID)
	}
	return gateway.DecodeOne[model.Profile](rows[0])
}

// EnsureProfile is the idempotent provisioning operation: create the profile
// row for userID if absent, otherwise just (re)set the username. Called at
// the end of onboarding, and safe to call again on a retried onboarding.
//
// A username held by a DIFFERENT user is a recoverable conflict with reason
// "username_taken"; the first user's profile is never touched.
func (s *ProfileService) EnsureProfile(ctx context.Context, userID, username string) (*model.Profile, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userID", "user ID is required")
	}
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.GetProfile(ctx, userID)
	switch {
	case err == nil:
		if existing.Username == username {
			return existing, nil // nothing to do
		}
		if err := s.updateColumns(ctx, userID, map[string]any{"username": username}); err != nil {
			return nil, err
		}
	case errors.Is(err, apperror.ErrNotFound):
		row := map[string]any{
			"id":       userID,
			"username": username,
		}
		if _, err := s.gw.Insert(ctx, gateway.TableProfiles, row); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				// Either the username is taken, or our own row raced in
				// from a concurrent onboarding attempt. One re-query
				// settles it.
				own, reErr := s.GetProfile(ctx, userID)
				if reErr == nil && own.Username == username {
					return own, nil
				}
				return nil, apperror.Conflict("username_taken",
					fmt.Sprintf("username %q is already in use", username))
			}
			return nil, fmt.Errorf("service/profile: creating profile %s: %w", userID, err)
		}
	default:
		return nil, err
	}

	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/profile: re-reading profile %s: %w", userID, err)
	}

	s.logger.Info("profile provisioned",
		slog.String("userID", userID),
		slog.String("username", profile.Username),
	)
	return profile, nil
}

// UpdateProfile applies a partial update. Nil patch fields are left
// untouched server-side — absent never means "clear".
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.Profile, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userID", "user ID is required")
	}
	if patch.IsEmpty() {
		return s.GetProfile(ctx, userID)
	}

	columns := make(map[string]any, 4)
	if patch.Username != nil {
		trimmed := strings.TrimSpace(*patch.Username)
		if err := validateUsername(trimmed); err != nil {
			return nil, err
		}
		columns["username"] = trimmed
	}
	if patch.FullName != nil {
		columns["full_name"] = *patch.FullName
	}
	if patch.AvatarURL != nil {
		columns["avatar_url"] = *patch.AvatarURL
	}
	if patch.University != nil {
		columns["university"] = *patch.University
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.updateColumns(ctx, userID, columns); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *ProfileService) updateColumns(ctx context.Context, userID string, columns map[string]any) error {
	err := s.gw.Update(ctx, gateway.TableProfiles, columns, gateway.Filters{"id": userID})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return apperror.Conflict("username_taken",
				fmt.Sprintf("username %v is already in use", columns["username"]))
		}
		return fmt.Errorf("service/profile: updating profile %s: %w", userID, err)
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if !usernamePattern.MatchString(username) {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d-%d characters: letters, digits and underscore only",
				MinUsernameLength, MaxUsernameLength))
	}
	return nil
}
