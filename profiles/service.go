// Package profiles creates and reads user profiles. Usernames are globally
// unique: a claim item per lowercased username is written in the same
// transaction as the profile.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jacentio/flock/internal/keys"
	"github.com/jacentio/flock/social"
	"github.com/jacentio/flock/store"
)

// NewProfile holds the caller-supplied fields of a profile.
type NewProfile struct {
	UserID      string
	Username    string
	DisplayName string
	Bio         string
	Avatar      string
	IsVerified  bool
	IsPrivate   bool
}

// Service owns profile creation and lookup.
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a profile service. A nil logger means no logging.
func NewService(s store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger, now: time.Now}
}

// CreateProfile stores a new profile with zeroed counters.
func (s *Service) CreateProfile(ctx context.Context, in NewProfile) (*social.Profile, error) {
	if in.UserID == "" {
		return nil, social.ErrMissingID
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, social.ErrMissingHandle
	}
	displayName := in.DisplayName
	if displayName == "" {
		displayName = username
	}

	key := keys.Profile(in.UserID)
	profile := social.Profile{
		PK:          key.PK,
		SK:          key.SK,
		UserID:      in.UserID,
		Username:    username,
		DisplayName: displayName,
		Bio:         in.Bio,
		Avatar:      in.Avatar,
		IsVerified:  in.IsVerified,
		IsPrivate:   in.IsPrivate,
		CreatedAt:   s.now().UTC(),
	}
	profileItem, err := social.ToItem(profile)
	if err != nil {
		return nil, err
	}

	claimKey := keys.Username(username)
	claimItem, err := social.ToItem(social.UsernameClaim{
		PK:       claimKey.PK,
		SK:       claimKey.SK,
		UserID:   in.UserID,
		Username: username,
	})
	if err != nil {
		return nil, err
	}

	err = s.store.Transact(ctx, []store.Op{
		store.Put(profileItem, store.IfNotExists),
		store.Put(claimItem, store.IfNotExists),
	})
	switch store.FailedOpIndex(err) {
	case -1:
		if err != nil {
			return nil, fmt.Errorf("create profile %s: %w", in.UserID, err)
		}
	case 0:
		return nil, fmt.Errorf("create profile %s: %w", in.UserID, social.ErrProfileExists)
	default:
		return nil, fmt.Errorf("create profile %s: %w %q", in.UserID, social.ErrUsernameTaken, username)
	}

	s.logger.Info("profile created",
		zap.String("userId", in.UserID),
		zap.String("username", username),
	)
	return &profile, nil
}

// GetProfile reads a profile by user id.
func (s *Service) GetProfile(ctx context.Context, userID string) (*social.Profile, error) {
	if userID == "" {
		return nil, social.ErrMissingID
	}
	return social.LoadProfile(ctx, s.store, userID)
}

// GetProfileByUsername resolves a username through its claim item.
func (s *Service) GetProfileByUsername(ctx context.Context, username string) (*social.Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, social.ErrMissingHandle
	}
	item, err := s.store.Get(ctx, keys.Username(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: username %q", social.ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get username %s: %w", username, err)
	}
	var claim social.UsernameClaim
	if err := social.FromItem(item, &claim); err != nil {
		return nil, err
	}
	return social.LoadProfile(ctx, s.store, claim.UserID)
}
