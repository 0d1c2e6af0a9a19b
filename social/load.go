package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/flock/internal/keys"
	"github.com/jacentio/flock/store"
)

// LoadProfile reads a profile, returning ErrUserNotFound if it is missing.
func LoadProfile(ctx context.Context, s store.Store, userID string) (*Profile, error) {
	item, err := s.Get(ctx, keys.Profile(userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w %q", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	var p Profile
	if err := FromItem(item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPost reads a post, returning ErrPostNotFound if it is missing.
func LoadPost(ctx context.Context, s store.Store, postID string) (*Post, error) {
	item, err := s.Get(ctx, keys.Post(postID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w %q", ErrPostNotFound, postID)
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", postID, err)
	}
	var p Post
	if err := FromItem(item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
