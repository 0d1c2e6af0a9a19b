// Package graph implements the social graph: follow and like relationships
// and the denormalized counters that summarize them.
//
// Every mutation is one store transaction holding both projections of the
// edge plus the counter deltas, so edges and counters never diverge.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jacentio/flock/events"
	"github.com/jacentio/flock/internal/keys"
	"github.com/jacentio/flock/social"
	"github.com/jacentio/flock/store"
)

// List limits for follower, following and liked-post listings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Op positions inside edge transactions. Relationship.Link/Unlink place the
// guarded forward projection at 0 and its mirror at 1.
const (
	opEdge    = 0
	opCounter = 2 // first counter update
	opSecond  = 3 // second counter update (follow only)
)

// Manager owns follow/unfollow and like/unlike.
type Manager struct {
	store  store.Store
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager writing through s and publishing to bus.
func NewManager(s store.Store, bus events.Publisher, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		bus:    bus,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Follow records that followerID follows followedID and bumps both counters.
func (m *Manager) Follow(ctx context.Context, followerID, followedID string) (*social.Follow, error) {
	if followerID == "" || followedID == "" {
		return nil, social.ErrMissingID
	}
	if followerID == followedID {
		return nil, social.ErrSelfFollow
	}

	now := m.now().UTC()
	record := social.Follow{
		FollowerID: followerID,
		FollowedID: followedID,
		CreatedAt:  now,
	}
	ops, err := social.FollowRelationship(followerID, followedID).Link(record)
	if err != nil {
		return nil, err
	}
	ops = append(ops,
		store.Add(keys.Profile(followerID), social.AttrFollowingCount, 1, store.IfExists),
		store.Add(keys.Profile(followedID), social.AttrFollowersCount, 1, store.IfExists),
	)

	if err := m.store.Transact(ctx, ops); err != nil {
		return nil, followError(err, "follow", followerID, followedID, social.ErrAlreadyFollowing)
	}

	m.logger.Info("user followed",
		zap.String("followerId", followerID),
		zap.String("followedUserId", followedID),
	)

	if err := m.bus.Publish(ctx, events.UserFollowed{
		FollowerID:     followerID,
		FollowedUserID: followedID,
		Timestamp:      now,
	}); err != nil {
		return nil, fmt.Errorf("follow %s -> %s committed, event not published: %w", followerID, followedID, err)
	}
	return &record, nil
}

// Unfollow removes the follow edge and decrements both counters. Feed
// retraction runs asynchronously off the UserUnfollowed event.
func (m *Manager) Unfollow(ctx context.Context, followerID, followedID string) error {
	if followerID == "" || followedID == "" {
		return social.ErrMissingID
	}
	if followerID == followedID {
		return social.ErrSelfFollow
	}

	ops := social.FollowRelationship(followerID, followedID).Unlink()
	ops = append(ops,
		store.Add(keys.Profile(followerID), social.AttrFollowingCount, -1, store.IfExists),
		store.Add(keys.Profile(followedID), social.AttrFollowersCount, -1, store.IfExists),
	)

	if err := m.store.Transact(ctx, ops); err != nil {
		return followError(err, "unfollow", followerID, followedID, social.ErrNotFollowing)
	}

	m.logger.Info("user unfollowed",
		zap.String("followerId", followerID),
		zap.String("followedUserId", followedID),
	)

	if err := m.bus.Publish(ctx, events.UserUnfollowed{
		FollowerID:     followerID,
		FollowedUserID: followedID,
		Timestamp:      m.now().UTC(),
	}); err != nil {
		return fmt.Errorf("unfollow %s -> %s committed, retraction not triggered: %w", followerID, followedID, err)
	}
	return nil
}

// CheckFollowStatus reports whether followerID follows followedID.
func (m *Manager) CheckFollowStatus(ctx context.Context, followerID, followedID string) (bool, error) {
	if followerID == "" || followedID == "" {
		return false, social.ErrMissingID
	}
	return m.exists(ctx, keys.Follows(followerID, followedID))
}

// GetFollowers lists users following userID.
func (m *Manager) GetFollowers(ctx context.Context, userID string, limit int) ([]social.Follow, error) {
	return m.listFollows(ctx, userID, keys.PrefixFollower, limit)
}

// GetFollowing lists users that userID follows.
func (m *Manager) GetFollowing(ctx context.Context, userID string, limit int) ([]social.Follow, error) {
	return m.listFollows(ctx, userID, keys.PrefixFollows, limit)
}

func (m *Manager) listFollows(ctx context.Context, userID, prefix string, limit int) ([]social.Follow, error) {
	if userID == "" {
		return nil, social.ErrMissingID
	}
	items, _, err := store.QueryAll(ctx, m.store, store.QueryInput{
		PK:          keys.UserPK(userID),
		SKPrefix:    prefix,
		ScanForward: true,
	}, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", prefix, userID, err)
	}

	follows := make([]social.Follow, 0, len(items))
	for _, item := range items {
		var f social.Follow
		if err := social.FromItem(item, &f); err != nil {
			return nil, err
		}
		follows = append(follows, f)
	}
	return follows, nil
}

// Like records that userID liked postID and returns the new like count.
// The count is derived from the pre-transaction read; it is not re-read.
func (m *Manager) Like(ctx context.Context, userID, postID string) (int64, error) {
	if userID == "" || postID == "" {
		return 0, social.ErrMissingID
	}
	post, err := social.LoadPost(ctx, m.store, postID)
	if err != nil {
		return 0, err
	}

	now := m.now().UTC()
	ops, err := social.LikeRelationship(userID, postID).Link(social.Like{
		UserID:    userID,
		PostID:    postID,
		CreatedAt: now,
	})
	if err != nil {
		return 0, err
	}
	ops = append(ops, store.Add(keys.Post(postID), social.AttrLikesCount, 1, store.IfExists))

	if err := m.store.Transact(ctx, ops); err != nil {
		return 0, likeError(err, "like", userID, postID, social.ErrAlreadyLiked)
	}

	if err := m.bus.Publish(ctx, events.PostLiked{
		UserID:       userID,
		PostID:       postID,
		PostAuthorID: post.AuthorID,
		Timestamp:    now,
	}); err != nil {
		return 0, fmt.Errorf("like %s by %s committed, event not published: %w", postID, userID, err)
	}
	return post.LikesCount + 1, nil
}

// Unlike removes userID's like on postID and returns the new like count.
func (m *Manager) Unlike(ctx context.Context, userID, postID string) (int64, error) {
	if userID == "" || postID == "" {
		return 0, social.ErrMissingID
	}
	post, err := social.LoadPost(ctx, m.store, postID)
	if err != nil {
		return 0, err
	}

	ops := social.LikeRelationship(userID, postID).Unlink()
	ops = append(ops, store.Add(keys.Post(postID), social.AttrLikesCount, -1, store.IfExists))

	if err := m.store.Transact(ctx, ops); err != nil {
		return 0, likeError(err, "unlike", userID, postID, social.ErrNotLiked)
	}

	if err := m.bus.Publish(ctx, events.PostUnliked{
		UserID:       userID,
		PostID:       postID,
		PostAuthorID: post.AuthorID,
		Timestamp:    m.now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("unlike %s by %s committed, event not published: %w", postID, userID, err)
	}
	return max(post.LikesCount-1, 0), nil
}

// CheckLikeStatus reports whether userID liked postID.
func (m *Manager) CheckLikeStatus(ctx context.Context, userID, postID string) (bool, error) {
	if userID == "" || postID == "" {
		return false, social.ErrMissingID
	}
	return m.exists(ctx, keys.Like(postID, userID))
}

// GetLikedPosts lists the likes userID has made, from the user-side mirror edges.
func (m *Manager) GetLikedPosts(ctx context.Context, userID string, limit int) ([]social.Like, error) {
	if userID == "" {
		return nil, social.ErrMissingID
	}
	items, _, err := store.QueryAll(ctx, m.store, store.QueryInput{
		PK:          keys.UserPK(userID),
		SKPrefix:    keys.PrefixLiked,
		ScanForward: true,
	}, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list likes of %s: %w", userID, err)
	}

	likes := make([]social.Like, 0, len(items))
	for _, item := range items {
		var l social.Like
		if err := social.FromItem(item, &l); err != nil {
			return nil, err
		}
		likes = append(likes, l)
	}
	return likes, nil
}

func (m *Manager) exists(ctx context.Context, key store.Key) (bool, error) {
	_, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// followError maps a cancelled follow/unfollow transaction onto the guard
// that tripped.
func followError(err error, op, followerID, followedID string, edgeErr error) error {
	switch store.FailedOpIndex(err) {
	case opEdge:
		return fmt.Errorf("%s %s -> %s: %w", op, followerID, followedID, edgeErr)
	case opCounter:
		return fmt.Errorf("%s: %w %q", op, social.ErrUserNotFound, followerID)
	case opSecond:
		return fmt.Errorf("%s: %w %q", op, social.ErrUserNotFound, followedID)
	}
	return fmt.Errorf("%s %s -> %s: %w", op, followerID, followedID, err)
}

func likeError(err error, op, userID, postID string, edgeErr error) error {
	switch store.FailedOpIndex(err) {
	case opEdge:
		return fmt.Errorf("%s %s by %s: %w", op, postID, userID, edgeErr)
	case opCounter:
		return fmt.Errorf("%s: %w %q", op, social.ErrPostNotFound, postID)
	}
	return fmt.Errorf("%s %s by %s: %w", op, postID, userID, err)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
