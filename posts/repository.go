// Package posts creates and reads posts. Creation commits the post and the
// author's postsCount together, then emits PostCreated for fan-out.
package posts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/flock/events"
	"github.com/jacentio/flock/internal/keys"
	"github.com/jacentio/flock/social"
	"github.com/jacentio/flock/store"
)

// Repository owns post creation and reads.
type Repository struct {
	store  store.Store
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides post id generation. Default: random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// NewRepository creates a Repository writing through s and publishing to bus.
func NewRepository(s store.Store, bus events.Publisher, opts ...Option) *Repository {
	r := &Repository{
		store:  s,
		bus:    bus,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreatePost stores a new post by authorID and emits PostCreated carrying
// the author snapshot that fan-out copies into follower feeds.
func (r *Repository) CreatePost(ctx context.Context, authorID, content, imageURL string) (*social.Post, error) {
	if authorID == "" {
		return nil, social.ErrMissingID
	}
	if strings.TrimSpace(content) == "" && imageURL == "" {
		return nil, social.ErrEmptyPost
	}

	author, err := social.LoadProfile(ctx, r.store, authorID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	postID := r.newID()
	key := keys.Post(postID)
	post := social.Post{
		PK:             key.PK,
		SK:             key.SK,
		PostID:         postID,
		AuthorID:       authorID,
		AuthorUsername: author.Username,
		Content:        content,
		ImageURL:       imageURL,
		CreatedAt:      now,
	}
	item, err := social.ToItem(post)
	if err != nil {
		return nil, err
	}

	err = r.store.Transact(ctx, []store.Op{
		store.Put(item, store.IfNotExists),
		store.Add(keys.Profile(authorID), social.AttrPostsCount, 1, store.IfExists),
	})
	switch store.FailedOpIndex(err) {
	case -1:
		if err != nil {
			return nil, fmt.Errorf("create post by %s: %w", authorID, err)
		}
	case 0:
		return nil, fmt.Errorf("create post %s: %w", postID, social.ErrDuplicatePost)
	default:
		return nil, fmt.Errorf("create post: %w %q", social.ErrUserNotFound, authorID)
	}

	r.logger.Info("post created",
		zap.String("postId", postID),
		zap.String("authorId", authorID),
	)

	if err := r.bus.Publish(ctx, events.PostCreated{
		PostID:            postID,
		AuthorID:          authorID,
		AuthorUsername:    author.Username,
		AuthorDisplayName: author.DisplayName,
		AuthorAvatar:      author.Avatar,
		Content:           content,
		ImageURL:          imageURL,
		Timestamp:         now,
	}); err != nil {
		return nil, fmt.Errorf("post %s committed, fan-out not triggered: %w", postID, err)
	}
	return &post, nil
}

// GetPost reads a post by id.
func (r *Repository) GetPost(ctx context.Context, postID string) (*social.Post, error) {
	if postID == "" {
		return nil, social.ErrMissingID
	}
	return social.LoadPost(ctx, r.store, postID)
}
