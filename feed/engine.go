// Package feed replicates posts into follower feed partitions and removes
// them again after an unfollow.
//
// Fan-out is chunked: each chunk of at most MaxBatchSize entries commits
// atomically, but a job as a whole does not. A failed chunk leaves earlier
// chunks in place and stops the job in StatePartiallyFailed. Entry keys are
// derived from the post's creation timestamp, so redelivering the same event
// rewrites identical items instead of duplicating them.
package feed

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

// Feed read limits.
const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// Config controls fan-out batching.
type Config struct {
	// MaxBatchSize is the number of feed writes per transaction.
	MaxBatchSize int

	// MaxFollowers caps how many followers a single post is fanned out to.
	MaxFollowers int

	// PageSize is the query page size used while enumerating.
	PageSize int
}

// DefaultConfig returns the default fan-out configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: store.DefaultMaxBatchSize,
		MaxFollowers: 1000,
		PageSize:     100,
	}
}

func (c *Config) validate(storeMax int) {
	d := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if storeMax > 0 && c.MaxBatchSize > storeMax {
		c.MaxBatchSize = storeMax
	}
	if c.MaxFollowers <= 0 {
		c.MaxFollowers = d.MaxFollowers
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
}

// Engine runs fan-out and retraction jobs.
type Engine struct {
	store   store.Store
	config  Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records job outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides time.Now, used when an event carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine writing through s.
func NewEngine(s store.Store, config Config, opts ...Option) *Engine {
	config.validate(s.MaxBatchSize())
	e := &Engine{
		store:  s,
		config: config,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Distribute writes a feed entry for ev into the feed of every follower of
// its author. The returned Job is always non-nil; the error is non-nil only
// when the job did not reach StateDone.
func (e *Engine) Distribute(ctx context.Context, ev events.PostCreated) (*Job, error) {
	job := newJob(KindDistribute)
	job.PostID = ev.PostID
	job.AuthorID = ev.AuthorID
	defer e.metrics.observe(job)

	log := e.logger.With(
		zap.String("postId", ev.PostID),
		zap.String("authorId", ev.AuthorID),
	)

	if ev.PostID == "" || ev.AuthorID == "" {
		return e.fail(job, log, fmt.Errorf("distribute: %w", social.ErrMissingID))
	}

	created := ev.Timestamp.UTC()
	if created.IsZero() {
		created = e.now().UTC()
	}
	ts := created.UnixMilli()

	job.transition(StateEnumerating)
	followers, err := e.followers(ctx, job, created)
	if err != nil {
		return e.fail(job, log, err)
	}
	if job.Truncated {
		log.Warn("follower enumeration truncated",
			zap.Int("maxFollowers", e.config.MaxFollowers),
		)
	}
	if job.Skipped > 0 {
		log.Debug("skipped followers that followed after the post",
			zap.Int("skipped", job.Skipped),
		)
	}

	ops := make([]store.Op, 0, len(followers))
	for _, followerID := range followers {
		key := keys.FeedEntry(followerID, ts, ev.PostID)
		item, err := social.ToItem(social.FeedEntry{
			PK:                key.PK,
			SK:                key.SK,
			PostID:            ev.PostID,
			AuthorID:          ev.AuthorID,
			AuthorUsername:    ev.AuthorUsername,
			AuthorDisplayName: ev.AuthorDisplayName,
			AuthorAvatar:      ev.AuthorAvatar,
			Content:           ev.Content,
			ImageURL:          ev.ImageURL,
			CreatedAt:         created,
			FeedTimestamp:     ts,
		})
		if err != nil {
			return e.fail(job, log, err)
		}
		ops = append(ops, store.Put(item, store.Always))
	}

	if err := e.run(ctx, job, log, ops); err != nil {
		return job, err
	}
	log.Info("post distributed",
		zap.Int("followers", job.Targets),
		zap.Int("chunks", job.Chunks),
	)
	return job, nil
}

// Retract removes the entries authored by authorID from followerID's feed
// whose post was created at or before unfollowedAt. Later entries came from
// a newer follow edge and stay, so a stale or repeated unfollow never wipes
// posts received after a re-follow. A zero unfollowedAt means now.
func (e *Engine) Retract(ctx context.Context, followerID, authorID string, unfollowedAt time.Time) (*Job, error) {
	job := newJob(KindRetract)
	job.FollowerID = followerID
	job.AuthorID = authorID
	defer e.metrics.observe(job)

	log := e.logger.With(
		zap.String("followerId", followerID),
		zap.String("authorId", authorID),
	)

	if followerID == "" || authorID == "" {
		return e.fail(job, log, fmt.Errorf("retract: %w", social.ErrMissingID))
	}

	job.transition(StateEnumerating)
	items, _, err := store.QueryAll(ctx, e.store, store.QueryInput{
		PK:          keys.FeedPK(followerID),
		SKPrefix:    keys.PrefixPost,
		Filter:      map[string]string{social.AttrAuthorID: authorID},
		Limit:       e.config.PageSize,
		ScanForward: true,
	}, 0)
	if err != nil {
		return e.fail(job, log, fmt.Errorf("enumerate feed of %s: %w", followerID, err))
	}

	if unfollowedAt.IsZero() {
		unfollowedAt = e.now()
	}
	cutoff := unfollowedAt.UnixMilli()

	ops := make([]store.Op, 0, len(items))
	for _, item := range items {
		ts, _, err := keys.ParseFeedSK(item.Key().SK)
		if err != nil {
			log.Warn("skipping malformed feed entry", zap.Error(err))
			continue
		}
		if ts > cutoff {
			job.Skipped++
			continue
		}
		ops = append(ops, store.Delete(item.Key(), store.Always))
	}

	if err := e.run(ctx, job, log, ops); err != nil {
		return job, err
	}
	log.Info("feed entries retracted",
		zap.Int("entries", job.Entries),
		zap.Int("kept", job.Skipped),
	)
	return job, nil
}

// GetUserFeed returns the newest entries of userID's feed first.
func (e *Engine) GetUserFeed(ctx context.Context, userID string, limit int) ([]social.FeedEntry, error) {
	if userID == "" {
		return nil, social.ErrMissingID
	}
	switch {
	case limit <= 0:
		limit = DefaultFeedLimit
	case limit > MaxFeedLimit:
		limit = MaxFeedLimit
	}

	out, err := e.store.Query(ctx, store.QueryInput{
		PK:          keys.FeedPK(userID),
		SKPrefix:    keys.PrefixPost,
		Limit:       limit,
		ScanForward: false,
	})
	if err != nil {
		return nil, fmt.Errorf("query feed of %s: %w", userID, err)
	}

	entries := make([]social.FeedEntry, 0, len(out.Items))
	for _, item := range out.Items {
		var entry social.FeedEntry
		if err := social.FromItem(item, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// followers returns the ids of users whose follow edge existed when the post
// was created. Edges created later are counted in job.Skipped.
func (e *Engine) followers(ctx context.Context, job *Job, created time.Time) ([]string, error) {
	items, truncated, err := store.QueryAll(ctx, e.store, store.QueryInput{
		PK:          keys.UserPK(job.AuthorID),
		SKPrefix:    keys.PrefixFollower,
		Limit:       e.config.PageSize,
		ScanForward: true,
	}, e.config.MaxFollowers)
	if err != nil {
		return nil, fmt.Errorf("enumerate followers of %s: %w", job.AuthorID, err)
	}
	job.Truncated = truncated

	ids := make([]string, 0, len(items))
	for _, item := range items {
		var edge social.Follow
		if err := social.FromItem(item, &edge); err != nil {
			return nil, err
		}
		if edge.CreatedAt.After(created) {
			job.Skipped++
			continue
		}
		if id := keys.Suffix(item.Key().SK, keys.PrefixFollower); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// run commits ops chunk by chunk and stops at the first failed chunk.
func (e *Engine) run(ctx context.Context, job *Job, log *zap.Logger, ops []store.Op) error {
	job.Targets = len(ops)
	if len(ops) == 0 {
		job.transition(StateDone)
		return nil
	}

	job.transition(StateDistributing)
	chunks := store.Chunk(ops, e.config.MaxBatchSize)
	job.Chunks = len(chunks)

	for i, chunk := range chunks {
		if err := e.store.Transact(ctx, chunk); err != nil {
			log.Error("feed chunk failed",
				zap.Int("chunk", i),
				zap.Int("chunks", len(chunks)),
				zap.Int("committedEntries", job.Entries),
				zap.Error(err),
			)
			job.Err = err
			job.transition(StatePartiallyFailed)
			return fmt.Errorf("%s chunk %d/%d: %w: %w", job.Kind, i+1, len(chunks), social.ErrFanoutIncomplete, err)
		}
		job.CommittedChunks++
		job.Entries += len(chunk)
	}

	job.transition(StateDone)
	return nil
}

// fail ends a job that never reached the distributing phase.
func (e *Engine) fail(job *Job, log *zap.Logger, err error) (*Job, error) {
	job.Err = err
	job.transition(StatePartiallyFailed)
	if !errors.Is(err, social.ErrMissingID) {
		log.Error("feed job failed", zap.Error(err))
	}
	return job, err
}
