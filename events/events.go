// Package events defines the domain events emitted by the core and the
// buses that carry them. Delivery is at-least-once with no ordering across
// event types, so consumers must be idempotent.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Source is the EventBridge source of every event published by flock.
const Source = "flock.core"

// Detail types.
const (
	TypePostCreated    = "PostCreated"
	TypeUserFollowed   = "UserFollowed"
	TypeUserUnfollowed = "UserUnfollowed"
	TypePostLiked      = "PostLiked"
	TypePostUnliked    = "PostUnliked"
)

// ErrPublish wraps failures to hand an event to the bus.
var ErrPublish = errors.New("flock: event publish failed")

// ErrUnknownType is returned when decoding an unrecognized detail type.
var ErrUnknownType = errors.New("flock: unknown event type")

// Event is implemented by every domain event.
type Event interface {
	// DetailType routes the event to its consumers.
	DetailType() string
	// AggregateID identifies the entity the event is about.
	AggregateID() string
	// OccurredAt is when the change committed.
	OccurredAt() time.Time
}

// PostCreated carries everything fan-out needs, so the consumer never
// re-reads the author profile.
type PostCreated struct {
	PostID            string    `json:"postId"`
	AuthorID          string    `json:"authorId"`
	AuthorUsername    string    `json:"authorUsername"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	AuthorAvatar      string    `json:"authorAvatar,omitempty"`
	Content           string    `json:"content"`
	ImageURL          string    `json:"imageUrl,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

func (e PostCreated) DetailType() string    { return TypePostCreated }
func (e PostCreated) AggregateID() string   { return e.PostID }
func (e PostCreated) OccurredAt() time.Time { return e.Timestamp }

// FollowChange is the shared payload of UserFollowed and UserUnfollowed.
type FollowChange struct {
	FollowerID     string    `json:"followerId"`
	FollowedUserID string    `json:"followedUserId"`
	Timestamp      time.Time `json:"timestamp"`
}

type UserFollowed FollowChange

func (e UserFollowed) DetailType() string    { return TypeUserFollowed }
func (e UserFollowed) AggregateID() string   { return e.FollowerID }
func (e UserFollowed) OccurredAt() time.Time { return e.Timestamp }

type UserUnfollowed FollowChange

func (e UserUnfollowed) DetailType() string    { return TypeUserUnfollowed }
func (e UserUnfollowed) AggregateID() string   { return e.FollowerID }
func (e UserUnfollowed) OccurredAt() time.Time { return e.Timestamp }

// LikeChange is the shared payload of PostLiked and PostUnliked.
type LikeChange struct {
	UserID       string    `json:"userId"`
	PostID       string    `json:"postId"`
	PostAuthorID string    `json:"postAuthorId"`
	Timestamp    time.Time `json:"timestamp"`
}

type PostLiked LikeChange

func (e PostLiked) DetailType() string    { return TypePostLiked }
func (e PostLiked) AggregateID() string   { return e.PostID }
func (e PostLiked) OccurredAt() time.Time { return e.Timestamp }

type PostUnliked LikeChange

func (e PostUnliked) DetailType() string    { return TypePostUnliked }
func (e PostUnliked) AggregateID() string   { return e.PostID }
func (e PostUnliked) OccurredAt() time.Time { return e.Timestamp }

// Decode parses an event detail of the given type.
func Decode(detailType string, detail []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch detailType {
	case TypePostCreated:
		var e PostCreated
		err = json.Unmarshal(detail, &e)
		ev = e
	case TypeUserFollowed:
		var e UserFollowed
		err = json.Unmarshal(detail, &e)
		ev = e
	case TypeUserUnfollowed:
		var e UserUnfollowed
		err = json.Unmarshal(detail, &e)
		ev = e
	case TypePostLiked:
		var e PostLiked
		err = json.Unmarshal(detail, &e)
		ev = e
	case TypePostUnliked:
		var e PostUnliked
		err = json.Unmarshal(detail, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, detailType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", detailType, err)
	}
	return ev, nil
}
