// Package social holds the domain model shared by the graph, post and feed
// components: stored item shapes, the two-projection relationship, and the
// error taxonomy.
package social

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/flock/store"
)

// Counter attribute names. Counters only ever change by co-transacted deltas.
const (
	AttrFollowersCount = "followersCount"
	AttrFollowingCount = "followingCount"
	AttrPostsCount     = "postsCount"
	AttrLikesCount     = "likesCount"
	AttrAuthorID       = "authorId"
)

// Profile is stored at USER#<userId> / PROFILE.
type Profile struct {
	PK             string    `dynamodbav:"PK" json:"-"`
	SK             string    `dynamodbav:"SK" json:"-"`
	UserID         string    `dynamodbav:"userId" json:"userId"`
	Username       string    `dynamodbav:"username" json:"username"`
	DisplayName    string    `dynamodbav:"displayName" json:"displayName"`
	Bio            string    `dynamodbav:"bio,omitempty" json:"bio,omitempty"`
	Avatar         string    `dynamodbav:"avatar,omitempty" json:"avatar,omitempty"`
	FollowersCount int64     `dynamodbav:"followersCount" json:"followersCount"`
	FollowingCount int64     `dynamodbav:"followingCount" json:"followingCount"`
	PostsCount     int64     `dynamodbav:"postsCount" json:"postsCount"`
	IsVerified     bool      `dynamodbav:"isVerified" json:"isVerified"`
	IsPrivate      bool      `dynamodbav:"isPrivate" json:"isPrivate"`
	CreatedAt      time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// UsernameClaim is stored at USERNAME#<lower(username)> / USERNAME and
// reserves a username for one user.
type UsernameClaim struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	UserID   string `dynamodbav:"userId"`
	Username string `dynamodbav:"username"`
}

// Follow is the record stored in both projections of a follow edge.
type Follow struct {
	PK         string    `dynamodbav:"PK" json:"-"`
	SK         string    `dynamodbav:"SK" json:"-"`
	FollowerID string    `dynamodbav:"followerId" json:"followerId"`
	FollowedID string    `dynamodbav:"followedUserId" json:"followedUserId"`
	CreatedAt  time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// Post is stored at POST#<postId> / METADATA. Only its counters change after creation.
type Post struct {
	PK             string    `dynamodbav:"PK" json:"-"`
	SK             string    `dynamodbav:"SK" json:"-"`
	PostID         string    `dynamodbav:"postId" json:"postId"`
	AuthorID       string    `dynamodbav:"authorId" json:"authorId"`
	AuthorUsername string    `dynamodbav:"authorUsername" json:"authorUsername"`
	Content        string    `dynamodbav:"content" json:"content"`
	ImageURL       string    `dynamodbav:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	LikesCount     int64     `dynamodbav:"likesCount" json:"likesCount"`
	CommentsCount  int64     `dynamodbav:"commentsCount" json:"commentsCount"`
	CreatedAt      time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// Like is the record stored in both projections of a like edge.
type Like struct {
	PK        string    `dynamodbav:"PK" json:"-"`
	SK        string    `dynamodbav:"SK" json:"-"`
	UserID    string    `dynamodbav:"userId" json:"userId"`
	PostID    string    `dynamodbav:"postId" json:"postId"`
	CreatedAt time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// FeedEntry is a denormalized copy of a post in one follower's feed,
// stored at FEED#<followerId> / POST#<timestampMs>#<postId>.
type FeedEntry struct {
	PK                string    `dynamodbav:"PK" json:"-"`
	SK                string    `dynamodbav:"SK" json:"-"`
	PostID            string    `dynamodbav:"postId" json:"postId"`
	AuthorID          string    `dynamodbav:"authorId" json:"authorId"`
	AuthorUsername    string    `dynamodbav:"authorUsername" json:"authorUsername"`
	AuthorDisplayName string    `dynamodbav:"authorDisplayName,omitempty" json:"authorDisplayName,omitempty"`
	AuthorAvatar      string    `dynamodbav:"authorAvatar,omitempty" json:"authorAvatar,omitempty"`
	Content           string    `dynamodbav:"content" json:"content"`
	ImageURL          string    `dynamodbav:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	LikesCount        int64     `dynamodbav:"likesCount" json:"likesCount"`
	CommentsCount     int64     `dynamodbav:"commentsCount" json:"commentsCount"`
	CreatedAt         time.Time `dynamodbav:"createdAt" json:"createdAt"`
	FeedTimestamp     int64     `dynamodbav:"feedTimestamp" json:"feedTimestamp"`
}

// ToItem marshals a record into a store item.
func ToItem(record any) (store.Item, error) {
	av, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", record, err)
	}
	return store.Item(av), nil
}

// FromItem unmarshals a store item into out.
func FromItem(item store.Item, out any) error {
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("unmarshal %T: %w", out, err)
	}
	return nil
}
