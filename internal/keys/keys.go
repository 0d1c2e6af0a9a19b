// Package keys builds the partition and sort keys of the single-table layout.
//
// Key prefixes are a contract: other tools (an admin bulk-delete, say)
// query the table by these prefixes directly.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jacentio/flock/store"
)

// Key prefixes and fixed sort keys.
const (
	PrefixUser     = "USER#"
	PrefixPost     = "POST#"
	PrefixFeed     = "FEED#"
	PrefixFollows  = "FOLLOWS#"
	PrefixFollower = "FOLLOWER#"
	PrefixLike     = "LIKE#"
	PrefixLiked    = "LIKED#"
	PrefixUsername = "USERNAME#"

	SKProfile  = "PROFILE"
	SKMetadata = "METADATA"
	SKUsername = "USERNAME"
)

// timestampWidth zero-pads feed timestamps so lexical order matches numeric order.
const timestampWidth = 13

func UserPK(userID string) string { return PrefixUser + userID }
func PostPK(postID string) string { return PrefixPost + postID }
func FeedPK(userID string) string { return PrefixFeed + userID }

// Profile locates a user's profile item.
func Profile(userID string) store.Key {
	return store.Key{PK: UserPK(userID), SK: SKProfile}
}

// Username locates the guard item that reserves a username.
func Username(username string) store.Key {
	return store.Key{PK: PrefixUsername + strings.ToLower(username), SK: SKUsername}
}

// Follows locates the outbound edge "followerID follows followedID".
func Follows(followerID, followedID string) store.Key {
	return store.Key{PK: UserPK(followerID), SK: PrefixFollows + followedID}
}

// Follower locates the inbound mirror of a follow edge.
func Follower(followedID, followerID string) store.Key {
	return store.Key{PK: UserPK(followedID), SK: PrefixFollower + followerID}
}

// Post locates a post's metadata item.
func Post(postID string) store.Key {
	return store.Key{PK: PostPK(postID), SK: SKMetadata}
}

// Like locates the post-side like edge.
func Like(postID, userID string) store.Key {
	return store.Key{PK: PostPK(postID), SK: PrefixLike + userID}
}

// Liked locates the user-side mirror of a like edge.
func Liked(userID, postID string) store.Key {
	return store.Key{PK: UserPK(userID), SK: PrefixLiked + postID}
}

// FeedEntry locates a post's copy in a follower's feed.
// The sort key orders entries by time and stays unique for equal timestamps.
func FeedEntry(followerID string, timestampMs int64, postID string) store.Key {
	return store.Key{
		PK: FeedPK(followerID),
		SK: fmt.Sprintf("%s%0*d#%s", PrefixPost, timestampWidth, timestampMs, postID),
	}
}

// ParseFeedSK splits a feed entry sort key into its timestamp and post id.
func ParseFeedSK(sk string) (int64, string, error) {
	rest, ok := strings.CutPrefix(sk, PrefixPost)
	if !ok {
		return 0, "", fmt.Errorf("feed sort key %q: missing %s prefix", sk, PrefixPost)
	}
	ts, postID, ok := strings.Cut(rest, "#")
	if !ok || postID == "" {
		return 0, "", fmt.Errorf("feed sort key %q: missing post id", sk)
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("feed sort key %q: %w", sk, err)
	}
	return ms, postID, nil
}

// Suffix returns the id following prefix in a sort key, or "" if the prefix does not match.
func Suffix(sk, prefix string) string {
	id, ok := strings.CutPrefix(sk, prefix)
	if !ok {
		return ""
	}
	return id
}
