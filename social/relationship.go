package social

import (
	"maps"

	"github.com/jacentio/flock/internal/keys"
	"github.com/jacentio/flock/store"
)

// Relationship is one logical edge with two physical projections. Both
// projections are always written or removed in the same transaction.
type Relationship struct {
	// Forward is the guarded projection; its existence defines the edge.
	Forward store.Key
	// Reverse mirrors Forward for the opposite access path.
	Reverse store.Key
}

// FollowRelationship is "followerID follows followedID":
// USER#follower/FOLLOWS#followed and USER#followed/FOLLOWER#follower.
func FollowRelationship(followerID, followedID string) Relationship {
	return Relationship{
		Forward: keys.Follows(followerID, followedID),
		Reverse: keys.Follower(followedID, followerID),
	}
}

// LikeRelationship is "userID liked postID":
// POST#post/LIKE#user and USER#user/LIKED#post.
func LikeRelationship(userID, postID string) Relationship {
	return Relationship{
		Forward: keys.Like(postID, userID),
		Reverse: keys.Liked(userID, postID),
	}
}

// Link returns the ops creating both projections from record. The forward
// put is conditioned on absence, so a duplicate link cancels the transaction
// at index 0.
func (r Relationship) Link(record any) ([]store.Op, error) {
	item, err := ToItem(record)
	if err != nil {
		return nil, err
	}
	return []store.Op{
		store.Put(withKey(item, r.Forward), store.IfNotExists),
		store.Put(withKey(item, r.Reverse), store.Always),
	}, nil
}

// Unlink returns the ops removing both projections. The forward delete is
// conditioned on presence, so unlinking a missing edge cancels at index 0.
func (r Relationship) Unlink() []store.Op {
	return []store.Op{
		store.Delete(r.Forward, store.IfExists),
		store.Delete(r.Reverse, store.Always),
	}
}

func withKey(item store.Item, key store.Key) store.Item {
	out := maps.Clone(item)
	for k, v := range key.AttributeValues() {
		out[k] = v
	}
	return out
}
