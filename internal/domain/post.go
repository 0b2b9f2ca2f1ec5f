package domain

import "time"

// Post represents an indexed top-level BlueSky post stored in our database.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content identifier of the record.
	CID string

	// Author is the DID of the post's author.
	Author string

	// CreatedAt is the author-supplied creation time of the record.
	CreatedAt time.Time

	// IndexedAt is when we indexed this post. It is the primary ordering
	// key for feeds.
	IndexedAt time.Time
}

// Follow represents a follow edge in the social graph. Follows are only
// consumed in aggregate, as the follower in-degree per subject.
type Follow struct {
	// URI is the AT-URI of the follow record.
	URI string

	// FollowerDid is the DID of the account doing the following.
	FollowerDid string

	// SubjectDid is the DID of the account being followed.
	SubjectDid string

	// CreatedAt is the author-supplied creation time of the record.
	CreatedAt time.Time
}

// Like represents a like on a post. Captured for future ranking use; the
// current algorithms do not consume it.
type Like struct {
	// URI is the AT-URI of the like record.
	URI string

	// LikerDid is the DID of the account that liked the post.
	LikerDid string

	// SubjectURI is the AT-URI of the liked post.
	SubjectURI string

	// CreatedAt is the author-supplied creation time of the record.
	CreatedAt time.Time
}
