// Package ingest consumes the decoded social-graph event stream: it
// partitions each delivered batch of typed operations, filters out replies
// and malformed rows, and applies the batch to the store atomically together
// with the batch's resume cursor.
package ingest

// Entity identifies which table an operation targets.
type Entity string

const (
	EntityPost   Entity = "post"
	EntityFollow Entity = "follow"
	EntityLike   Entity = "like"
)

// Kind is the operation kind.
type Kind string

const (
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
)

// Record is the entity-specific payload of a create operation. Fields not
// applicable to the entity are left zero.
type Record struct {
	// CID is the content identifier (posts only).
	CID string

	// CreatedAt is the author-supplied creation timestamp, ISO-8601.
	CreatedAt string

	// Subject is the followed DID (follows) or the liked post URI (likes).
	Subject string

	// Reply marks a post record as a reply. Replies are not indexed.
	Reply bool
}

// Op is one decoded operation from the upstream event feed.
type Op struct {
	Entity Entity
	Kind   Kind

	// URI is the AT-URI of the record, the unique key for all entities.
	URI string

	// Author is the DID of the repo the operation came from.
	Author string

	// Record is the payload for creates; nil for deletes.
	Record *Record
}

// Batch is one ordered delivery of operations, tagged with the position to
// resume from once the whole batch is durable.
type Batch struct {
	Ops    []Op
	Cursor int64
}
