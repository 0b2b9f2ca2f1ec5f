package ingest

import (
	"encoding/json"
	"fmt"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream.
type jetstreamCommit struct {
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

// wireRecord covers the record fields we read across post, follow, and like
// collections.
type wireRecord struct {
	CreatedAt string `json:"createdAt"`
	Reply     *struct {
		Parent struct {
			URI string `json:"uri"`
		} `json:"parent"`
	} `json:"reply,omitempty"`
	// Subject is a DID string for follows and a strong ref for likes.
	Subject json.RawMessage `json:"subject,omitempty"`
}

// decodeEvent turns one Jetstream message into a typed Op (nil for events we
// do not index) plus the event's position marker.
func decodeEvent(data []byte) (*Op, int64, error) {
	var evt jetstreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, 0, fmt.Errorf("unmarshal event: %w", err)
	}

	if evt.Kind != "commit" || evt.Commit == nil {
		return nil, evt.TimeUS, nil
	}

	entity, ok := collections[evt.Commit.Collection]
	if !ok {
		return nil, evt.TimeUS, nil
	}

	uri := fmt.Sprintf("at://%s/%s/%s", evt.DID, evt.Commit.Collection, evt.Commit.RKey)

	switch evt.Commit.Operation {
	case "create":
		record, err := decodeRecord(entity, evt.Commit)
		if err != nil {
			return nil, evt.TimeUS, err
		}
		return &Op{
			Entity: entity,
			Kind:   KindCreate,
			URI:    uri,
			Author: evt.DID,
			Record: record,
		}, evt.TimeUS, nil

	case "delete":
		return &Op{
			Entity: entity,
			Kind:   KindDelete,
			URI:    uri,
			Author: evt.DID,
		}, evt.TimeUS, nil

	default:
		return nil, evt.TimeUS, nil
	}
}

func decodeRecord(entity Entity, commit *jetstreamCommit) (*Record, error) {
	var wire wireRecord
	if len(commit.Record) > 0 {
		if err := json.Unmarshal(commit.Record, &wire); err != nil {
			return nil, fmt.Errorf("unmarshal %s record: %w", entity, err)
		}
	}

	record := &Record{
		CID:       commit.CID,
		CreatedAt: wire.CreatedAt,
		Reply:     wire.Reply != nil,
	}

	if len(wire.Subject) > 0 {
		switch entity {
		case EntityFollow:
			var did string
			if err := json.Unmarshal(wire.Subject, &did); err != nil {
				return nil, fmt.Errorf("unmarshal follow subject: %w", err)
			}
			record.Subject = did
		case EntityLike:
			var ref struct {
				URI string `json:"uri"`
			}
			if err := json.Unmarshal(wire.Subject, &ref); err != nil {
				return nil, fmt.Errorf("unmarshal like subject: %w", err)
			}
			record.Subject = ref.URI
		}
	}

	return record, nil
}
