package firehose

import (
	"encoding/json"
	"fmt"
	"strings"
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
	Rev        string            `json:"rev"`
	Operation  string            `json:"operation"`
	Collection string            `json:"collection"`
	RKey       string            `json:"rkey"`
	Record     *engagementRecord `json:"record,omitempty"`
	CID        string            `json:"cid"`
}

// engagementRecord is the parsed content of an app.bsky.feed.like or
// app.bsky.feed.repost record. Both carry a strong ref to the subject post.
type engagementRecord struct {
	Type      string    `json:"$type"`
	CreatedAt string    `json:"createdAt"`
	Subject   strongRef `json:"subject"`
}

// strongRef is a reference to a specific version of a record.
type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var raw struct {
		DID    string          `json:"did"`
		TimeUS int64           `json:"time_us"`
		Kind   string          `json:"kind"`
		Commit json.RawMessage `json:"commit,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &jetstreamEvent{
		DID:    raw.DID,
		TimeUS: raw.TimeUS,
		Kind:   raw.Kind,
	}

	if raw.Kind == "commit" && len(raw.Commit) > 0 {
		var rc struct {
			Rev        string          `json:"rev"`
			Operation  string          `json:"operation"`
			Collection string          `json:"collection"`
			RKey       string          `json:"rkey"`
			Record     json.RawMessage `json:"record,omitempty"`
			CID        string          `json:"cid"`
		}
		if err := json.Unmarshal(raw.Commit, &rc); err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}

		commit := &jetstreamCommit{
			Rev:        rc.Rev,
			Operation:  rc.Operation,
			Collection: rc.Collection,
			RKey:       rc.RKey,
			CID:        rc.CID,
		}

		if len(rc.Record) > 0 && isEngagementCollection(rc.Collection) {
			var record engagementRecord
			if err := json.Unmarshal(rc.Record, &record); err != nil {
				return nil, fmt.Errorf("unmarshal engagement record: %w", err)
			}
			commit.Record = &record
		}

		event.Commit = commit
	}

	return event, nil
}

func isEngagementCollection(collection string) bool {
	return collection == "app.bsky.feed.like" || collection == "app.bsky.feed.repost"
}

// authorDIDFromURI extracts the author DID from an AT-URI of the form
// at://did:plc:abc/app.bsky.feed.post/rkey. Returns "" if the URI does not
// have that shape.
func authorDIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ""
	}
	did, _, ok := strings.Cut(rest, "/")
	if !ok || !strings.HasPrefix(did, "did:") {
		return ""
	}
	return did
}
