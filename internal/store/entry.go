package store

import (
	"fmt"

	gojson "github.com/goccy/go-json"
)

// Entry is the persisted form of one committed change. Insert entries nest
// the fact's previous version one level deep; delete entries never do.
type Entry struct {
	Key             string `json:"key"`
	CreatedAt       string `json:"createdAt"`
	Version         int    `json:"version"`
	Deleted         bool   `json:"deleted,omitempty"`
	PreviousVersion *Entry `json:"previousVersion"`
}

func encodeEntry(e Entry) ([]byte, error) {
	b, err := gojson.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry %q: %w", e.Key, err)
	}
	return b, nil
}

// encodeLines appends one JSON line per entry to dst.
func encodeLines(dst []byte, entries []Entry) ([]byte, error) {
	for _, e := range entries {
		b, err := encodeEntry(e)
		if err != nil {
			return nil, err
		}
		dst = append(dst, b...)
		dst = append(dst, '\n')
	}
	return dst, nil
}

func decodeEntry(pos int, data []byte) (Entry, error) {
	var e Entry
	if err := gojson.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, pos, err)
	}
	return e, nil
}
