package store

import (
	"encoding/json"
	"strings"

	"github.com/pandaura/pandaura/internal/diff"
	"github.com/pandaura/pandaura/internal/errors"
)

// deltaType tags the serialised delta document.
const deltaType = "line-delta"

// deltaDoc is the on-disk shape of a line delta.
type deltaDoc struct {
	Type    string        `json:"type"`
	Changes []diff.Change `json:"changes"`
}

// encodeDelta serialises the line edits that turn base into next. Lines are
// split on bare newlines without trimming so the round trip is exact for
// any input, trailing newline included.
func encodeDelta(base, next []byte) ([]byte, error) {
	doc := deltaDoc{
		Type:    deltaType,
		Changes: diff.Changes(strings.Split(string(base), "\n"), strings.Split(string(next), "\n")),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.InternalWrap(err, "store.encodeDelta", "failed to marshal delta")
	}
	return data, nil
}

// decodeDelta replays a delta document against its base content.
func decodeDelta(base, data []byte) ([]byte, error) {
	const op = "store.decodeDelta"

	var doc deltaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.ValidationWrap(err, op, "invalid delta document")
	}
	if doc.Type != deltaType {
		return nil, errors.Validation(op, "unexpected delta type").WithDetail("type", doc.Type)
	}

	lines, err := diff.Apply(strings.Split(string(base), "\n"), doc.Changes)
	if err != nil {
		return nil, err
	}
	return []byte(strings.Join(lines, "\n")), nil
}
