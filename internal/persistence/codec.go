package persistence

import (
	"encoding/json"

	"github.com/dagsund/weave/pkg/api"
)

// The checkpoint payload is one concrete struct, so a plain JSON
// round-trip is enough; it also keeps stored rows inspectable with
// ordinary DB tooling.

// EncodeState serializes a state snapshot for storage.
func EncodeState(st api.State) ([]byte, error) {
	return json.Marshal(st)
}

// DecodeState deserializes a stored state snapshot.
func DecodeState(data []byte) (api.State, error) {
	var st api.State
	if len(data) == 0 {
		return st, nil
	}
	err := json.Unmarshal(data, &st)
	return st, err
}
