package streamio

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roffe/canman/pkg/manager"
)

// record is one stored or published value. A manager.Result is split into
// one record per frame id so each decoded message can be queried on its own.
type record struct {
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
	FrameID *uint32   `json:"frame_id,omitempty"`
	Value   any       `json:"value"`
}

func (r record) payload() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("streamio: encode %T: %w", r.Value, err)
	}
	return b, nil
}

func records(session string, now time.Time, v any) []record {
	res, ok := v.(manager.Result)
	if !ok {
		return []record{{Session: session, Time: now, Value: v}}
	}
	ids := make([]uint32, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]record, len(ids))
	for i, id := range ids {
		id := id
		out[i] = record{Session: session, Time: now, FrameID: &id, Value: res[id]}
	}
	return out
}
