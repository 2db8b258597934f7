package events

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// The log replay ring must always hold the most recent log events, in publish
// order, capped at LogReplayCapacity, regardless of how many log and non-log
// publishes are interleaved.
func TestLogRingRetentionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := NewHub()

		n := rapid.IntRange(0, 3*LogReplayCapacity).Draw(t, "n")
		var logged []string
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, fmt.Sprintf("isLog%d", i)) {
				msg := fmt.Sprintf("line-%d", i)
				h.LogLine("info", "prop", msg)
				logged = append(logged, msg)
			} else {
				h.Publish(TopicHeartbeat, map[string]any{"i": i})
			}
		}

		snap := h.SnapshotSince(0)

		want := logged
		if len(want) > LogReplayCapacity {
			want = want[len(want)-LogReplayCapacity:]
		}
		if len(snap) != len(want) {
			t.Fatalf("ring holds %d events, want %d", len(snap), len(want))
		}

		var lastID int64
		for i, ev := range snap {
			if ev.Topic != TopicLog {
				t.Fatalf("non-log event in replay ring: %s", ev.Topic)
			}
			if ev.ID <= lastID {
				t.Fatalf("replay out of order at index %d: id %d after %d", i, ev.ID, lastID)
			}
			lastID = ev.ID
			if string(ev.Data) != fmt.Sprintf(`{"level":"info","message":%q,"source":"prop"}`, want[i]) {
				t.Fatalf("unexpected payload at %d: %s", i, ev.Data)
			}
		}
	})
}
