package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/certflow/certflow/types"
)

func genField() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{"", "task-request", "task-response", "orchestrator", "wf-1", "wf-2"})
}

func genPriority() *rapid.Generator[types.Priority] {
	return rapid.SampledFrom([]types.Priority{
		"", types.PriorityUrgent, types.PriorityHigh, types.PriorityNormal, types.PriorityLow,
	})
}

// A pattern matches a message exactly when every set pattern field equals
// the corresponding message field.
func TestPattern_MatchesAgainstModel(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		msg := Message{
			ID:   "m-1",
			Type: genField().Draw(rt, "msg_type"),
			Meta: Metadata{
				Source:   genField().Draw(rt, "msg_source"),
				Target:   genField().Draw(rt, "msg_target"),
				Priority: genPriority().Draw(rt, "msg_priority"),
			},
		}
		p := Pattern{
			Type:     genField().Draw(rt, "pat_type"),
			Source:   genField().Draw(rt, "pat_source"),
			Target:   genField().Draw(rt, "pat_target"),
			Priority: genPriority().Draw(rt, "pat_priority"),
		}

		want := (p.Type == "" || p.Type == msg.Type) &&
			(p.Source == "" || p.Source == msg.Meta.Source) &&
			(p.Target == "" || p.Target == msg.Meta.Target) &&
			(p.Priority == "" || p.Priority == msg.Meta.Priority)

		if got := p.Matches(msg); got != want {
			rt.Fatalf("Matches = %v, want %v (pattern %+v, message %+v)", got, want, p, msg)
		}
	})
}

// History holds at most its capacity and always the newest messages in
// publish order.
func TestBus_HistoryBoundedAgainstModel(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(rt, "capacity")
		count := rapid.IntRange(0, 30).Draw(rt, "count")

		b := New(Config{HistoryCapacity: capacity}, zap.NewNop())
		defer b.Close()

		var model []int
		for i := 0; i < count; i++ {
			require.NoError(rt, b.Publish(context.Background(), NewMessage("event", i)))
			model = append(model, i)
			if len(model) > capacity {
				model = model[1:]
			}
		}

		got := b.History(nil)
		if len(got) != len(model) {
			rt.Fatalf("history length %d, want %d", len(got), len(model))
		}
		for i, msg := range got {
			if msg.Payload != model[i] {
				rt.Fatalf("history[%d] = %v, want %d", i, msg.Payload, model[i])
			}
		}
	})
}
