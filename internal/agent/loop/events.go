package loop

import (
	"github.com/wikirag-core/server/internal/agent/model"
)

// Event is what a turn emits to its consumer: zero or more text deltas
// in generation order, then exactly one terminal event carrying the
// result. Failures are delivered as the stream error, not as an Event.
type Event struct {
	// Delta is one incremental fragment of the response text.
	Delta string
	// Result is set only on the terminal event.
	Result *model.TurnResult
}

// IsTerminal reports whether this event carries the turn result.
func (e *Event) IsTerminal() bool {
	return e != nil && e.Result != nil
}
