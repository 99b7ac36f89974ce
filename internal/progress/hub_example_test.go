package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	accepted int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StagePageDone {
			s.accepted += evt.Accepted
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting page events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, FlushInterval: time.Second}, sink)

	for page := 1; page <= 2; page++ {
		hub.Emit(Event{
			SessionID: SessionKey("example"),
			TS:        time.Unix(0, 0),
			Stage:     StagePageDone,
			Source:    "search",
			Page:      page,
			Accepted:  3,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("items accepted: %d\n", sink.accepted)
	// Output:
	// items accepted: 6
}
