package liveserver

import "context"

// Event is one item to stream. A non-empty Key makes it sticky: the latest
// event per Topic/Key is replayed to clients that connect later.
type Event struct {
	Topic   string
	Key     string
	Payload interface{}
}

// Pump broadcasts every event until ctx is done or the channel closes
func Pump(ctx context.Context, hub *Hub, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := NewMessage(ev.Topic, ev.Payload)
			if ev.Key != "" {
				hub.BroadcastSticky(ev.Topic+"/"+ev.Key, msg)
				continue
			}
			hub.Broadcast(msg)
		}
	}
}
