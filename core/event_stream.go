package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"paystream/core/types"
	"paystream/observability"
)

const eventHistoryLimit = 2048

// EventUpdate is a ledger event as delivered to feed subscribers, with a
// monotonically increasing sequence usable as a resume cursor.
type EventUpdate struct {
	Sequence   uint64
	Cursor     string
	Type       string
	Attributes map[string]string
	Timestamp  int64
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if update.Attributes != nil {
		attrs := make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

func (n *Node) publishEvent(payload *types.Event) {
	if n == nil || payload == nil {
		return
	}
	update := EventUpdate{
		Type:       payload.Type,
		Attributes: payload.Attributes,
		Timestamp:  time.Now().Unix(),
	}
	observability.RPCMetrics().CountStreamEvent(payload.Type)

	n.eventMu.Lock()
	if n.eventSubs == nil {
		n.eventSubs = make(map[uint64]chan EventUpdate)
	}
	n.eventSeq++
	update.Sequence = n.eventSeq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	n.eventHistory = append(n.eventHistory, cloneEventUpdate(update))
	if len(n.eventHistory) > eventHistoryLimit {
		excess := len(n.eventHistory) - eventHistoryLimit
		trimmed := make([]EventUpdate, eventHistoryLimit)
		copy(trimmed, n.eventHistory[excess:])
		n.eventHistory = trimmed
	}
	subscribers := make([]chan EventUpdate, 0, len(n.eventSubs))
	for _, ch := range n.eventSubs {
		subscribers = append(subscribers, ch)
	}
	n.eventMu.Unlock()

	broadcast := cloneEventUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
			// Slow subscribers miss live updates; they can resume from the
			// history via their cursor.
		}
	}
}

// EventsSubscribe registers a subscriber for ledger events starting after
// the supplied cursor. The returned cancel func must be called to release
// the subscription.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	n.eventMu.Lock()
	if n.eventSubs == nil {
		n.eventSubs = make(map[uint64]chan EventUpdate)
	}
	id := n.eventNextSub
	n.eventNextSub++
	n.eventSubs[id] = updates
	history := make([]EventUpdate, len(n.eventHistory))
	copy(history, n.eventHistory)
	n.eventMu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.eventMu.Lock()
			sub, ok := n.eventSubs[id]
			if ok {
				delete(n.eventSubs, id)
				close(sub)
			}
			n.eventMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
