package engine

import "sync"

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// Event is one job lifecycle notification delivered to subscribers.
type Event struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Outputs int    `json:"outputs,omitempty"`
}

// EventBroker fans job lifecycle events out to per-job subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a job reaches a terminal state) receive a closed channel
// instead of blocking forever. Each marker is a few bytes, which is acceptable
// for the expected job volume.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Open registers a topic for a job that is about to be tracked. Subscribers
// attaching before the first Publish still receive every event.
func (b *EventBroker) Open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[jobID]; !ok {
		b.topics[jobID] = &eventTopic{subs: make(map[int]chan Event)}
	}
}

// Active reports whether a live publisher exists for the given job: the topic
// was opened and has not been closed. Jobs tracked by an earlier process have
// no topic in this one.
func (b *EventBroker) Active(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	return ok && !t.closed
}

// Subscribe returns a channel that receives lifecycle events for the given job
// and an unsubscribe function. If the job has already finished (Close was
// called), the returned channel is immediately closed.
func (b *EventBroker) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[jobID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given job.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(jobID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the poller.
		}
	}
}

// Close signals that no more events will be published for the given job.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[jobID] = &eventTopic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
