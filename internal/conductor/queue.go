package conductor

// outboundQueue holds serialized signaling messages awaiting delivery,
// in enqueue order, with at most one send in flight toward the
// transport. It is owned by the conductor's run loop and is not safe
// for concurrent use.
type outboundQueue struct {
	pending  []string
	inFlight bool
}

// enqueue appends to the tail unconditionally.
func (q *outboundQueue) enqueue(text string) {
	q.pending = append(q.pending, text)
}

func (q *outboundQueue) hasInFlight() bool {
	return q.inFlight
}

func (q *outboundQueue) len() int {
	return len(q.pending)
}

// tryDeliver pops the head and hands it to send when nothing is in
// flight and the queue is non-empty; otherwise it is a no-op. It
// reports false only when send itself refused the message.
func (q *outboundQueue) tryDeliver(send func(text string) bool) bool {
	if q.inFlight || len(q.pending) == 0 {
		return true
	}
	head := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = true
	return send(head)
}

// release frees the in-flight slot after a delivery completes.
func (q *outboundQueue) release() {
	q.inFlight = false
}

// clear drops all pending messages and the in-flight slot.
func (q *outboundQueue) clear() {
	q.pending = nil
	q.inFlight = false
}
