package conductor

import "github.com/MrsZ/janus-gateway-win/internal/signal"

// transaction is a pending expectation of a gateway response, keyed by
// the transaction identifier sent with the request.
type transaction struct {
	onSuccess func(msg signal.Message)
	onError   func(msg signal.Message)
	onEvent   func(msg signal.Message)
}

// transactionTable maps identifiers to pending expectations. Owned by
// the conductor's run loop.
type transactionTable struct {
	pending map[string]transaction
}

func newTransactionTable() *transactionTable {
	return &transactionTable{pending: make(map[string]transaction)}
}

func (t *transactionTable) add(id string, tx transaction) {
	t.pending[id] = tx
}

func (t *transactionTable) len() int {
	return len(t.pending)
}

// resolve consumes the identifier on the first matching success or
// error and runs the corresponding handler. It reports false when no
// such transaction is pending, which callers treat as a no-op.
func (t *transactionTable) resolve(id string, msg signal.Message) bool {
	tx, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)

	switch msg.Kind {
	case signal.KindSuccess:
		if tx.onSuccess != nil {
			tx.onSuccess(msg)
		}
	case signal.KindError:
		if tx.onError != nil {
			tx.onError(msg)
		}
	}
	return true
}

// notifyEvent runs the event handler for a pending transaction without
// consuming it; plugin events may precede the final success or error.
func (t *transactionTable) notifyEvent(id string, msg signal.Message) bool {
	tx, ok := t.pending[id]
	if !ok {
		return false
	}
	if tx.onEvent != nil {
		tx.onEvent(msg)
	}
	return true
}

func (t *transactionTable) clear() {
	t.pending = make(map[string]transaction)
}
