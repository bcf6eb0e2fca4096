// Package commandqueue serializes agent work per sender identity.
//
// Each lane is a sender; at most one task runs per lane at a time, in FIFO
// order, so two messages from the same number can never interleave their
// inventory writes. Lanes are independent of each other.
//
// Invariants:
//   - Tasks in the same lane execute one at a time, in enqueue order.
//   - Tasks in different lanes may execute concurrently.
//   - A request ID seen within the idempotency window returns the cached
//     result instead of running the task again.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue("whatsapp:+63917", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
