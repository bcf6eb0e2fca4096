// Package agent runs the conversational loop: model rounds bounded by a
// budget, tool calls executed in the order the model requested, per-sender
// history, one in-flight loop per sender.
//
// Invariants:
//   - Loops are serialized per sender lane through commandqueue.
//   - Tool calls route through toolexecutor only; the loop never computes
//     inventory numbers itself.
//   - Every run ends with exactly one assistant turn or an abort marker.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	reply, _ := runner.HandleMessage(ctx, "whatsapp:+63917", "how many oak boxes left?")
package agent
