// Package retry drives failed commands back through the dispatcher.
//
// State machine per command:
//
//	Pending ──▶ Executing ──▶ Succeeded
//	                 │
//	                 ▼
//	              Failed ──(count < max)──▶ QueuedForRetry ──▶ Executing
//	                 │
//	                 └──(count >= max)──▶ Abandoned
//
// The dispatcher hands first-attempt failures of retryable kinds to the
// Coordinator, which parks them on the dead-letter list. The coordinator
// loop pops records, waits a fixed interval, resubmits them with the next
// attempt number and counts the attempt in a counter persisted per command
// ID. Once the counter reaches the bound, the record moves to the abandoned
// list and a single command.abandoned event is published.
package retry
