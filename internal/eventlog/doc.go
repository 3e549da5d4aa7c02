// Package eventlog provides the durable, consumer-group log behind the
// event bridge.
//
// The Log interface follows stream/consumer-group semantics:
//
//   - Append adds an entry with a monotonically increasing ID.
//   - A consumer group keeps one cursor (last delivered ID) per stream.
//   - ReadGroup with From ">" hands out entries past the cursor and records
//     them in the group's pending list under the reading consumer.
//   - ReadGroup with any other From replays pending entries after that ID.
//   - Ack removes an entry from the pending list. Acking twice is a no-op.
//   - DeleteConsumer forgets a consumer; its pending entries stay in the
//     group and are claimed by the next consumer that replays.
//
// Two implementations exist: SQLiteLog (default, single node) and
// JetStreamLog (NATS JetStream, where redelivery of unacked messages is
// handled by the server).
package eventlog
