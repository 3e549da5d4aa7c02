// Package events bridges domain events to the durable log and streams them
// to long-lived subscribers.
//
// Publishing appends one entry per event to a single shared stream, so the
// log order is the publish order. Subscribing joins a consumer group under a
// fresh consumer identity, replays the group's pending entries, then follows
// new entries, acknowledging each one only after it was delivered. Delivery
// is at-least-once; subscribers must treat a repeated event ID as a
// duplicate.
package events
