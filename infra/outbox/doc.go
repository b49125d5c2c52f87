// Package outbox is a durable store for threshold events waiting to be
// delivered. Publish records an event and returns once it is synced to
// disk; the broadcaster job drains records to Kafka and marks them
// acknowledged. Events survive a broker outage and a process restart.
package outbox
