// Package dispatch moves threshold event delivery off the allocating
// goroutine. Async hands events to a single-producer single-consumer
// ring; a background goroutine drains the ring into the real
// publisher.
//
// Single producer holds because the threshold notifier never has two
// publishes in flight: its pending flag serializes them.
package dispatch
