// Package threshold raises an event when pool usage crosses a
// configured percentage.
//
// The notifier is edge triggered: it fires once when usage reaches the
// threshold and re-arms only after usage drops back below it. Its state
// lives in the shared pool header so all processes agree on it. The
// publish call runs with the pool guard released, so a slow publisher
// never stalls allocations; a pending flag keeps a second crossing from
// firing while the first event is still in flight.
package threshold
