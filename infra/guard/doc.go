// Package guard serializes access to the shared pool.
//
// A Guard is a set of spin locks whose words live inside the shared
// region, so every process mapping the region contends on the same
// locks. Locks are blocking and not reentrant; there is no timeout and
// no fairness. Waiters yield the processor between attempts.
package guard
