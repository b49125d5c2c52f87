// Package usage records the lifetime allocation pattern of the shared
// pool: how many allocation requests were issued for each size class
// since startup.
//
// The pattern can be persisted at shutdown through a Store and replayed
// into a fresh pool at the next start ("warm start") so the pool begins
// life with the fragmentation shape real traffic left behind.
package usage
