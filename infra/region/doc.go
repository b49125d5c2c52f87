// Package region obtains and releases the OS shared-memory region the
// pool lives in.
//
// Three backings are supported: an anonymous shared mapping, a shared
// mapping of /dev/zero, and a System V segment. Mappings are inherited
// by forked workers; a System V segment can also be attached by
// unrelated processes through its id.
package region
