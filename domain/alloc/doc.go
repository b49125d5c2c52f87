// Package alloc carves blocks out of a raw shared region.
//
// The region is treated as a byte arena. Every block handed out is a
// Ptr, the offset of its payload from the region base; Nil (offset 0)
// never names a block because the pool header lives there. All unsafe
// pointer arithmetic over the region stays inside this package.
//
// Region layout:
//
//	[pool header | lock words | group table | pad][arena 0]...[arena N-1]
//
// and every arena is
//
//	[arena header | quick heads | pad][fragment][fragment]...
//
// A fragment is framed by two boundary tags holding group|size|state,
// the accounting group in the top 16 bits:
//
//	[hdr:8][payload...][ftr:8]
//
// Free fragments keep their list links in the first payload words.
// The allocator state is not synchronized here: callers serialize
// mutations through the guard words exposed by Adapter.LockWords.
package alloc
