// Package service is the single entry point to the shared pool.
//
// Pool ties the region, the allocator, the guard words, the usage
// histogram and the threshold notifier into one object with an
// explicit lifecycle: New (or Attach in a worker process), then
// Allocate/Free/Resize/Check from any goroutine, then Destroy once.
// Transports such as gRPC and the metrics endpoint sit on top of it.
package service
