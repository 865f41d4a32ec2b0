// Package stream bridges demand-driven publishers to single-value futures.
//
// A Publisher emits zero or more items to a Subscriber, but only as many as
// the subscriber has requested through its Subscription. First and Last adapt
// a publisher into a Future:
//
//	fut := stream.First(kv.GetPublisher(ctx, "config"))
//	entry, ok, err := fut.Await(ctx)
//
// First requests exactly one item and cancels upstream once it arrives. Last
// requests one item at a time and completes with the final item when the
// publisher completes. A nil item (nil pointer, map, slice, or interface)
// completes the future as absent rather than as a value.
//
// A Future completes exactly once. Cancelling it cancels the upstream
// subscription and completes it with context.Canceled unless it already
// completed.
package stream
