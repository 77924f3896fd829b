// Package scroll turns boundary proximity signals into page fetches.
//
// A [Trigger] watches two sentinels. When the viewport comes within
// [Options.Threshold] of the bottom sentinel it asks the source for the next
// page; near the top sentinel it asks for the previous one. The threshold
// lets fetching start before the true edge is reached.
//
// # State Machine
//
// Each direction runs its own machine:
//
//	Idle --near & guards pass--> Fetching --result--> Idle
//	any  --Dispose-------------> Disposed
//
// The directions are independent, so a forward and a backward fetch may be in
// flight at the same time, but neither can overlap with itself: signals that
// arrive while a direction is Fetching are dropped. Disposed is terminal; a
// result that resolves afterwards is discarded without a callback.
//
// Guards are read from the source snapshot (see
// [feed.Snapshot.ForwardBlocker]), so the trigger and the source always agree
// on whether a fetch is allowed.
package scroll
