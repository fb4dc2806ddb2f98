// Package timeline converts raw room timelines into the domain model.
//
// The converter paginates the full backward timeline of a room, classifies
// every event (room messages and reactions pass, everything else is
// dropped), and aggregates reactions onto the messages they annotate. For
// a fixed timeline snapshot the output does not depend on the pagination
// batch size.
package timeline
