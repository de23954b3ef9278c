package container

// TimeScale is the media time base of the video track, in ticks per second.
const TimeScale = 90000

const nanosPerSecond = 1_000_000_000

// NanosToTicks converts nanoseconds to TimeScale ticks, splitting whole seconds
// from the remainder so the multiplication cannot overflow int64 for any
// realistic capture clock.
func NanosToTicks(ns int64) int64 {
	return (ns/nanosPerSecond)*TimeScale + (ns%nanosPerSecond)*TimeScale/nanosPerSecond
}

// TicksToNanos is the inverse of NanosToTicks, truncating to whole nanoseconds.
func TicksToNanos(ticks int64) int64 {
	return (ticks/TimeScale)*nanosPerSecond + (ticks%TimeScale)*nanosPerSecond/TimeScale
}
