package accel

import "fmt"

// Elapsed returns end minus start of a completed command in nanoseconds, as
// reported by the device clock. The queue must have been created with
// QueueProfiling.
func Elapsed(event Event) (uint64, error) {
	start, err := event.ProfilingInfo(ProfilingStart)
	if err != nil {
		return 0, newError(ErrProfilingUnavailable, "GetEventProfilingInfo", err)
	}
	end, err := event.ProfilingInfo(ProfilingEnd)
	if err != nil {
		return 0, newError(ErrProfilingUnavailable, "GetEventProfilingInfo", err)
	}
	if end < start {
		return 0, newError(ErrProfilingUnavailable, "GetEventProfilingInfo",
			fmt.Errorf("end timestamp %d precedes start %d", end, start))
	}
	return end - start, nil
}
