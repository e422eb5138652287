package scheduler

import (
	"math"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
)

// WorkPeriods plans technician attendance inside a machine run. When the
// labor is shorter than the run it is split into a setup half at the start
// and a teardown half that ends with the run.
func WorkPeriods(manHours, cycleTime float64) []lab.WorkPeriod {
	if manHours <= 0 || cycleTime <= 0 {
		return nil
	}
	if manHours < cycleTime {
		half := manHours / 2
		return []lab.WorkPeriod{
			{Start: 0, Duration: half},
			{Start: cycleTime - half, Duration: half},
		}
	}
	return []lab.WorkPeriod{{Start: 0, Duration: manHours}}
}

// Elapsed returns the hours between start and now; negative before start.
func Elapsed(start, now time.Time) float64 {
	return now.Sub(start).Hours()
}

// RemainingManHours returns the technician labor still outstanding on at.
func RemainingManHours(at *lab.ActiveTest, now time.Time) float64 {
	if at == nil {
		return 0
	}
	elapsed := Elapsed(at.StartTime, now)
	if elapsed <= 0 {
		return math.Max(0, at.ManHours)
	}
	if elapsed >= at.CycleTime {
		return 0
	}
	periods := at.WorkPeriods
	if len(periods) == 0 {
		periods = WorkPeriods(at.ManHours, at.CycleTime)
	}
	var total float64
	for _, p := range periods {
		end := p.Start + p.Duration
		switch {
		case elapsed < p.Start:
			total += p.Duration
		case elapsed < end:
			total += end - elapsed
		}
	}
	return total
}

// RemainingCycleTime returns the machine run time left on at.
func RemainingCycleTime(at *lab.ActiveTest, now time.Time) float64 {
	if at == nil {
		return 0
	}
	elapsed := math.Max(0, Elapsed(at.StartTime, now))
	return math.Max(0, at.CycleTime-elapsed)
}
