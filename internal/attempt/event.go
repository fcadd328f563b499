// Package attempt drives download attempts through their state machine.
//
// A Source produces progress events, the controller folds them into the
// current snapshot with Reduce and publishes the result. Reduce is pure, so the
// same rules hold whether events come from the simulated timers or from the
// download bridge.
package attempt

import (
	"fmt"
	"time"

	"dvzoll/internal/entity"
	"dvzoll/pkg/calc"
)

// Event is a progress notification for the running attempt.
type Event interface {
	event()
}

// Fetched reports that media info was resolved and the transfer starts.
type Fetched struct {
	Filename string
}

// Progressed reports the single item transfer percentage.
type Progressed struct {
	Percent int
}

// Converting reports that the transfer finished and post-processing started.
type Converting struct{}

// Completed reports success of the whole attempt.
type Completed struct {
	OutputPath string
}

// Failed reports failure of the whole attempt.
type Failed struct {
	Message string
}

// TracksResolved carries the playlist entries in processing order.
type TracksResolved struct {
	Tracks []entity.Track
}

// TrackProgressed reports the transfer percentage of track Index.
type TrackProgressed struct {
	Index   int
	Percent int
}

// TrackFinished reports that track Index completed.
type TrackFinished struct {
	Index int
}

// TrackFailed reports that track Index failed; the playlist moves on.
type TrackFailed struct {
	Index   int
	Message string
}

func (Fetched) event()         {}
func (Progressed) event()      {}
func (Converting) event()      {}
func (Completed) event()       {}
func (Failed) event()          {}
func (TracksResolved) event()  {}
func (TrackProgressed) event() {}
func (TrackFinished) event()   {}
func (TrackFailed) event()     {}

// Reduce returns the attempt after applying ev at now. Events that are not
// valid for the current status are ignored, terminal attempts never change.
func Reduce(a entity.Attempt, ev Event, now time.Time) entity.Attempt {
	if a.Status.Terminal() || a.Status == entity.AttemptStatusIdle {
		return a
	}

	a = a.Clone()
	prev := a.Status

	switch ev := ev.(type) {
	case Fetched:
		if a.Status != entity.AttemptStatusFetching {
			return a
		}

		a.Status = entity.AttemptStatusDownloading
		a.Filename = ev.Filename
		a.Progress = 0

	case Progressed:
		if a.Status == entity.AttemptStatusFetching {
			a.Status = entity.AttemptStatusDownloading
		}

		if a.Status != entity.AttemptStatusDownloading {
			return a
		}

		a.Progress = max(a.Progress, calc.Clamp(ev.Percent, 0, 100))

	case Converting:
		if a.Status != entity.AttemptStatusDownloading {
			return a
		}

		a.Status = entity.AttemptStatusConverting
		a.Progress = 100

	case Completed:
		a.Status = entity.AttemptStatusDone
		a.Progress = 100
		a.OutputPath = ev.OutputPath

	case Failed:
		a.Status = entity.AttemptStatusError
		a.Message = ev.Message

	case TracksResolved:
		a = resolveTracks(a, ev.Tracks)

	case TrackProgressed:
		if !isCurrent(a, ev.Index) {
			return a
		}

		a.Tracks[ev.Index].Progress = max(a.Tracks[ev.Index].Progress, calc.Clamp(ev.Percent, 0, 100))

	case TrackFinished:
		if !isCurrent(a, ev.Index) {
			return a
		}

		a.Tracks[ev.Index].Status = entity.TrackStatusDone
		a.Tracks[ev.Index].Progress = 100
		a.Completed++
		a = advance(a, ev.Index)

	case TrackFailed:
		if !isCurrent(a, ev.Index) {
			return a
		}

		a.Tracks[ev.Index].Status = entity.TrackStatusError
		a.Tracks[ev.Index].Message = ev.Message
		a = advance(a, ev.Index)
	}

	if a.Status != prev || a.Status.Busy() {
		a.UpdatedAt = now
	}

	return a
}

func resolveTracks(a entity.Attempt, tracks []entity.Track) entity.Attempt {
	if a.Status != entity.AttemptStatusFetching {
		return a
	}

	if len(tracks) == 0 {
		a.Status = entity.AttemptStatusError
		a.Message = "playlist has no tracks"

		return a
	}

	a.Tracks = make([]entity.Track, len(tracks))
	for i, tr := range tracks {
		tr.Progress = 0
		tr.Status = entity.TrackStatusQueued
		tr.Message = ""
		a.Tracks[i] = tr
	}

	a.Tracks[0].Status = entity.TrackStatusDownloading
	a.Status = entity.AttemptStatusDownloading
	a.Completed = 0
	a.Progress = 0

	return a
}

func isCurrent(a entity.Attempt, i int) bool {
	return a.Status == entity.AttemptStatusDownloading &&
		i >= 0 && i < len(a.Tracks) &&
		a.Tracks[i].Status == entity.TrackStatusDownloading
}

// advance moves the cursor past track i, finishing the attempt after the last one.
func advance(a entity.Attempt, i int) entity.Attempt {
	a.Progress = calc.Progress(a.Completed, len(a.Tracks))

	if next := i + 1; next < len(a.Tracks) {
		a.Tracks[next].Status = entity.TrackStatusDownloading

		return a
	}

	a.Status = entity.AttemptStatusDone
	if failed := len(a.Tracks) - a.Completed; failed > 0 {
		a.Message = fmt.Sprintf("%d of %d tracks failed", failed, len(a.Tracks))
	}

	return a
}
