package tui

import (
	"fmt"
	"strings"
	"time"

	"dvzoll/internal/entity"
	"dvzoll/internal/platform"
	"dvzoll/pkg/calc"
)

// maxTracks bounds the playlist rows shown at once.
const maxTracks = 10

func (m Model) View() string {
	var b strings.Builder

	a := m.attempt

	b.WriteString(TitleStyle.Render("dvzoll"))
	b.WriteString("\n\n")

	if a.Status == entity.AttemptStatusIdle && !m.started {
		b.WriteString(SubtleStyle.Render("waiting for the attempt to start..."))

		return AppStyle.Render(b.String())
	}

	fmt.Fprintf(&b, "%s  %s %s\n", platform.DisplayName(a.Platform), a.Mode, a.Quality)
	b.WriteString(SubtleStyle.Render(a.URL))
	b.WriteString("\n\n")

	b.WriteString(statusLine(a))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %3d%%%s\n", m.bar.ViewAs(float64(a.Progress)/100), a.Progress, eta(a))

	if a.IsPlaylist && len(a.Tracks) > 0 {
		fmt.Fprintf(&b, "\n%d of %d tracks\n", a.Completed, len(a.Tracks))

		for i, t := range a.Tracks {
			if i == maxTracks {
				b.WriteString(SubtleStyle.Render(fmt.Sprintf("  ... %d more", len(a.Tracks)-maxTracks)))
				b.WriteString("\n")

				break
			}

			b.WriteString(trackLine(t))
			b.WriteString("\n")
		}
	}

	if !m.quitting {
		b.WriteString("\n")
		b.WriteString(SubtleStyle.Render("q: cancel"))
	}

	return AppStyle.Render(b.String())
}

// eta extrapolates the remaining download time from the snapshot timestamps.
func eta(a entity.Attempt) string {
	if a.Status != entity.AttemptStatusDownloading || a.StartedAt.IsZero() {
		return ""
	}

	left := calc.ETA(a.Progress, a.UpdatedAt.Sub(a.StartedAt))
	if left <= 0 {
		return ""
	}

	return SubtleStyle.Render("  eta " + left.Round(time.Second).String())
}

func statusLine(a entity.Attempt) string {
	switch a.Status {
	case entity.AttemptStatusDone:
		msg := "done"
		if a.OutputPath != "" {
			msg += ": " + a.OutputPath
		}

		return SuccessStyle.Render(msg)
	case entity.AttemptStatusError:
		return ErrorStyle.Render("error: " + a.Message)
	case entity.AttemptStatusIdle:
		return SubtleStyle.Render("cancelled")
	default:
		line := string(a.Status)
		if a.Filename != "" {
			line += " " + a.Filename
		}

		return ActiveStyle.Render(line)
	}
}

func trackLine(t entity.Track) string {
	switch t.Status {
	case entity.TrackStatusDone:
		return SuccessStyle.Render("  ✓ ") + t.Title
	case entity.TrackStatusError:
		return ErrorStyle.Render("  ✗ ") + t.Title + SubtleStyle.Render(" "+t.Message)
	case entity.TrackStatusDownloading:
		return ActiveStyle.Render(fmt.Sprintf("  ↓ %s %d%%", t.Title, t.Progress))
	default:
		return SubtleStyle.Render("  · " + t.Title)
	}
}
