// Package raceviewer plays a finished race back in a terminal.
package raceviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"duckrace/server/internal/playback"
	"duckrace/server/internal/race"
	"duckrace/server/internal/replay"
)

const (
	laneLabelWidth = 12
	logLines       = 5
	duckRune       = '>'
	waterRune      = '~'
	finishRune     = '|'
)

var (
	titleStyle  = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	laneStyle   = tcell.StyleDefault.Foreground(tcell.ColorBlue)
	duckStyle   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	finishStyle = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	textStyle   = tcell.StyleDefault
	logStyle    = tcell.StyleDefault.Foreground(tcell.ColorGreen)
)

// Race is everything the viewer needs to draw one race.
type Race struct {
	Title  string
	Result race.Result
}

// Load reads a race from a bundle directory, an outcome JSON file or a bare result JSON file.
func Load(path string) (Race, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Race{}, err
	}
	//1.- Bundles carry their own title in the header.
	if info.IsDir() {
		bundle, err := replay.OpenBundle(path)
		if err != nil {
			return Race{}, err
		}
		result, err := bundle.Result()
		if err != nil {
			return Race{}, err
		}
		title := bundle.Header.Title
		if title == "" {
			title = bundle.Header.RaceID
		}
		return Race{Title: title, Result: result}, nil
	}

	//2.- JSON files are either an outcome wrapping the result or the result itself.
	payload, err := os.ReadFile(path)
	if err != nil {
		return Race{}, err
	}
	var outcome struct {
		Title  string          `json:"title"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return Race{}, fmt.Errorf("decode %s: %w", path, err)
	}
	raw := payload
	if len(outcome.Result) > 0 {
		raw = outcome.Result
	}
	var result race.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Race{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(result.Standings) == 0 {
		return Race{}, errors.New("file holds no race standings")
	}
	return Race{Title: outcome.Title, Result: result}, nil
}

// Cell is one styled rune at a screen coordinate.
type Cell struct {
	X, Y  int
	Rune  rune
	Style tcell.Style
}

// Layout renders one playback frame into cells for a width x height terminal.
// Row 0 is the title, one lane per racer follows, then the most recent log lines.
func Layout(width, height int, title string, frame playback.Frame, names map[string]string, log []string) []Cell {
	if width <= 0 || height <= 0 {
		return nil
	}
	var cells []Cell
	text := func(x, y int, s string, style tcell.Style) {
		if y < 0 || y >= height {
			return
		}
		for _, r := range s {
			if x >= width {
				return
			}
			if x >= 0 {
				cells = append(cells, Cell{X: x, Y: y, Rune: r, Style: style})
			}
			x++
		}
	}

	text(0, 0, fmt.Sprintf("%s  %.1fs", title, frame.ElapsedMs/1000), titleStyle)

	//1.- Lanes: label, water up to the finish marker, the duck and a percentage.
	trackStart := laneLabelWidth + 1
	trackWidth := width - trackStart - 6
	for i, pos := range frame.Positions {
		y := 2 + i
		if y >= height-1 {
			break
		}
		label := names[pos.ID]
		if label == "" {
			label = pos.ID
		}
		if runes := []rune(label); len(runes) > laneLabelWidth {
			label = string(runes[:laneLabelWidth])
		}
		text(0, y, label, textStyle)
		if trackWidth < 2 {
			continue
		}
		text(trackStart, y, strings.Repeat(string(waterRune), trackWidth), laneStyle)
		text(trackStart+trackWidth, y, string(finishRune), finishStyle)
		duckX := trackStart + int(pos.Progress*float64(trackWidth-1))
		text(duckX, y, string(duckRune), duckStyle)
		text(trackStart+trackWidth+1, y, fmt.Sprintf("%3.0f%%", pos.Progress*100), textStyle)
	}

	//2.- Event log below the lanes, newest last.
	top := 3 + len(frame.Positions)
	if len(log) > logLines {
		log = log[len(log)-logLines:]
	}
	for i, line := range log {
		text(0, top+i, line, logStyle)
	}
	return cells
}

// Describe turns a race event into a one-line log entry.
func Describe(event race.Event, names map[string]string) string {
	name := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return id
	}
	header := event.Header()
	at := float64(header.TimeMs) / 1000
	actor := name(header.ActorID)
	switch e := event.(type) {
	case race.FinishEvent:
		return fmt.Sprintf("%6.1fs %s finished in %.2fs", at, actor, e.FinishTime/1000)
	case race.BoostEvent:
		return fmt.Sprintf("%6.1fs %s boosts x%.1f", at, actor, e.Multiplier)
	case race.BombEvent:
		if e.TargetID == "" {
			return fmt.Sprintf("%6.1fs %s's bomb fizzles", at, actor)
		}
		return fmt.Sprintf("%6.1fs %s bombs %s", at, actor, name(e.TargetID))
	case race.SplashEvent:
		return fmt.Sprintf("%6.1fs %s splashes %d ducks", at, actor, e.AffectedCount)
	case race.ImmuneEvent:
		return fmt.Sprintf("%6.1fs %s turns immune", at, actor)
	case race.LightningEvent:
		return fmt.Sprintf("%6.1fs %s strikes %d ducks with lightning", at, actor, e.AffectedCount)
	case race.MagnetEvent:
		if e.TargetID == "" {
			return fmt.Sprintf("%6.1fs %s's magnet fizzles", at, actor)
		}
		return fmt.Sprintf("%6.1fs %s pulls towards %s (+%.0f%%)", at, actor, name(e.TargetID), e.BoostPercent)
	default:
		return fmt.Sprintf("%6.1fs %s %s", at, actor, event.Kind())
	}
}

// Names maps racer ids to display names from the standings.
func Names(result race.Result) map[string]string {
	names := make(map[string]string, len(result.Standings))
	for _, standing := range result.Standings {
		names[standing.ID] = standing.Name
	}
	return names
}

// Viewer drives a tcell screen through one race.
type Viewer struct {
	screen tcell.Screen
	race   Race
	speed  float64
	hz     float64
}

// NewViewer binds a race to an initialised screen.
func NewViewer(screen tcell.Screen, r Race, speed, hz float64) *Viewer {
	return &Viewer{screen: screen, race: r, speed: speed, hz: hz}
}

// Run plays the race until it ends, ctx is cancelled or the user presses q, Esc or Ctrl-C.
// The final frame stays on screen until a key is pressed when hold is true.
func (v *Viewer) Run(ctx context.Context, hold bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan struct{})
	go v.pollKeys(cancel, quit)

	cursor := playback.NewCursor(v.race.Result)
	names := Names(v.race.Result)
	var log []string
	duration := float64(cursor.Duration())
	pump := playback.NewPump(v.hz, v.speed, func(elapsed time.Duration) bool {
		elapsedMs := min(float64(elapsed)/float64(time.Millisecond), duration)
		for _, event := range cursor.Advance(elapsedMs) {
			log = append(log, Describe(event, names))
		}
		v.draw(cursor.Frame(elapsedMs), log)
		return !cursor.Done()
	})
	err := pump.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil || !hold {
		return err
	}
	select {
	case <-quit:
	case <-ctx.Done():
	}
	return nil
}

func (v *Viewer) draw(frame playback.Frame, log []string) {
	width, height := v.screen.Size()
	v.screen.Clear()
	for _, cell := range Layout(width, height, v.race.Title, frame, Names(v.race.Result), log) {
		v.screen.SetContent(cell.X, cell.Y, cell.Rune, nil, cell.Style)
	}
	v.screen.Show()
}

func (v *Viewer) pollKeys(cancel context.CancelFunc, quit chan<- struct{}) {
	for {
		switch ev := v.screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			v.screen.Sync()
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
				cancel()
				close(quit)
				return
			}
		}
	}
}
