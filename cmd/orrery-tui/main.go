// Command orrery-tui runs the simulation in-process and draws a top-down
// plot of the NEO field and the planets in the terminal.
//
// Keys: q quit, space pause, ←/→ seek ∓30 days, +/- zoom, [/] halve or
// double the clock rate.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/config"
	"github.com/Nolaskote/Simulation/internal/field"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/simclock"
	"github.com/Nolaskote/Simulation/internal/transform"
)

const (
	seekStep  = 30.0
	zoomStep  = 1.5
	minRadius = 0.2
	maxRadius = 60
)

var planetStyles = map[string]tcell.Style{
	"Mercury": tcell.StyleDefault.Foreground(tcell.ColorGray),
	"Venus":   tcell.StyleDefault.Foreground(tcell.ColorYellow),
	"Earth":   tcell.StyleDefault.Foreground(tcell.ColorBlue),
	"Mars":    tcell.StyleDefault.Foreground(tcell.ColorRed),
	"Jupiter": tcell.StyleDefault.Foreground(tcell.ColorOrange),
	"Saturn":  tcell.StyleDefault.Foreground(tcell.ColorYellow),
	"Uranus":  tcell.StyleDefault.Foreground(tcell.ColorTeal),
	"Neptune": tcell.StyleDefault.Foreground(tcell.ColorNavy),
}

var (
	radius  float64
	logPath string
)

var rootCmd = &cobra.Command{
	Use:   "orrery-tui [FILE]",
	Short: "Terminal view of the NEO field",
	Long: `Runs the orbital field in-process and plots it from above the ecliptic.
Configuration is read like the server's (ORRERY_CONFIG and ORRERY_* variables);
FILE overrides population.path.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().Float64Var(&radius, "radius", 3, "initial view radius in AU")
	rootCmd.Flags().StringVar(&logPath, "log", filepath.Join(os.TempDir(), "orrery-tui.log"), "log file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

type viewer struct {
	screen  tcell.Screen
	field   *field.Field
	clock   *simclock.Clock
	frames  *cache.FrameCache
	radius  float64
	classes []neo.Class
	version uint64
}

func run(cmd *cobra.Command, args []string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Population.Path = args[0]
	}

	var pop *neo.Population
	if cfg.Population.Path != "" {
		pop, err = neo.LoadFile(cfg.Population.Path, logger)
	} else {
		pop, err = neo.LoadCached(neo.NewCache(cfg.Population.CacheDir, cfg.Population.MaxFiles), logger)
	}
	if err != nil {
		return fmt.Errorf("loading population: %w", err)
	}

	prop := propagation.NewPropagator(cfg.Propagation, logger)
	frames := cache.NewFrameCache(cfg.CacheFrames, logger)
	clock := simclock.New(cfg.Clock.StartDays, cfg.Clock.Rate, simclock.System())
	fld := field.New(cfg.Field, clock, frames, prop, simclock.System(), logger)
	fld.Load(pop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fld.Run(ctx)

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	v := &viewer{
		screen: screen,
		field:  fld,
		clock:  clock,
		frames: frames,
		radius: min(max(radius, minRadius), maxRadius),
	}
	v.loop()
	return nil
}

func (v *viewer) loop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			eventChan <- ev
		}
	}()

	for {
		select {
		case ev := <-eventChan:
			if !v.handleInput(ev) {
				return
			}
			v.draw()
		case <-ticker.C:
			v.draw()
		}
	}
}

func (v *viewer) handleInput(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return false
		case tcell.KeyLeft:
			v.clock.Seek(v.clock.Now() - seekStep)
		case tcell.KeyRight:
			v.clock.Seek(v.clock.Now() + seekStep)
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'q':
				return false
			case ' ':
				if v.clock.Sample().Paused {
					v.clock.Resume()
				} else {
					v.clock.Pause()
				}
			case '+', '=':
				v.radius = max(v.radius/zoomStep, minRadius)
			case '-', '_':
				v.radius = min(v.radius*zoomStep, maxRadius)
			case '[':
				v.clock.SetRate(v.clock.Sample().Rate / 2)
			case ']':
				rate := v.clock.Sample().Rate
				if rate == 0 {
					rate = 0.5
				}
				v.clock.SetRate(rate * 2)
			}
		}
	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true
}

// refreshClasses caches the class of every body for the current population.
func (v *viewer) refreshClasses() {
	pop, version := v.field.Population()
	if version == v.version && v.classes != nil {
		return
	}
	v.classes = make([]neo.Class, pop.Len())
	for i := range v.classes {
		v.classes[i] = pop.Body(i).Class
	}
	v.version = version
}

func (v *viewer) draw() {
	v.screen.Clear()
	width, height := v.screen.Size()
	if width < 20 || height < 5 {
		v.screen.Show()
		return
	}
	plotHeight := height - 1
	vw := view{width: width, height: plotHeight, radius: v.radius}

	v.refreshClasses()
	f := v.frames.Latest()

	visible := 0
	if f != nil {
		if f.Population == v.version {
			d := newDensity(width, plotHeight)
			visible = d.plot(vw, f.Positions, f.Scale, v.classes)
			neoStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)
			phaStyle := tcell.StyleDefault.Foreground(tcell.ColorRed)
			for j, n := range d.counts {
				if n == 0 {
					continue
				}
				style := neoStyle
				if d.hazard[j] {
					style = phaStyle
				}
				v.screen.SetContent(j%width, j/width, glyph(n), nil, style)
			}
		}

		for _, p := range f.Planets {
			if col, row, ok := vw.cell(p.Position.X, p.Position.Y); ok {
				v.screen.SetContent(col, row, rune(p.Name[0]), nil, planetStyles[p.Name].Bold(true))
			}
		}
	}

	if col, row, ok := vw.cell(0, 0); ok {
		v.screen.SetContent(col, row, '@', nil, tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true))
	}

	v.drawStatus(height-1, width, f, visible)
	v.screen.Show()
}

func (v *viewer) drawStatus(row, width int, f *cache.Frame, visible int) {
	s := v.clock.Sample()
	state := "running"
	switch {
	case v.field.Degraded():
		state = "degraded"
	case !v.field.Ready():
		state = "starting"
	case s.Paused:
		state = "paused"
	}

	bodies, nonFinite := 0, 0
	if f != nil {
		bodies, nonFinite = f.Bodies(), f.NonFinite
	}
	line := fmt.Sprintf(" %s  t=%.1f  rate=%g d/s  %s  bodies=%d shown=%d nan=%d  r=%.2f AU  [q]uit [space] [←→] [+-] [[]]",
		transform.TimeFromDays(s.Days).Format("2006-01-02"), s.Days, s.Rate, state,
		bodies, visible, nonFinite, v.radius)

	style := tcell.StyleDefault.Reverse(true)
	col := 0
	for _, r := range line {
		if col >= width {
			break
		}
		v.screen.SetContent(col, row, r, nil, style)
		col++
	}
	for ; col < width; col++ {
		v.screen.SetContent(col, row, ' ', nil, style)
	}
}
