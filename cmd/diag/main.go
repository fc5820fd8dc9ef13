// Command diag inspects population files offline: class counts and
// validation issues, single-body positions, and batch transform timing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Nolaskote/Simulation/internal/kepler"
	"github.com/Nolaskote/Simulation/internal/neo"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/transform"
)

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

var rootCmd = &cobra.Command{
	Use:           "diag",
	Short:         "Offline diagnostics for NEO population files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var statsCmd = &cobra.Command{
	Use:   "stats FILE",
	Short: "Print class counts and element validation issues",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var positionCmd = &cobra.Command{
	Use:   "position FILE ID",
	Short: "Print one body's elements and heliocentric position",
	Args:  cobra.ExactArgs(2),
	RunE:  runPosition,
}

var benchCmd = &cobra.Command{
	Use:   "bench FILE",
	Short: "Time the batch transform over the whole population",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

var (
	atTime     string
	maxIssues  int
	iterations int
	workers    int
	chunkSize  int
	sceneScale float64
)

func init() {
	statsCmd.Flags().IntVar(&maxIssues, "issues", 10, "validation issues to list")

	positionCmd.Flags().StringVar(&atTime, "t", "now", "time: days since J2000, RFC 3339, or now")
	positionCmd.Flags().Float64Var(&sceneScale, "scale", transform.DefaultScale, "scene units per AU")

	benchCmd.Flags().StringVar(&atTime, "t", "now", "time: days since J2000, RFC 3339, or now")
	benchCmd.Flags().IntVar(&iterations, "iterations", 20, "batches to time")
	benchCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "goroutines per batch")
	benchCmd.Flags().IntVar(&chunkSize, "chunk", 1024, "bodies per job")

	rootCmd.AddCommand(statsCmd, positionCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func parseTime() (float64, error) {
	days, ok := transform.ParseStart(atTime, time.Now())
	if !ok {
		return 0, fmt.Errorf("invalid --t %q", atTime)
	}
	return days, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	pop, err := neo.LoadFile(args[0], logger)
	if err != nil {
		return err
	}

	s := pop.Stats()
	fmt.Printf("Loaded %d bodies from %s\n", s.Total, pop.Source)
	fmt.Printf("  PHA: %d  NEO: %d  planets: %d\n", s.PHA, s.NEO, s.Planets)

	var invalid int
	var axes []float64
	for _, b := range pop.Bodies() {
		issues := neo.Validate(b.Elements)
		if len(issues) > 0 {
			if invalid < maxIssues {
				fmt.Printf("  %s: %v\n", b.ID, issues)
			}
			invalid++
			continue
		}
		axes = append(axes, b.Elements.A)
	}
	fmt.Printf("Bodies with issues: %d\n", invalid)

	if len(axes) > 0 {
		sort.Float64s(axes)
		fmt.Printf("Semi-major axis (AU): min=%.3f median=%.3f max=%.3f mean=%.3f\n",
			axes[0], axes[len(axes)/2], axes[len(axes)-1], floats.Sum(axes)/float64(len(axes)))
	}
	return nil
}

func runPosition(cmd *cobra.Command, args []string) error {
	days, err := parseTime()
	if err != nil {
		return err
	}
	pop, err := neo.LoadFile(args[0], logger)
	if err != nil {
		return err
	}
	b, err := pop.Get(neo.ID(args[1]))
	if err != nil {
		return err
	}

	el := b.Elements
	fmt.Printf("%s %s (%s)\n", b.ID, b.Name, b.Class)
	fmt.Printf("  a=%.6f AU e=%.6f i=%.4f° Ω=%.4f° ω=%.4f° M=%.4f° P=%.3f d\n",
		el.A, el.E, el.I, el.Node, el.ArgPeri, el.MeanAnomaly, el.Period)
	if issues := neo.Validate(el); len(issues) > 0 {
		fmt.Printf("  issues: %v\n", issues)
	}

	pos := kepler.Position(el, days)
	scene := transform.EclipticToScene(pos, sceneScale)
	fmt.Printf("At %.4f days (%s):\n", days, transform.TimeFromDays(days).Format(time.RFC3339))
	fmt.Printf("  ecliptic AU: (%.6f, %.6f, %.6f) r=%.6f\n", pos.X, pos.Y, pos.Z, r3.Norm(pos))
	fmt.Printf("  scene:       (%.4f, %.4f, %.4f)\n", scene.X, scene.Y, scene.Z)
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	if iterations < 1 {
		return fmt.Errorf("--iterations must be at least 1")
	}
	days, err := parseTime()
	if err != nil {
		return err
	}
	pop, err := neo.LoadFile(args[0], logger)
	if err != nil {
		return err
	}

	prop := propagation.NewPropagator(propagation.PropConfig{Workers: workers, ChunkSize: chunkSize}, logger)
	ea := pop.ElementArrays()
	ctx := context.Background()

	durations := make([]float64, 0, iterations)
	var buf *propagation.PositionBuffer
	var nonFinite int
	for i := 0; i < iterations; i++ {
		var stats propagation.BatchStats
		buf, stats, err = prop.Compute(ctx, ea, days+float64(i), transform.DefaultScale, buf)
		if err != nil {
			return err
		}
		nonFinite = stats.NonFinite
		durations = append(durations, float64(stats.Duration.Microseconds())/1000)
	}

	sort.Float64s(durations)
	mean := floats.Sum(durations) / float64(len(durations))
	fmt.Printf("%d bodies, %d workers, %d iterations\n", ea.Len(), workers, iterations)
	fmt.Printf("  batch ms: min=%.3f median=%.3f max=%.3f mean=%.3f\n",
		durations[0], durations[len(durations)/2], durations[len(durations)-1], mean)
	if mean > 0 {
		fmt.Printf("  throughput: %.0f bodies/s\n", float64(ea.Len())/(mean/1000))
	}
	fmt.Printf("  non-finite positions: %d\n", nonFinite)
	return nil
}
