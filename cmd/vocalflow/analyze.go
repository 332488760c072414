package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalflow/internal/app"
	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/internal/feed"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run detectors over their sources and print transitions and a summary",
		Long: `analyze runs the configured detectors without the HTTP server. Each
confirmed transition is printed as it happens and a summary of every
detector is printed once its source ends.

Looping synthetic sources never end on their own; bound them with
--duration or set source.cycles in the config.`,
		Args: cobra.NoArgs,
		RunE: runAnalyze,
	}
	cmd.Flags().StringSliceP("detector", "d", nil, "only run the named detectors")
	cmd.Flags().Duration("duration", 0, "stop after this much wall time (0 waits for the sources to end)")
	cmd.Flags().Bool("realtime", false, "pace sources to real time instead of running as fast as possible")
	cmd.Flags().Bool("json", false, "print JSON lines in the feed message format instead of text")
	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	only, _ := cmd.Flags().GetStringSlice("detector")
	duration, _ := cmd.Flags().GetDuration("duration")
	realtime, _ := cmd.Flags().GetBool("realtime")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(path)
	if err != nil {
		return configError(path, err)
	}
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	detectors, err := selectDetectors(cfg.Detectors, only)
	if err != nil {
		return err
	}
	for i := range detectors {
		detectors[i].Realtime = realtime
		if src := detectors[i].Source; duration == 0 && src.Kind == config.SourceSynthetic && src.Cycles == 0 {
			return fmt.Errorf("detector %q loops forever; pass --duration or set source.cycles", detectors[i].Name)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	mgr := app.NewManager(app.ManagerConfig{Registry: app.DefaultRegistry()})

	reports := make([]*report, 0, len(detectors))
	pipelines := make([]*app.Pipeline, 0, len(detectors))
	for _, dc := range detectors {
		labels, err := detector.LabelsFor(dc.Labels)
		if err != nil {
			return fmt.Errorf("detector %q: %w", dc.Name, err)
		}
		r := &report{name: dc.Name, labels: labels, out: out, json: asJSON}
		p, err := mgr.Build(dc, r)
		if err != nil {
			for _, built := range pipelines {
				built.Close()
			}
			return err
		}
		reports = append(reports, r)
		pipelines = append(pipelines, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pipelines {
		g.Go(func() error { return p.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !asJSON {
		for _, r := range reports {
			r.printSummary()
		}
	}
	return nil
}

// selectDetectors returns the detectors named in only, or all of them when
// only is empty.
func selectDetectors(all []config.DetectorConfig, only []string) ([]config.DetectorConfig, error) {
	if len(only) == 0 {
		if len(all) == 0 {
			return nil, errors.New("the config declares no detectors")
		}
		return slices.Clone(all), nil
	}
	var out []config.DetectorConfig
	for _, name := range only {
		i := slices.IndexFunc(all, func(dc config.DetectorConfig) bool { return dc.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("no detector named %q", name)
		}
		out = append(out, all[i])
	}
	return out, nil
}

// syncWriter serialises writes from concurrent pipelines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// report prints one detector's transitions and keeps what its summary
// needs. It runs on the pipeline goroutine.
type report struct {
	name   string
	labels detector.Labels
	out    io.Writer
	json   bool

	last        detector.Snapshot
	profile     detector.CalibrationProfile
	transitions map[string]int
	vocal       map[detector.VocalClass]int
}

func (r *report) OnSnapshot(_ context.Context, snap detector.Snapshot) {
	r.last = snap
	if r.vocal == nil {
		r.vocal = make(map[detector.VocalClass]int)
	}
	if !snap.IsCalibrating {
		r.vocal[detector.ClassifyVocal(snap)]++
	}
}

func (r *report) OnTransition(_ context.Context, ev detector.TransitionEvent) {
	if r.transitions == nil {
		r.transitions = make(map[string]int)
	}
	r.transitions[r.labels.Name(ev.To)]++
	if r.json {
		r.writeJSON(feed.TransitionMessage(r.name, r.labels, ev))
		return
	}
	to := phaseStyles[ev.To%4].Render(r.labels.Name(ev.To))
	fmt.Fprintf(r.out, "%10s  %-12s %s → %s\n",
		formatOffset(ev.Timestamp), r.name, r.labels.Name(ev.From), to)
}

func (r *report) OnCalibrated(_ context.Context, snap detector.Snapshot, p detector.CalibrationProfile) {
	r.profile = p
	if r.json {
		r.writeJSON(feed.CalibratedMessage(r.name, snap, p))
		return
	}
	fmt.Fprintf(r.out, "%10s  %-12s %s %s\n",
		formatOffset(snap.Timestamp), r.name, keyStyle.UnsetWidth().Render("calibrated"), p.String())
}

func (r *report) writeJSON(m feed.Message) {
	data, err := feed.JSONCodec.Marshal(m)
	if err != nil {
		slog.Warn("encode message", "detector", r.name, "err", err)
		return
	}
	fmt.Fprintf(r.out, "%s\n", data)
}

func (r *report) printSummary() {
	lines := []string{
		titleStyle.Render(r.name),
		row("Frames", r.last.Frame),
		row("Duration", formatOffset(r.last.Timestamp)),
	}
	if r.profile.Complete {
		lines = append(lines, row("Calibration", r.profile.String()))
	} else {
		lines = append(lines, row("Calibration", "incomplete"))
	}
	for _, p := range []detector.Phase{detector.Rising, detector.Sustained, detector.Falling, detector.Idle} {
		name := r.labels.Name(p)
		lines = append(lines, row("→ "+name, r.transitions[name]))
	}
	lines = append(lines,
		row("Rate", fmt.Sprintf("%.1f /min", r.last.RateEventsPerMinute)),
		row("Coherence", fmt.Sprintf("%.0f", r.last.Coherence)),
		row("Stability", fmt.Sprintf("%.0f", r.last.Stability)),
	)
	if len(r.vocal) > 0 {
		var parts []string
		for _, v := range []detector.VocalClass{detector.Silence, detector.Breath, detector.Hum, detector.Voice} {
			if n := r.vocal[v]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", v, n))
			}
		}
		lines = append(lines, row("Vocal frames", strings.Join(parts, ", ")))
	}
	fmt.Fprintln(r.out, boxStyle.Render(strings.Join(lines, "\n")))
}

func formatOffset(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
