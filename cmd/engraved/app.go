package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/daverdavids/nameengrave/internal/engraveconfig"
	"github.com/daverdavids/nameengrave/internal/glyph"
	"github.com/daverdavids/nameengrave/internal/jobstore"
	"github.com/daverdavids/nameengrave/internal/layout"
	"github.com/daverdavids/nameengrave/internal/orchestrator"
	"github.com/daverdavids/nameengrave/internal/stream"
	"github.com/daverdavids/nameengrave/internal/textprog"
	"go.uber.org/zap"
)

// app bundles every wired component a subcommand needs.
type app struct {
	log    *zap.SugaredLogger
	cfg    *engraveconfig.Config
	layout *layout.Allocator
	jobs   *jobstore.Store
	orch   *orchestrator.Orchestrator
	source glyph.Source
}

func buildLogger() *zap.SugaredLogger {
	var l *zap.Logger
	var err error
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		// zap construction failing means stderr logging itself is broken;
		// fall back to a Nop logger rather than leaving log nil.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func buildGlyphSource(ts engraveconfig.TextSettings, log *zap.SugaredLogger) (glyph.Source, error) {
	if ts.Font == "" || strings.EqualFold(ts.Font, "simplex") {
		return glyph.NewStrokeSource(), nil
	}
	if ts.TTFPath == "" {
		log.Warnw("font key set but no ttf_path configured, falling back to built-in strokes", "font", ts.Font)
		return glyph.NewStrokeSource(), nil
	}
	data, err := os.ReadFile(ts.TTFPath)
	if err != nil {
		return nil, fmt.Errorf("reading font %s: %w", ts.TTFPath, err)
	}
	return glyph.NewOutlineSource(ts.TTFPath, data)
}

func buildDialer(cs engraveconfig.ConnectionSettings) stream.Dialer {
	if strings.EqualFold(cs.FluidNCConnection, "serial") {
		return func() (stream.Transport, error) { return stream.DialSerial(cs.SerialPort, cs.SerialBaud) }
	}
	return func() (stream.Transport, error) { return stream.DialTCP(cs.TCPAddress) }
}

// buildController loads just enough configuration to dial the board: no
// layout, job store, or orchestrator. Used by bench-testing commands that
// bypass the job queue entirely.
func buildController() (*stream.Controller, *zap.SugaredLogger, error) {
	log := buildLogger()

	cfg, err := engraveconfig.Load(configPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	dial := buildDialer(cfg.ConnectionSettings())
	streamOpts := stream.DefaultOptions()
	streamOpts.AlarmAbortsStream = cfg.LaserSettings().AlarmAbortsStream
	return stream.New(dial, streamOpts, log), log, nil
}

func buildApp() (*app, error) {
	log := buildLogger()

	cfg, err := engraveconfig.Load(configPath, log)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	ea := cfg.EngravingArea()
	area := layout.WorkArea{
		MachineWidthMM:  ea.MachineWidthMM,
		MachineHeightMM: ea.MachineHeightMM,
		ActiveWidthMM:   ea.ActiveWidthMM,
		ActiveHeightMM:  ea.ActiveHeightMM,
		OffsetXMM:       ea.OffsetXMM,
		OffsetYMM:       ea.OffsetYMM,
	}
	alloc, err := layout.New(dataDir+"/placements.json", area, nil)
	if err != nil {
		return nil, fmt.Errorf("opening layout store: %w", err)
	}

	jobs, err := jobstore.New(dataDir, log)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}

	source, err := buildGlyphSource(cfg.TextSettings(), log)
	if err != nil {
		return nil, fmt.Errorf("building glyph source: %w", err)
	}
	compiler := textprog.New(source, log)

	dial := buildDialer(cfg.ConnectionSettings())
	streamOpts := stream.DefaultOptions()
	streamOpts.AlarmAbortsStream = cfg.LaserSettings().AlarmAbortsStream
	controller := stream.New(dial, streamOpts, log)

	machineParams := func() textprog.MachineParams {
		ls := cfg.LaserSettings()
		return textprog.MachineParams{
			FeedRate:     ls.SpeedMMPerMin,
			PowerPercent: ls.PowerPercent,
			SpindleMax:   ls.SpindleMax,
			UseZHeight:   ls.UseZHeight,
			ZHeightMM:    ls.ZHeightMM,
		}
	}

	orch := orchestrator.New(alloc, jobs, compiler, controller, machineParams, log)

	cfg.OnChange(func() {
		log.Infow("configuration reloaded")
	}, func(newFont string) {
		log.Infow("font changed, rebuilding glyph source", "font", newFont)
		if src, err := buildGlyphSource(cfg.TextSettings(), log); err != nil {
			log.Warnw("failed to rebuild glyph source after font change", "error", err)
		} else {
			compiler.Source = src
		}
	})

	return &app{log: log, cfg: cfg, layout: alloc, jobs: jobs, orch: orch, source: source}, nil
}
