package main

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strconv"

	"procam-calibration/internal/capture"
	"procam-calibration/internal/chessboard"
	"procam-calibration/internal/config"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/opencv/memory"
	"procam-calibration/internal/pattern"
	"procam-calibration/internal/pipeline"
	"procam-calibration/internal/report"
	"procam-calibration/internal/shutdown"
	"procam-calibration/internal/store"
	"procam-calibration/internal/timing"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

// loadConfig starts from --config or the defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String(flagConfig); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func newLogger(c *cli.Context, cfg *config.Config) logger.Logger {
	return logger.NewConsoleLogger(logger.LevelFor(c.Bool(flagDebug) || cfg.Debug, c.String(flagLogLevel)))
}

func intArg(c *cli.Context, i int, name string) (int, error) {
	v, err := strconv.Atoi(c.Args().Get(i))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", config.ErrInvalidConfiguration, name, c.Args().Get(i))
	}
	return v, nil
}

// applyCalibrationArgs fills the config from the six positional arguments
// and the flags the user set explicitly.
func applyCalibrationArgs(c *cli.Context, cfg *config.Config) error {
	switch c.Args().Len() {
	case 6:
		var err error
		if cfg.Projector.Height, err = intArg(c, 0, "proj_height"); err != nil {
			return err
		}
		if cfg.Projector.Width, err = intArg(c, 1, "proj_width"); err != nil {
			return err
		}
		if cfg.Chessboard.Vertical, err = intArg(c, 2, "chess_vert"); err != nil {
			return err
		}
		if cfg.Chessboard.Horizontal, err = intArg(c, 3, "chess_hori"); err != nil {
			return err
		}
		block, err := strconv.ParseFloat(c.Args().Get(4), 64)
		if err != nil {
			return fmt.Errorf("%w: block_size must be a number, got %q", config.ErrInvalidConfiguration, c.Args().Get(4))
		}
		cfg.Chessboard.BlockSize = block
		if cfg.GraycodeStep, err = intArg(c, 5, "graycode_step"); err != nil {
			return err
		}
	case 0:
		if c.String(flagConfig) == "" {
			return fmt.Errorf("%w: expected 6 arguments: %s", config.ErrInvalidConfiguration, c.App.ArgsUsage)
		}
	default:
		return fmt.Errorf("%w: expected 6 arguments, got %d: %s",
			config.ErrInvalidConfiguration, c.Args().Len(), c.App.ArgsUsage)
	}

	if c.IsSet(flagBlackThr) || c.String(flagConfig) == "" {
		cfg.Decoder.BlackThreshold = c.Int(flagBlackThr)
	}
	if c.IsSet(flagWhiteThr) || c.String(flagConfig) == "" {
		cfg.Decoder.WhiteThreshold = c.Int(flagWhiteThr)
	}
	if c.IsSet(flagCamera) {
		cfg.CameraParams = c.String(flagCamera)
	}
	if c.IsSet(flagOutput) || c.String(flagConfig) == "" {
		cfg.OutputPath = c.String(flagOutput)
	}
	if c.IsSet(flagCaptures) || c.String(flagConfig) == "" {
		cfg.Capture.Root = c.String(flagCaptures)
	}
	if c.Bool(flagDebug) {
		cfg.Debug = true
	}
	if cfg.Debug && c.IsSet(flagPlot) {
		cfg.PlotPath = c.String(flagPlot)
	}
	return nil
}

func calibrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyCalibrationArgs(c, cfg); err != nil {
		return err
	}
	log := newLogger(c, cfg)

	tracker := timing.NewTracker()
	sd := shutdown.NewManager(log)
	sd.Register("timing", func() { tracker.Log(log) })
	sd.Listen()
	defer sd.Stop()

	out, err := pipeline.NewCoordinator(cfg, log, tracker).Run()
	tracker.Log(log)
	if out != nil && out.Failures != nil {
		log.Warning("Calibrate", "some sessions were skipped", map[string]interface{}{
			"error": out.Failures.Error(),
		})
	}
	if err != nil {
		return err
	}

	if err := report.Write(c.App.Writer, out.Result); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "result saved to %s\n", cfg.OutputPath)
	return nil
}

func convertAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("%w: convert needs IN and OUT", config.ErrInvalidConfiguration)
	}
	schema, err := store.ParseSchema(c.String(flagSchema))
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
	}
	in, out := c.Args().Get(0), c.Args().Get(1)
	if err := store.Convert(in, out, schema); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "converted %s to %s (%s)\n", in, out, schema)
	return nil
}

func showAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("%w: show needs a result file", config.ErrInvalidConfiguration)
	}
	res, err := store.Load(c.Args().First())
	if err != nil {
		return err
	}
	return report.Write(c.App.Writer, res)
}

func planFromArgs(c *cli.Context, offset int) (pattern.Plan, error) {
	h, err := intArg(c, offset, "proj_height")
	if err != nil {
		return pattern.Plan{}, err
	}
	w, err := intArg(c, offset+1, "proj_width")
	if err != nil {
		return pattern.Plan{}, err
	}
	step, err := intArg(c, offset+2, "graycode_step")
	if err != nil {
		return pattern.Plan{}, err
	}
	return pattern.Derive(h, w, step)
}

func generatePatternsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Args().Len() != 3 {
		return fmt.Errorf("%w: expected proj_height proj_width graycode_step", config.ErrInvalidConfiguration)
	}
	plan, err := planFromArgs(c, 0)
	if err != nil {
		return err
	}
	dir := cfg.Capture.PatternDir
	if c.IsSet(flagDir) {
		dir = c.String(flagDir)
	}
	prefix := cfg.Capture.PatternFiles
	if c.IsSet(flagPrefix) {
		prefix = c.String(flagPrefix)
	}

	log := newLogger(c, cfg)
	paths, err := pattern.WriteSet(dir, prefix, pattern.Generate(plan))
	if err != nil {
		return err
	}
	log.Info("PatternGenerator", "patterns written", map[string]interface{}{
		"plan":  plan.String(),
		"dir":   dir,
		"count": len(paths),
	})
	fmt.Fprintf(c.App.Writer, "%d patterns for %s written to %s\n", len(paths), plan, dir)
	return nil
}

func validatePatternsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Args().Len() != 1 && c.Args().Len() != 4 {
		return fmt.Errorf("%w: expected DIR [proj_height proj_width graycode_step]", config.ErrInvalidConfiguration)
	}
	var plan *pattern.Plan
	if c.Args().Len() == 4 {
		p, err := planFromArgs(c, 1)
		if err != nil {
			return err
		}
		plan = &p
	}
	prefix := cfg.Capture.PatternFiles
	if c.IsSet(flagPrefix) {
		prefix = c.String(flagPrefix)
	}
	paths, err := filepath.Glob(filepath.Join(c.Args().First(), prefix+"*"))
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
	}

	log := newLogger(c, cfg)
	rep, err := pattern.NewValidator(cfg.PatternQuality, log).ValidateFiles(paths, plan)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetTitle("Pattern validation")
	t.AppendHeader(table.Row{"File", "Kind", "Std", "Edge ratio", "Grad ratio", "Problems"})
	for _, f := range rep.Findings {
		t.AppendRow(table.Row{filepath.Base(f.Path), f.Kind, fmt.Sprintf("%.2f", f.Metrics.Std),
			fmt.Sprintf("%.5f", f.Metrics.EdgeRatio), fmt.Sprintf("%.5f", f.Metrics.GradRatio), len(f.Problems)})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	for _, p := range rep.Problems {
		fmt.Fprintf(c.App.Writer, "PROBLEM: %s\n", p)
	}
	for _, f := range rep.Findings {
		for _, p := range f.Problems {
			fmt.Fprintf(c.App.Writer, "PROBLEM: %s: %s\n", filepath.Base(f.Path), p)
		}
	}
	if !rep.OK() {
		return errors.New("pattern set has problems")
	}
	return nil
}

func checkCapturesAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Args().Len() == 2 {
		if cfg.Chessboard.Vertical, err = intArg(c, 0, "chess_vert"); err != nil {
			return err
		}
		if cfg.Chessboard.Horizontal, err = intArg(c, 1, "chess_hori"); err != nil {
			return err
		}
	}
	if cfg.Chessboard.Vertical < 2 || cfg.Chessboard.Horizontal < 2 {
		return fmt.Errorf("%w: chessboard size is required", config.ErrInvalidConfiguration)
	}
	if c.IsSet(flagCaptures) || c.String(flagConfig) == "" {
		cfg.Capture.Root = c.String(flagCaptures)
	}

	dirs, err := capture.Discover(cfg.Capture.Root, cfg.Capture.DirPattern, cfg.Capture.FilePrefix)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrNoValidSessions, err)
	}

	log := newLogger(c, cfg)
	detector := chessboard.NewDetector(image.Pt(cfg.Chessboard.Vertical, cfg.Chessboard.Horizontal),
		chessboard.DefaultStrategies(cfg.Detector), log)
	checker := capture.NewChecker(detector, cfg.Capture.MinContrast, memory.NewManager(cfg.Capture.MemoryLimit, log), log)

	t := table.NewWriter()
	t.SetTitle("Capture check")
	t.AppendHeader(table.Row{"Session", "White", "Black", "Contrast", "Board", "Strategy", "Status"})
	usable := 0
	for _, dir := range dirs {
		r := checker.Check(dir)
		status := "ok"
		switch {
		case r.Err != nil:
			status = r.Err.Error()
		case !r.Found:
			status = "board not found"
		case r.LowContrast:
			status = "low contrast"
		}
		if r.OK() {
			usable++
		}
		t.AppendRow(table.Row{r.Name, fmt.Sprintf("%.1f", r.WhiteMean), fmt.Sprintf("%.1f", r.BlackMean),
			fmt.Sprintf("%.1f", r.Contrast), r.Found, r.Strategy, status})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d/%d", usable, len(dirs)), "", ""})
	fmt.Fprintln(c.App.Writer, t.Render())
	if usable < report.MinRecommendedCaptures {
		fmt.Fprintf(c.App.Writer, "WARNING: %d usable sessions, at least %d recommended\n", usable, report.MinRecommendedCaptures)
	}
	if usable == 0 {
		return pipeline.ErrNoValidSessions
	}
	return nil
}
