package main

import (
	"errors"
	"fmt"
	"os"

	"procam-calibration/internal/config"
	"procam-calibration/internal/pipeline"

	"github.com/urfave/cli/v2"
)

const (
	AppName    = "procam-calibrate"
	AppVersion = "1.0.0"
)

const (
	flagBlackThr = "black-thr"
	flagWhiteThr = "white-thr"
	flagCamera   = "camera"
	flagDebug    = "debug"
	flagOutput   = "output"
	flagConfig   = "config"
	flagCaptures = "captures"
	flagPlot     = "plot"
	flagLogLevel = "log-level"
	flagSchema   = "schema"
	flagDir      = "dir"
	flagPrefix   = "prefix"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 for runs that could not start or had nothing to calibrate,
// 2 for anything else.
func exitCode(err error) int {
	if errors.Is(err, config.ErrInvalidConfiguration) || errors.Is(err, pipeline.ErrNoValidSessions) {
		return 1
	}
	return 2
}

func newApp() *cli.App {
	return &cli.App{
		Name:      AppName,
		Version:   AppVersion,
		Usage:     "calibrate a projector-camera pair from Gray-code captures",
		ArgsUsage: "proj_height proj_width chess_vert chess_hori block_size graycode_step",
		Flags: append(commonFlags(),
			&cli.IntFlag{Name: flagBlackThr, Value: 40, Usage: "minimum white-black difference for an illuminated pixel"},
			&cli.IntFlag{Name: flagWhiteThr, Value: 5, Usage: "minimum distance of a bit value from the white-black midpoint"},
			&cli.StringFlag{Name: flagCamera, Usage: "JSON file with known camera intrinsics"},
			&cli.StringFlag{Name: flagOutput, Value: config.DefaultOutputPath, Usage: "result file (.xml, .yml or .yaml)"},
			&cli.StringFlag{Name: flagCaptures, Value: ".", Usage: "directory holding capture_* session directories"},
			&cli.StringFlag{Name: flagPlot, Usage: "write a residual scatter plot (with --debug)"},
		),
		Action: calibrateAction,
		Commands: []*cli.Command{
			{
				Name:      "convert",
				Usage:     "re-export a result file as JSON",
				ArgsUsage: "IN OUT",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSchema, Value: "json", Usage: "json or unreal"},
				},
				Action: convertAction,
			},
			{
				Name:      "show",
				Usage:     "print a result file with quality assessment",
				ArgsUsage: "FILE",
				Action:    showAction,
			},
			{
				Name:      "generate-patterns",
				Usage:     "write the Gray-code projection sequence",
				ArgsUsage: "proj_height proj_width graycode_step",
				Flags: append(commonFlags(),
					&cli.StringFlag{Name: flagDir, Usage: "output directory (default from config)"},
					&cli.StringFlag{Name: flagPrefix, Usage: "file name prefix (default from config)"},
				),
				Action: generatePatternsAction,
			},
			{
				Name:      "validate-patterns",
				Usage:     "check a pattern set for stripe content, white and black frames",
				ArgsUsage: "DIR [proj_height proj_width graycode_step]",
				Flags: append(commonFlags(),
					&cli.StringFlag{Name: flagPrefix, Usage: "file name prefix (default from config)"},
				),
				Action: validatePatternsAction,
			},
			{
				Name:      "check-captures",
				Usage:     "report white/black contrast and board visibility per session",
				ArgsUsage: "chess_vert chess_hori",
				Flags: append(commonFlags(),
					&cli.StringFlag{Name: flagCaptures, Value: ".", Usage: "directory holding capture_* session directories"},
				),
				Action: checkCapturesAction,
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagConfig, Usage: "YAML configuration file"},
		&cli.BoolFlag{Name: flagDebug, Usage: "verbose logging and diagnostics"},
		&cli.StringFlag{Name: flagLogLevel, Usage: "override the log level (debug, info, warn, error)"},
	}
}
