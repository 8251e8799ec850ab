package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/fpga-mmult/internal/app"
	"github.com/fxnlabs/fpga-mmult/internal/config"
	"github.com/fxnlabs/fpga-mmult/internal/harness"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

var (
	errUsage    = errors.New("usage")
	errMismatch = errors.New("device result does not match the reference")
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code. opts are added to
// the fx application after the harness module.
func run(args []string, stdout, stderr io.Writer, opts ...fx.Option) int {
	err := newApp(stdout, stderr, opts...).Run(args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stdout, "Usage: mmult <XCLBIN File>")
	case errors.Is(err, errMismatch):
		// The report already says TEST FAILED.
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

func newApp(stdout, stderr io.Writer, opts ...fx.Option) *cli.App {
	return &cli.App{
		Name:      "mmult",
		Usage:     "Multiply two matrices on an FPGA accelerator and check the result on the CPU",
		ArgsUsage: "<XCLBIN File>",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a yaml config file",
				EnvVars: []string{"MMULT_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "emulate",
				Usage: "Run on the software device instead of an OpenCL platform",
			},
			&cli.StringFlag{
				Name:  "vendor",
				Usage: "Exact name of the OpenCL platform to use",
			},
			&cli.IntFlag{
				Name:  "dim",
				Usage: "Dimension of the square matrices",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "Seed for the generated input matrices",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write run metrics to this node_exporter textfile",
			},
			&cli.StringFlag{
				Name:  "pushgateway",
				Usage: "Push run metrics to this Prometheus Pushgateway URL",
			},
			&cli.BoolFlag{
				Name:  "banner",
				Usage: "Print a banner before the run",
			},
		},
		HideHelpCommand: true,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errUsage
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.Bool("banner") {
				fmt.Fprintln(stderr, figure.NewFigure("mmult", "", true).String())
			}
			return execute(c.Context, cfg, c.Args().First(), stdout, stderr, opts)
		},
	}
}

// loadConfig reads the config file, if any, and applies the flags set on
// the command line over it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if c.IsSet("emulate") {
		cfg.Device.Emulation = c.Bool("emulate")
	}
	if c.IsSet("vendor") {
		cfg.Device.Vendor = c.String("vendor")
	}
	if c.IsSet("dim") {
		cfg.Matrix.Dim = c.Int("dim")
	}
	if c.IsSet("seed") {
		cfg.Matrix.Seed = c.Int64("seed")
	}
	if c.IsSet("verbosity") {
		cfg.Logger.Verbosity = c.String("verbosity")
	}
	if c.IsSet("metrics-file") {
		cfg.Metrics.Textfile = c.String("metrics-file")
	}
	if c.IsSet("pushgateway") {
		cfg.Metrics.Pushgateway = c.String("pushgateway")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// execute runs the harness once inside an fx application. Metrics are
// exported when the application stops; an export failure is reported but
// does not change the outcome of the run.
func execute(ctx context.Context, cfg *config.Config, image string, stdout, stderr io.Writer, opts []fx.Option) error {
	var h *harness.Harness
	fxApp := fx.New(app.Module(cfg, stdout), fx.Options(opts...), fx.Populate(&h))
	if err := fxApp.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fxApp.Stop(stopCtx); err != nil {
			fmt.Fprintf(stderr, "Warning: export metrics: %v\n", err)
		}
	}()

	report, err := h.Run(image)
	if err != nil {
		return err
	}
	if !report.Passed() {
		return errMismatch
	}
	return nil
}
