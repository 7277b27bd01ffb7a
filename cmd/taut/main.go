// Command taut is the thin CLI shell around the runner core: it wires
// `.taut.kdl` configuration to the Discovery Walker, Scheduler, Worker
// Supervisor, and Result Aggregator, and prints a one-line-per-item summary.
// The full reporter/formatter layer and argument-parsing polish stay
// unimplemented on purpose (spec.md's explicit Non-goal #1) — this exists so
// the core is runnable while it's being built, not as the product surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/taut/internal/aggregator"
	"github.com/standardbeagle/taut/internal/config"
	"github.com/standardbeagle/taut/internal/debug"
	"github.com/standardbeagle/taut/internal/discovery"
	"github.com/standardbeagle/taut/internal/parser"
	"github.com/standardbeagle/taut/internal/scheduler"
	"github.com/standardbeagle/taut/internal/supervisor"
	"github.com/standardbeagle/taut/internal/types"
)

// Version is set at build time via -ldflags; a plain literal default keeps
// this a one-file concern instead of a dedicated package for a single
// string (see DESIGN.md).
var Version = "dev"

func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	root := c.Args().First()
	if root == "" {
		root = "."
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", root, err)
	}

	if workers := c.Int("workers"); workers > 0 {
		cfg.WorkerCount = workers
	}
	if c.IsSet("coverage") {
		cfg.Coverage = c.Bool("coverage")
	}
	if isolation := c.String("isolation"); isolation != "" {
		cfg.Isolation = isolation
	}
	if timeout := c.Float64("timeout-sec"); timeout > 0 {
		cfg.TimeoutSec = timeout
	}
	if groups := c.StringSlice("group"); len(groups) > 0 {
		cfg.GroupInclude = groups
	}
	if groups := c.StringSlice("exclude-group"); len(groups) > 0 {
		cfg.GroupExclude = groups
	}
	if excludes := c.StringSlice("exclude"); len(excludes) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludes...)
	}

	if err := config.ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func discoveryWalker(cfg *config.Config) *discovery.Walker {
	w := &discovery.Walker{
		Collector: parser.NewCollector(),
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
	}
	if len(w.Exclude) == 0 {
		w.Exclude = discovery.DefaultExcludes
	}
	return w
}

func run(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	walker := discoveryWalker(cfg)
	items, warnings := walker.Walk([]string{cfg.Project.Root})
	for _, w := range warnings {
		debug.Printf("discovery: %s", w.String())
	}

	filtered, suggestion := scheduler.Filter(items, scheduler.FilterOptions{
		GroupInclude: cfg.GroupInclude,
		GroupExclude: cfg.GroupExclude,
	})
	if suggestion != "" {
		fmt.Fprintf(os.Stderr, "no item matched the requested group; did you mean %q?\n", suggestion)
	}

	plan, skipped, workerCount := scheduler.Plan(filtered, cfg.WorkerCount)

	interp := supervisor.Interpreter{
		Command: cfg.Interpreter.Command,
		Args:    cfg.Interpreter.Args,
		Env:     cfg.Interpreter.Env,
	}

	var timeout time.Duration
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec * float64(time.Second))
	}

	pool, err := supervisor.NewPool(interp, workerCount, cfg.IsolationMode(), supervisor.WithTimeout(timeout))
	if err != nil {
		return cli.Exit(err.Error(), 3)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	outcomes, runErr := pool.Run(ctx, plan, cfg.Coverage)
	if shutdownErr := pool.Shutdown(5 * time.Second); shutdownErr != nil {
		debug.Printf("shutdown: %v", shutdownErr)
	}
	if runErr != nil {
		return cli.Exit(runErr.Error(), 3)
	}

	outcomes = append(outcomes, skipped...)
	report, err := aggregator.Aggregate(filtered, outcomes, time.Since(start))
	if err != nil {
		return cli.Exit(err.Error(), 3)
	}

	for _, o := range report.Items {
		printOutcome(o)
	}
	fmt.Printf("\n%d passed, %d failed, %d skipped, %d errored in %s\n",
		report.Passed, report.Failed, report.Skipped, report.Errored, report.WallTime)

	return cli.Exit("", report.ExitCode())
}

func printOutcome(o types.Outcome) {
	switch {
	case o.Response.Skipped:
		fmt.Printf("SKIP  %s\n", o.Item.String())
	case o.Response.Errored:
		fmt.Printf("ERROR %s: %s\n", o.Item.String(), o.Response.Error.Message)
	case o.Response.Passed:
		fmt.Printf("PASS  %s\n", o.Item.String())
	default:
		msg := ""
		if o.Response.Error != nil {
			msg = o.Response.Error.Message
		}
		fmt.Printf("FAIL  %s: %s\n", o.Item.String(), msg)
	}
}

func main() {
	app := &cli.App{
		Name:                   "taut",
		Usage:                  "fast, static-discovery test runner for Python projects",
		Version:                Version,
		UseShortOptionHandling: true,
		ArgsUsage:              "[root]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "worker pool size (0 = one per CPU)"},
			&cli.BoolFlag{Name: "coverage", Usage: "collect line coverage from each worker"},
			&cli.StringFlag{Name: "isolation", Usage: "process-per-run or process-per-test"},
			&cli.Float64Flag{Name: "timeout-sec", Usage: "per-item timeout in seconds (0 = unbounded)"},
			&cli.StringSliceFlag{Name: "group", Usage: "only run items whose group marker matches"},
			&cli.StringSliceFlag{Name: "exclude-group", Usage: "skip items whose group marker matches"},
			&cli.StringSliceFlag{Name: "exclude", Usage: "additional exclusion globs"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
