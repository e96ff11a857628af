package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hiddenclass/internal/config"
	"hiddenclass/internal/engine"
	"hiddenclass/internal/scenario"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/stats"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/ui"
)

// ScriptExt is the extension picked up when a directory is passed to run.
const ScriptExt = ".hc"

var runCmd = &cobra.Command{
	Use:   "run [flags] <script.hc|dir>...",
	Short: "Run shape scripts",
	Long: `Run one or more shape scripts, each against its own engine, and report
the resulting shape graph. Directories are expanded to the *.hc files they contain.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScriptsCmd,
}

func init() {
	runCmd.Flags().String("config", "", "tunables file (.toml, .yaml or .yml)")
	runCmd.Flags().String("stats", "text", "statistics output (text|msgpack|pprof|none)")
	runCmd.Flags().StringP("out", "o", "", "statistics output file, or directory when running several scripts")
	runCmd.Flags().IntP("jobs", "j", 0, "scripts run in parallel (0 = GOMAXPROCS)")
	runCmd.Flags().Bool("verify", false, "check shape invariants after every line")
	runCmd.Flags().Bool("verify-materialize", false, "replay the transition chain after every table rebuild")
	runCmd.Flags().Bool("ignore-leaks", false, "do not fail when shapes outlive the engine")
	runCmd.Flags().Int("tree", 40, "transition tree lines in text statistics (0 hides the tree)")
	runCmd.Flags().String("progress", "auto", "progress view (auto|on|off)")
}

type runOptions struct {
	cfg         config.Config
	statsFormat string
	out         string
	jobs        int
	verify      bool
	debug       shape.DebugContext
	treeLimit   int
	progress    string
	quiet       bool
	timings     bool
}

// runState counts finished scripts for heartbeat events.
type runState struct {
	finished atomic.Int64
	total    int
}

func (s *runState) String() string {
	return fmt.Sprintf("%d/%d scripts", s.finished.Load(), s.total)
}

type scriptResult struct {
	path     string
	output   bytes.Buffer
	snapshot stats.Snapshot
	timings  string
	ran      bool
	err      error
}

func readRunOptions(cmd *cobra.Command) (runOptions, error) {
	var opts runOptions
	var err error
	flags := cmd.Flags()

	cfgPath, err := flags.GetString("config")
	if err != nil {
		return opts, err
	}
	opts.cfg = config.Default()
	if cfgPath != "" {
		if opts.cfg, err = config.Load(cfgPath); err != nil {
			return opts, err
		}
	}
	if opts.statsFormat, err = flags.GetString("stats"); err != nil {
		return opts, err
	}
	switch opts.statsFormat {
	case "text", "none":
	case "msgpack", "pprof":
	default:
		return opts, &flagError{flag: "stats", value: opts.statsFormat, allowed: "text|msgpack|pprof|none"}
	}
	if opts.out, err = flags.GetString("out"); err != nil {
		return opts, err
	}
	if (opts.statsFormat == "msgpack" || opts.statsFormat == "pprof") && opts.out == "" {
		return opts, fmt.Errorf("--stats %s needs --out", opts.statsFormat)
	}
	if opts.jobs, err = flags.GetInt("jobs"); err != nil {
		return opts, err
	}
	if opts.verify, err = flags.GetBool("verify"); err != nil {
		return opts, err
	}
	if opts.debug.VerifyMaterialize, err = flags.GetBool("verify-materialize"); err != nil {
		return opts, err
	}
	if opts.debug.IgnoreLeaks, err = flags.GetBool("ignore-leaks"); err != nil {
		return opts, err
	}
	if opts.treeLimit, err = flags.GetInt("tree"); err != nil {
		return opts, err
	}
	if opts.progress, err = flags.GetString("progress"); err != nil {
		return opts, err
	}
	switch opts.progress {
	case "auto", "on", "off":
	default:
		return opts, &flagError{flag: "progress", value: opts.progress, allowed: "auto|on|off"}
	}
	if opts.quiet, err = cmd.Root().PersistentFlags().GetBool("quiet"); err != nil {
		return opts, err
	}
	if opts.timings, err = cmd.Root().PersistentFlags().GetBool("timings"); err != nil {
		return opts, err
	}
	return opts, nil
}

func runScriptsCmd(cmd *cobra.Command, args []string) error {
	opts, err := readRunOptions(cmd)
	if err != nil {
		return err
	}
	scripts, err := expandScripts(args)
	if err != nil {
		return err
	}

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	state := &runState{total: len(scripts)}
	tracer, stopTracing, err := setupTracing(cmd, state.String)
	if err != nil {
		return err
	}
	defer stopTracing()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	span := trace.Begin(tracer, trace.ScopeEngine, "run", 0).WithExtra("scripts", fmt.Sprint(len(scripts)))
	ctx = trace.WithSpan(ctx, span)

	results := make([]*scriptResult, len(scripts))
	work := func(events chan<- ui.Event) error {
		return runScripts(ctx, scripts, results, tracer, opts, state, events)
	}
	if useProgress(opts, len(scripts)) {
		err = runWithProgress(fmt.Sprintf("running %d scripts", len(scripts)), scripts, work)
	} else {
		err = work(nil)
	}
	span.End(state.String())
	if err != nil {
		return err
	}
	return reportResults(cmd, tracer, results, opts)
}

func useProgress(opts runOptions, scripts int) bool {
	switch opts.progress {
	case "on":
		return true
	case "off":
		return false
	default:
		return !opts.quiet && scripts > 1 && isTerminal(os.Stdout)
	}
}

// expandScripts replaces directories by the scripts they hold, sorted.
func expandScripts(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ScriptExt {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%s: no %s scripts", arg, ScriptExt)
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	return out, nil
}

// runScripts runs every script on its own engine. Script failures are kept
// in the results; only cancellation aborts the group.
func runScripts(ctx context.Context, scripts []string, results []*scriptResult, tracer trace.Tracer, opts runOptions, state *runState, events chan<- ui.Event) error {
	jobs := opts.jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	send := func(ev ui.Event) {
		if events != nil {
			events <- ev
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(scripts)))
	for i, path := range scripts {
		send(ui.Event{Script: path, Status: ui.StatusQueued})
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			send(ui.Event{Script: path, Status: ui.StatusRunning})
			res := runScript(gctx, path, tracer, opts, func(done, total int) {
				send(ui.Event{Script: path, Status: ui.StatusRunning, Done: done, Total: total})
			})
			results[i] = res
			if state != nil {
				state.finished.Add(1)
			}
			if res.err != nil {
				send(ui.Event{Script: path, Status: ui.StatusError})
				if errors.Is(res.err, context.Canceled) {
					return res.err
				}
				return nil
			}
			send(ui.Event{Script: path, Status: ui.StatusDone})
			return nil
		})
	}
	return g.Wait()
}

func runScript(ctx context.Context, path string, tracer trace.Tracer, opts runOptions, onLine func(done, total int)) *scriptResult {
	res := &scriptResult{path: path}
	e, err := engine.New(opts.cfg, tracer, engine.WithName(path), engine.WithDebug(opts.debug))
	if err != nil {
		res.err = err
		return res
	}

	var script *scenario.Script
	err = e.Timer.Time("parse", func() error {
		var perr error
		script, perr = scenario.ParseFile(path)
		return perr
	})
	if err == nil {
		r := scenario.NewRunner(e, &res.output)
		r.Verify = opts.verify
		r.OnLine = onLine
		err = e.Timer.Time("run", func() error { return r.Run(ctx, script) })
		res.ran = true
		res.snapshot = stats.Capture(e, path)
		res.timings = e.Timer.Summary()
		r.Close()
	}
	res.err = errors.Join(err, e.Close())
	return res
}

func reportResults(cmd *cobra.Command, tracer trace.Tracer, results []*scriptResult, opts runOptions) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	header := color.New(color.FgCyan, color.Bold)
	failStyle := color.New(color.FgRed, color.Bold)

	var failed []string
	for i, res := range results {
		if res == nil {
			continue
		}
		if !opts.quiet {
			if len(results) > 1 {
				header.Fprintf(out, "== %s\n", res.path)
			}
			if _, err := io.Copy(out, &res.output); err != nil {
				return err
			}
		}
		if res.err != nil {
			failed = append(failed, res.path)
			fmt.Fprintf(errOut, "%s %v\n", failStyle.Sprint("error:"), res.err)
		}
		if !res.ran {
			continue
		}
		if opts.timings && opts.statsFormat != "text" {
			fmt.Fprint(errOut, res.timings)
		}
		if err := writeStats(out, res, i, len(results), opts); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		dumpRing(cmd, tracer, failed)
		return fmt.Errorf("%d of %d scripts failed", len(failed), len(results))
	}
	return nil
}

func writeStats(out io.Writer, res *scriptResult, index, total int, opts runOptions) error {
	switch opts.statsFormat {
	case "none":
		return nil
	case "text":
		w := out
		if opts.out == "" && opts.quiet {
			return nil
		}
		if opts.out != "" {
			path, err := statsPath(opts.out, res.path, index, total, ".txt")
			if err != nil {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		textOpts := stats.TextOptions{Color: !color.NoColor && opts.out == "", TreeLimit: opts.treeLimit, EdgeWidth: 48}
		return stats.WriteText(w, res.snapshot, textOpts)
	case "msgpack":
		path, err := statsPath(opts.out, res.path, index, total, ".hcs")
		if err != nil {
			return err
		}
		return stats.WriteFile(path, res.snapshot)
	case "pprof":
		path, err := statsPath(opts.out, res.path, index, total, ".pb.gz")
		if err != nil {
			return err
		}
		return writeProfileFile(path, res.snapshot)
	}
	return nil
}

func writeProfileFile(path string, s stats.Snapshot) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return stats.WriteProfile(f, s)
}

// statsPath names the output of one script. A single script writes to out
// itself; several scripts write into out as a directory.
func statsPath(out, script string, index, total int, ext string) (string, error) {
	if total == 1 {
		return out, nil
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	return filepath.Join(out, fmt.Sprintf("%02d-%s%s", index, base, ext)), nil
}
