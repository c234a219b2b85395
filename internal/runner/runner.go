package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mire/internal/config"
	"mire/pkg/color"
	"mire/pkg/interpreter"
	"mire/pkg/ir"
)

// DefaultConfigFile is read when no configuration is named and it exists.
const DefaultConfigFile = "mire.toml"

var ErrRunFailed = errors.New("evaluation failed")

type Runner struct {
	Help       bool   // Show help message
	Verbose    bool   // Enable verbose output
	NoColor    bool   // Disable colored output
	ConfigFile string // Path to mire.toml
	Entry      string // Entry item, overrides run.entry
	Steps      int    // Step limit, overrides limits.steps when positive
	Stack      int    // Frame limit, overrides limits.stack when positive
	Memory     string // Memory limit such as "16 MiB", overrides limits.memory
	Jobs       int    // Concurrent evaluations, overrides run.jobs when positive
	Dump       string // CBOR snapshot path, overrides run.dump
	Files      []string
	Out        io.Writer // Defaults to stdout
}

// Result is the outcome of evaluating one program file.
type Result struct {
	ID       uuid.UUID
	File     string
	Value    string
	Steps    int
	Usage    uint64
	Err      error
	Items    []string
	snapshot []byte // CBOR memory snapshot
}

// Config merges the configuration file with the flag overrides.
func (opts *Runner) Config() (*config.Config, error) {
	cfg := config.Default()

	path := opts.ConfigFile
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.Entry != "" {
		cfg.Run.Entry = opts.Entry
	}
	if opts.Steps > 0 {
		cfg.Limits.Steps = opts.Steps
	}
	if opts.Stack > 0 {
		cfg.Limits.Stack = opts.Stack
	}
	if opts.Memory != "" {
		var s config.Size
		if err := s.UnmarshalText([]byte(opts.Memory)); err != nil {
			return nil, err
		}
		cfg.Limits.Memory = s
	}
	if opts.Jobs > 0 {
		cfg.Run.Jobs = opts.Jobs
	}
	if opts.Dump != "" {
		cfg.Run.Dump = opts.Dump
	}

	return cfg, cfg.Validate()
}

// Evaluate runs every file concurrently and returns the results in the
// order the files were given.
func (opts *Runner) Evaluate(ctx context.Context, cfg *config.Config) ([]Result, error) {
	results := make([]Result, len(opts.Files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Run.Jobs)
	for i, file := range opts.Files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = evaluate(cfg, file, cfg.Run.Dump != "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func evaluate(cfg *config.Config, file string, snapshot bool) Result {
	res := Result{ID: uuid.New(), File: file}
	logger := log.Default().With("run", res.ID.String())
	logger.Info("Processing file", "file", file)

	prog, err := ir.LoadFile(file)
	if err != nil {
		res.Err = err
		return res
	}
	for def, it := range prog.Items {
		res.Items = append(res.Items, fmt.Sprintf("%s %s", it.Kind, def))
	}
	sort.Strings(res.Items)

	entry := ir.DefID(cfg.Run.Entry)
	opts := append(cfg.Options(), interpreter.WithLogger(logger))
	ecx, err := interpreter.EvalMain(prog, entry, opts...)
	res.Steps = ecx.Steps()
	res.Usage = ecx.Memory().Usage()
	if err != nil {
		res.Err = err
		logger.Debug("Evaluation failed", "file", file, "steps", res.Steps, "error", err)
	} else {
		res.Value = formatValue(ecx, prog.Items[entry].Body.ReturnTy())
		logger.Debug("Evaluation finished", "file", file, "steps", res.Steps, "value", res.Value)
	}

	if snapshot {
		data, err := ecx.Memory().Snapshot().Encode()
		if err != nil {
			logger.Warn("Failed to encode memory snapshot", "file", file, "error", err)
		} else {
			res.snapshot = data
		}
	}
	return res
}

func formatValue(ecx *interpreter.EvalContext, ty *ir.Ty) string {
	l, err := ecx.Layouts().Layout(ty)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	ret := ecx.ReturnPtr()
	size := l.Size()

	switch {
	case size == 0:
		return "()"
	case ty.IsIntegral() && size <= 8:
		if ty.IsSigned() {
			v, err := ecx.Memory().ReadInt(ret, size)
			if err != nil {
				return "<" + err.Error() + ">"
			}
			return fmt.Sprintf("%d", v)
		}
		v, err := ecx.Memory().ReadUint(ret, size)
		if err != nil {
			return "<" + err.Error() + ">"
		}
		return fmt.Sprintf("%d", v)
	}

	b, err := ecx.Memory().ReadBytes(ret, size)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return fmt.Sprintf("[% x]", b)
}

type dumpEntry struct {
	File   string          `cbor:"file"`
	Run    string          `cbor:"run"`
	Memory cbor.RawMessage `cbor:"memory"`
}

// WriteDump stores the memory snapshots of results as one CBOR array.
func WriteDump(path string, results []Result) error {
	var entries []dumpEntry
	for _, r := range results {
		if r.snapshot == nil {
			continue
		}
		entries = append(entries, dumpEntry{File: r.File, Run: r.ID.String(), Memory: r.snapshot})
	}

	data, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}

// ReadDump decodes a file written by WriteDump.
func ReadDump(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []dumpEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		out[e.File] = e.Memory
	}
	return out, nil
}

// Run evaluates every file, prints the results and reports whether any
// evaluation failed.
func (opts *Runner) Run(ctx context.Context) error {
	if opts.NoColor {
		color.EnableColor(false)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	if !opts.Verbose {
		log.SetLevel(cfg.LogLevel())
	}
	if len(opts.Files) == 0 {
		return fmt.Errorf("no input files")
	}

	results, err := opts.Evaluate(ctx, cfg)
	if err != nil {
		return err
	}

	report := Report{Out: out, Verbose: opts.Verbose, NoColor: opts.NoColor}
	failed := report.Print(results)

	if cfg.Run.Dump != "" {
		if err := WriteDump(cfg.Run.Dump, results); err != nil {
			return err
		}
		log.Info("Wrote memory snapshot", "path", cfg.Run.Dump)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d files", ErrRunFailed, failed, len(results))
	}
	return nil
}
