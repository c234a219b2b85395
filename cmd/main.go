package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"

	"mire/internal/logger"
	"mire/internal/runner"
	"mire/pkg/color"
)

// Main entry point for the mire interpreter.
func main() {
	options := runner.Runner{}

	flag.BoolVar(&options.Help, "h", false, "Show help")
	flag.BoolVar(&options.Verbose, "v", false, "Verbose mode")
	flag.BoolVar(&options.NoColor, "n", false, "No color")
	flag.StringVar(&options.ConfigFile, "c", "", "Configuration file (default "+runner.DefaultConfigFile+" if present)")
	flag.StringVar(&options.Entry, "e", "", "Entry item to evaluate")
	flag.IntVar(&options.Steps, "steps", 0, "Maximum number of steps")
	flag.IntVar(&options.Stack, "stack", 0, "Maximum number of stack frames")
	flag.StringVar(&options.Memory, "mem", "", "Memory limit (e.g., 64MiB)")
	flag.IntVar(&options.Jobs, "j", 0, "Number of files evaluated concurrently")
	flag.StringVar(&options.Dump, "dump", "", "Write a CBOR memory snapshot to this path")

	flag.Parse()
	options.Files = flag.Args()

	logger.Init(options.Verbose, options.NoColor)
	if options.Help {
		fmt.Printf("Usage: %s [options] <file.yaml>...\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
		return
	}

	if options.NoColor {
		color.EnableColor(false)
	}

	if len(options.Files) == 0 {
		log.Fatal("No input file provided", "help", fmt.Sprintf("%s -h", os.Args[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := options.Run(ctx)
	if errors.Is(err, runner.ErrRunFailed) {
		stop()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("Evaluation failed", "error", err)
	}
}
