package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/builder"
	"github.com/tangzhangming/vega/internal/config"
	"github.com/tangzhangming/vega/internal/unit"
)

var (
	configPath = flag.String("config", "", "Config file path (default: ./"+config.ConfigFileName+" if present)")
	tier       = flag.Int("tier", -1, "Override optimization tier (0-3)")
	arch       = flag.String("arch", "", "Override target architecture (amd64/arm64)")
	dumpGraph  = flag.Bool("dump", false, "Dump the optimized graph of each method")
	dumpAlloc  = flag.Bool("alloc", false, "Dump the location assignment of each method")
	initConfig = flag.Bool("init", false, "Write a default "+config.ConfigFileName+" and exit")
	verbose    = flag.Bool("v", false, "Verbose logging")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.Default().Save(config.ConfigFileName); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", config.ConfigFileName)
		return
	}

	if flag.NArg() < 1 {
		fmt.Println("Vega Optimizing Compiler v0.1.0")
		fmt.Println()
		fmt.Println("Usage: vegac [options] <methods.json>")
		fmt.Println()
		fmt.Println("The input file holds an array of method build records")
		fmt.Println("(blocks, instructions, operand references) as produced")
		fmt.Println("by the front end.")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg := loadConfig()
	if *tier >= 0 {
		cfg.Compiler.Tier = *tier
	}
	if *arch != "" {
		cfg.Target.Arch = *arch
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}

	opts, err := unit.FromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	inputs, err := loadMethods(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m := unit.NewManager(opts, cfg.Compiler.Workers)
	results := m.CompileAll(inputs)

	failed := 0
	for _, r := range results {
		fmt.Printf("%-24s method=%d outcome=%s", r.Name, r.MethodID, r.Outcome)
		if r.Err != nil {
			fmt.Printf(" (%v)", r.Err)
		}
		fmt.Println()
		if r.Outcome == unit.Failed {
			failed++
		}
		if r.Outcome != unit.Compiled {
			continue
		}
		if *dumpGraph {
			fmt.Println(r.Graph)
		}
		if *dumpAlloc {
			out, err := json.Marshal(r.Alloc)
			if err == nil {
				fmt.Println(string(out))
			}
		}
	}

	s := m.Stats()
	fmt.Printf("\ncompiled=%d fallback=%d failed=%d inlined=%d\n",
		s.Compiled, s.Fallbacks, s.Failed, s.InlinedCalls)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.ConfigFileName); err != nil {
			return config.Default()
		}
		path = config.ConfigFileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func loadMethods(path string) ([]*builder.MethodInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inputs []*builder.MethodInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return inputs, nil
}
