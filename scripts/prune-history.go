// scripts/prune-history.go - Manual run history pruning tool
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/store"
)

func main() {
	ctx := context.Background()

	workspace, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving working directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}

	keep := cfg.Store.RetainRuns
	if val := os.Getenv("RALPH_RETAIN_RUNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			keep = n
		}
	}
	cutoff := time.Now().Add(-cfg.Store.RetainAge.Std())

	fmt.Printf("Opening database: %s\n", path)

	st, err := store.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	fmt.Printf("Pruning finished runs (keeping newest %d, older than %s)...\n",
		keep, cfg.Store.RetainAge.Std())

	pruned, err := st.Prune(ctx, keep, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during prune: %v\n", err)
		os.Exit(1)
	}

	if pruned > 0 {
		fmt.Printf("✓ Pruned %d old run(s) with their iterations and events\n", pruned)
	} else {
		fmt.Println("✓ Nothing to prune")
	}
}
