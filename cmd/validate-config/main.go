// Command validate-config checks cloner YAML configuration files.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/blockedby/tg-cloner/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(paths []string, out io.Writer) int {
	if len(paths) == 0 {
		fmt.Fprintln(out, "No files to check.")
		return 0
	}

	failed := false
	for _, path := range paths {
		if !check(path, out) {
			failed = true
		}
	}

	if failed {
		return 1
	}
	return 0
}

// check loads one file and reports every violated setting.
func check(path string, out io.Writer) bool {
	cfg, err := config.LoadFile(path)
	if err != nil {
		fmt.Fprintf(out, "❌ %s: %v\n", path, err)
		return false
	}

	errs := cfg.Validate()
	if len(errs) > 0 {
		fmt.Fprintf(out, "❌ %s has %d problem(s):\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(out, "   - %v\n", e)
		}
		return false
	}

	fmt.Fprintf(out, "✅ %s is valid (%s)\n", path, cfg.Redacted())
	return true
}
