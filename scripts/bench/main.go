// Benchmark runner for nab.
//
// Runs every benchmark with -benchmem and writes target/reports/bench.txt
// with a one-line-per-benchmark summary followed by the raw output.
//
// Usage:
//
//	go run ./scripts/bench
//	go run ./scripts/bench -pkg ./internal/retention/
//	BENCH_TIME=10s go run ./scripts/bench
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/darshan-rambhia/nab/scripts/internal/report"
)

// reBench matches "BenchmarkX-8  1000  1234 ns/op  56 B/op  2 allocs/op".
var reBench = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+) ns/op(?:\s+(\d+) B/op\s+(\d+) allocs/op)?`)

func main() {
	pkg := flag.String("pkg", "./...", "package pattern to benchmark")
	count := flag.Int("count", 1, "number of runs per benchmark")
	flag.Parse()

	root, err := report.Root()
	if err != nil {
		log.Fatal(err)
	}
	dir, err := report.Dir(root)
	if err != nil {
		log.Fatal(err)
	}

	benchTime := report.Env("BENCH_TIME", "3s")
	fmt.Printf("benchmarks in %s, benchtime %s\n\n", *pkg, benchTime)
	out, runErr := report.Go(root, "test", "-run=^$", "-bench=.", "-benchmem",
		"-benchtime="+benchTime, fmt.Sprintf("-count=%d", *count), *pkg)

	var w report.Writer
	w.Header("Benchmark Report", time.Now(), "Bench time", benchTime, "Packages", *pkg)
	fmt.Fprintf(&w, "%-44s %14s %10s %10s\n", "Benchmark", "ns/op", "B/op", "allocs/op")
	w.Rule('-')
	n := 0
	for _, line := range strings.Split(out, "\n") {
		m := reBench.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n++
		fmt.Fprintf(&w, "%-44s %14s %10s %10s\n", m[1], m[3], orDash(m[4]), orDash(m[5]))
	}
	w.Rule('-')
	fmt.Fprintf(&w, "%d results\n\n", n)
	w.WriteString("Raw output\n")
	w.Indent(out)
	if runErr != nil {
		fmt.Fprintf(&w, "\n[ERROR] %v\n", runErr)
	}

	path, err := w.Save(dir, "bench.txt")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\nreport: %s\n", path)
	if runErr != nil {
		os.Exit(1)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
