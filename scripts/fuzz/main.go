// Fuzz runner for nab.
//
// Finds every Fuzz function in the module's test files, runs each for
// FUZZ_TIME (default 30s), and writes target/reports/fuzz.txt. A target that
// writes a failing input makes the run exit non-zero.
//
// Usage:
//
//	go run ./scripts/fuzz
//	go run ./scripts/fuzz -match Snapshot
//	FUZZ_TIME=2m go run ./scripts/fuzz
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/darshan-rambhia/nab/scripts/internal/report"
)

type target struct {
	fn  string
	pkg string
}

type result struct {
	target
	elapsed     time.Duration
	execs       int64
	perSec      int64
	interesting int
	ok          bool
	output      string
}

var (
	reFuzzFunc = regexp.MustCompile(`^func (Fuzz\w+)\(\w+ \*testing\.F\)`)
	reProgress = regexp.MustCompile(`execs:\s+(\d+)\s+\((\d+)/sec\).*new interesting:\s+(\d+)`)
)

func main() {
	match := flag.String("match", "", "only run targets whose name contains this string")
	flag.Parse()

	root, err := report.Root()
	if err != nil {
		log.Fatal(err)
	}
	dir, err := report.Dir(root)
	if err != nil {
		log.Fatal(err)
	}

	targets, err := discover(root)
	if err != nil {
		log.Fatalf("finding fuzz targets: %v", err)
	}
	if *match != "" {
		targets = slices.DeleteFunc(targets, func(t target) bool { return !strings.Contains(t.fn, *match) })
	}
	if len(targets) == 0 {
		log.Fatal("no fuzz targets found")
	}

	fuzzTime := report.Env("FUZZ_TIME", "30s")
	fmt.Printf("%d fuzz targets, %s each\n\n", len(targets), fuzzTime)

	results := make([]result, 0, len(targets))
	for _, t := range targets {
		fmt.Printf("--- %s (%s)\n", t.fn, t.pkg)
		r := run(root, t, fuzzTime)
		results = append(results, r)
		fmt.Printf("%s %s: %d execs\n\n", status(r.ok), t.fn, r.execs)
	}

	var w report.Writer
	w.Header("Fuzz Report", time.Now(), "Fuzz time", fuzzTime+" per target")
	failed := summarize(&w, results)
	path, err := w.Save(dir, "fuzz.txt")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("report: %s\n", path)

	if failed > 0 {
		fmt.Printf("%d fuzz target(s) failed\n", failed)
		os.Exit(1)
	}
}

// discover scans non-hidden, non-underscore directories for Fuzz functions.
func discover(root string) ([]target, error) {
	var out []target
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "target") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, "_test.go") {
			return nil
		}
		fns, err := fuzzFuncs(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		for _, fn := range fns {
			out = append(out, target{fn: fn, pkg: "./" + filepath.ToSlash(rel) + "/"})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b target) int { return strings.Compare(a.pkg+a.fn, b.pkg+b.fn) })
	return out, err
}

func fuzzFuncs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if m := reFuzzFunc.FindStringSubmatch(sc.Text()); m != nil {
			fns = append(fns, m[1])
		}
	}
	return fns, sc.Err()
}

func run(root string, t target, fuzzTime string) result {
	start := time.Now()
	out, err := report.Go(root, "test", "-run=^$", "-fuzz=^"+t.fn+"$", "-fuzztime="+fuzzTime, t.pkg)
	r := result{target: t, elapsed: time.Since(start), output: out}

	// The final progress line carries the totals.
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := reProgress.FindStringSubmatch(lines[i]); m != nil {
			r.execs, _ = strconv.ParseInt(m[1], 10, 64)
			r.perSec, _ = strconv.ParseInt(m[2], 10, 64)
			r.interesting, _ = strconv.Atoi(m[3])
			break
		}
	}

	// The fuzz timer can race test shutdown and report a deadline error
	// without any failing input.
	r.ok = err == nil || (strings.Contains(out, "context deadline exceeded") &&
		!strings.Contains(out, "Failing input written to"))
	return r
}

func summarize(w *report.Writer, results []result) int {
	failed := 0
	var total int64
	fmt.Fprintf(w, "%-34s %-28s %-4s %12s %8s\n", "Target", "Package", "", "Execs", "Corpus+")
	w.Rule('-')
	for _, r := range results {
		if !r.ok {
			failed++
		}
		total += r.execs
		fmt.Fprintf(w, "%-34s %-28s %-4s %12d %8d\n", r.fn, r.pkg, status(r.ok), r.execs, r.interesting)
	}
	w.Rule('-')
	fmt.Fprintf(w, "total execs %d, failed %d\n\n", total, failed)

	for _, r := range results {
		fmt.Fprintf(w, "[%s] %s %s in %s (%d/sec)\n", status(r.ok), r.pkg, r.fn, r.elapsed.Round(time.Millisecond), r.perSec)
		if !r.ok {
			w.Indent(r.output)
		}
		w.WriteString("\n")
	}
	return failed
}

func status(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
