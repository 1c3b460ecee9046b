// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Command kanon-bench times the k-anonymity pipeline on the host and device
// backends.
//
// Usage:
//
//	kanon-bench -preset PN12QP385T97 -iterations 10 -html report.html
//	kanon-bench -backends host -methods polynomial -cpuprofile cpu.prof
//
// Analyze profiles:
//
//	go tool pprof -http=:8080 cpu.prof
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/luxfi/log"
	"github.com/montanaflynn/stats"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run() error {
	var (
		preset     = flag.String("preset", envOr("KANON_PRESET", "PN12QP385T97"), "parameter preset")
		iterations = flag.Int("iterations", 5, "iterations per backend and method")
		rows       = flag.Int("rows", 0, "dataset rows (default: largest the polynomial comparator accepts, at most 32)")
		cols       = flag.Int("cols", 256, "dataset regions")
		density    = flag.Float64("density", 0.1, "probability that a user is in a region")
		seed       = flag.Uint64("seed", 1, "dataset seed")
		threshold  = flag.Uint64("k", 5, "anonymity threshold K")
		user       = flag.Int("user", 0, "requesting user row")
		backendsF  = flag.String("backends", "host,device", "comma-separated backends")
		methodsF   = flag.String("methods", "range,polynomial,polynomial-encrypted", "comma-separated methods")
		workers    = flag.Int("workers", runtime.NumCPU(), "host workers")
		streams    = flag.Int("streams", runtime.NumCPU(), "device streams")
		htmlOut    = flag.String("html", "", "write an HTML chart of mean stage times")

		cpuProfile   = flag.String("cpuprofile", "", "write cpu profile to file")
		memProfile   = flag.String("memprofile", "", "write memory profile to file")
		blockProfile = flag.String("blockprofile", "", "write block profile to file")
		mutexProfile = flag.String("mutexprofile", "", "write mutex profile to file")
	)
	flag.Parse()

	logger := log.Root()

	lit, ok := kanon.Presets[*preset]
	if !ok {
		return fmt.Errorf("unknown preset %q", *preset)
	}
	params, err := kanon.NewParametersFromLiteral(lit)
	if err != nil {
		return fmt.Errorf("create parameters: %w", err)
	}
	if !params.Secure128() {
		logger.Warn("preset is below 128-bit security", "preset", *preset, "logQP", params.LogQP())
	}
	if *iterations <= 0 {
		return fmt.Errorf("iterations must be positive")
	}

	p := params.Modulus()
	if *rows <= 0 {
		*rows = int(min((p-1)/2, 32))
	}
	methods, err := parseMethods(*methodsF)
	if err != nil {
		return err
	}

	profiler := NewProfiler(ProfileConfig{
		CPUProfile:   *cpuProfile,
		MemProfile:   *memProfile,
		BlockProfile: *blockProfile,
		MutexProfile: *mutexProfile,
	}, logger)
	if err := profiler.Start(); err != nil {
		return fmt.Errorf("start profiler: %w", err)
	}
	defer profiler.Stop()

	logger.Info("benchmark starting",
		"preset", *preset,
		"modulus", p,
		"slots", params.Slots(),
		"rows", *rows,
		"cols", *cols,
		"k", *threshold,
		"iterations", *iterations,
		"gomaxprocs", runtime.GOMAXPROCS(0),
	)

	res := newResults()

	var keys *kanon.KeySet
	for i := 0; i < *iterations; i++ {
		start := time.Now()
		keys = kanon.NewKeyGenerator(params).GenKeySet()
		res.add("setup", "keygen", time.Since(start))

		start = time.Now()
		if _, err := kanon.PrecomputeCoefficients(p); err != nil {
			return err
		}
		res.add("setup", "coefficients", time.Since(start))
	}
	kc, err := kanon.NewContext(params, keys)
	if err != nil {
		return err
	}
	table, err := kanon.Coefficients(p)
	if err != nil {
		return err
	}

	data, err := pipeline.GenerateDataset(*rows, *cols, *density, *seed)
	if err != nil {
		return err
	}

	cfg := pipeline.DefaultBackendConfig()
	cfg.Host.Workers = *workers
	cfg.Device.Streams = *streams
	cfg.Device.Logger = logger

	for _, kind := range strings.Split(*backendsF, ",") {
		kind = strings.TrimSpace(kind)
		b, err := pipeline.NewBackend(kind, kc, cfg)
		if err != nil {
			return err
		}
		err = benchBackend(res, b, kc, table, data, methods, *user, *threshold, *iterations)
		b.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		logger.Info("backend done", append([]any{"backend", kind}, memStats()...)...)
	}

	if err := res.report(os.Stdout); err != nil {
		return err
	}

	if *htmlOut != "" {
		f, err := os.Create(*htmlOut)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		title := fmt.Sprintf("%s, %d×%d, K=%d", *preset, *rows, *cols, *threshold)
		if err := res.chart(title).Render(f); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		logger.Info("report written", "path", *htmlOut)
	}
	return nil
}

func parseMethods(s string) ([]pipeline.Method, error) {
	var out []pipeline.Method
	for _, name := range strings.Split(s, ",") {
		m, err := pipeline.ParseMethod(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func benchBackend(res *results, b kanon.Backend, kc *kanon.Context, table *kanon.CoefficientTable,
	data [][]uint64, methods []pipeline.Method, user int, k uint64, iterations int) error {
	for i := 0; i < iterations; i++ {
		for _, m := range methods {
			out, err := pipeline.Run(b, kc, pipeline.Request{
				Rows:      data,
				User:      user,
				Threshold: k,
				Method:    m,
				Table:     table,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", m, err)
			}
			t := out.Timings
			res.add(b.Name(), "encrypt", t.Encrypt)
			res.add(b.Name(), "aggregate", t.Aggregate)
			res.add(b.Name(), "filter", t.Filter)
			res.add(b.Name(), "compare "+string(m), t.Compare)
			res.add(b.Name(), "decrypt", t.Decrypt)
		}
	}
	return nil
}

// results holds per-series stage samples in milliseconds.
type results struct {
	series  []string
	stages  []string
	samples map[string]map[string][]float64
}

func newResults() *results {
	return &results{samples: make(map[string]map[string][]float64)}
}

func (r *results) add(series, stage string, d time.Duration) {
	byStage, ok := r.samples[series]
	if !ok {
		byStage = make(map[string][]float64)
		r.samples[series] = byStage
		r.series = append(r.series, series)
	}
	if !slices.Contains(r.stages, stage) {
		r.stages = append(r.stages, stage)
	}
	byStage[stage] = append(byStage[stage], float64(d)/float64(time.Millisecond))
}

type summary struct {
	n      int
	mean   float64
	median float64
	stddev float64
	p95    float64
}

func summarize(values []float64) (summary, error) {
	s := summary{n: len(values)}
	var err error
	if s.mean, err = stats.Mean(values); err != nil {
		return summary{}, err
	}
	if s.median, err = stats.Median(values); err != nil {
		return summary{}, err
	}
	if s.stddev, err = stats.StandardDeviation(values); err != nil {
		return summary{}, err
	}
	if s.p95, err = stats.Percentile(values, 95); err != nil {
		return summary{}, err
	}
	return s, nil
}

// missing marks an absent bar in echarts
const missing = "-"

func (r *results) mean(series, stage string) any {
	s, err := summarize(r.samples[series][stage])
	if err != nil {
		return missing
	}
	return s.mean
}

func (r *results) report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "backend\tstage\tn\tmean ms\tmedian ms\tstddev ms\tp95 ms\t")
	for _, series := range r.series {
		stages := make([]string, 0, len(r.samples[series]))
		for _, stage := range r.stages {
			if _, ok := r.samples[series][stage]; ok {
				stages = append(stages, stage)
			}
		}
		for _, stage := range stages {
			s, err := summarize(r.samples[series][stage])
			if err != nil {
				return fmt.Errorf("%s %s: %w", series, stage, err)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
				series, stage, s.n, s.mean, s.median, s.stddev, s.p95)
		}
	}
	return tw.Flush()
}

// chart renders one bar chart of mean stage times per series plus a
// comparison of the compare stages across series.
func (r *results) chart(title string) *components.Page {
	page := components.NewPage()
	page.PageTitle = "kanon benchmark"

	compare := charts.NewBar()
	compare.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Mean stage time", Subtitle: title}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "kanon benchmark", Width: "1200px", Height: "600px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)

	var stages []string
	for _, stage := range r.stages {
		for _, series := range r.series {
			if series != "setup" {
				if _, ok := r.samples[series][stage]; ok {
					stages = append(stages, stage)
					break
				}
			}
		}
	}
	compare.SetXAxis(stages)
	for _, series := range r.series {
		if series == "setup" {
			continue
		}
		items := make([]opts.BarData, len(stages))
		for i, stage := range stages {
			items[i] = opts.BarData{Value: r.mean(series, stage)}
		}
		compare.AddSeries(series, items)
	}
	page.AddCharts(compare)

	if setup, ok := r.samples["setup"]; ok {
		names := make([]string, 0, len(setup))
		for name := range setup {
			names = append(names, name)
		}
		sort.Strings(names)

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{Title: "Setup", Subtitle: title}),
			charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		)
		items := make([]opts.BarData, len(names))
		for i, name := range names {
			items[i] = opts.BarData{Value: r.mean("setup", name)}
		}
		bar.SetXAxis(names).AddSeries("mean", items)
		page.AddCharts(bar)
	}
	return page
}
