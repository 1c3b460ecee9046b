// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/pipeline"
)

func TestSummarize(t *testing.T) {
	s, err := summarize([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.Equal(t, 5, s.n)
	require.InDelta(t, 3, s.mean, 1e-9)
	require.InDelta(t, 3, s.median, 1e-9)
	require.InDelta(t, 1.414, s.stddev, 1e-3)
	require.GreaterOrEqual(t, s.p95, 4.0)
	require.LessOrEqual(t, s.p95, 5.0)

	t.Run("Single", func(t *testing.T) {
		s, err := summarize([]float64{7})
		require.NoError(t, err)
		require.InDelta(t, 7, s.p95, 1e-9)
		require.Zero(t, s.stddev)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := summarize(nil)
		require.Error(t, err)
	})
}

func TestParseMethods(t *testing.T) {
	ms, err := parseMethods("range, polynomial-encrypted")
	require.NoError(t, err)
	require.Equal(t, []pipeline.Method{pipeline.MethodRange, pipeline.MethodPolynomialEncrypted}, ms)

	_, err = parseMethods("range,bitwise")
	require.ErrorIs(t, err, kanon.ErrInvalidParameter)
}

func TestResultsReport(t *testing.T) {
	res := newResults()
	res.add("setup", "keygen", 40*time.Millisecond)
	res.add("host", "encrypt", 2*time.Millisecond)
	res.add("host", "encrypt", 4*time.Millisecond)
	res.add("device", "compare range", 10*time.Millisecond)

	require.Equal(t, []string{"setup", "host", "device"}, res.series)
	require.Equal(t, []string{"keygen", "encrypt", "compare range"}, res.stages)

	var out bytes.Buffer
	require.NoError(t, res.report(&out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[2], "3.00")

	// host has no compare stage and device no encrypt stage
	require.Equal(t, missing, res.mean("host", "compare range"))
	require.InDelta(t, 3.0, res.mean("host", "encrypt"), 1e-9)

	var html bytes.Buffer
	require.NoError(t, res.chart("test").Render(&html))
	page := html.String()
	require.Contains(t, page, "Mean stage time")
	require.NotContains(t, page, "NaN")
	require.Regexp(t, `let option_\w+ = \{`, page)
}

func TestBenchBackend(t *testing.T) {
	kc, err := kanon.NewContextFromLiteral(kanon.PN12QP275T17)
	require.NoError(t, err)
	table, err := kanon.Coefficients(kc.Modulus())
	require.NoError(t, err)
	b, err := kanon.NewHostBackend(kc, kanon.HostConfig{Workers: 2})
	require.NoError(t, err)
	defer b.Close()

	data, err := pipeline.GenerateDataset(4, kc.Slots(), 0.5, 3)
	require.NoError(t, err)

	res := newResults()
	err = benchBackend(res, b, kc, table, data, []pipeline.Method{pipeline.MethodPolynomial}, 0, 2, 2)
	require.NoError(t, err)
	require.Len(t, res.samples["host"]["compare polynomial"], 2)
	require.Len(t, res.samples["host"]["encrypt"], 2)
}
