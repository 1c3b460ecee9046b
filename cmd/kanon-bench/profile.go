// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/luxfi/log"
)

// ProfileConfig holds profiling configuration
type ProfileConfig struct {
	// CPUProfile enables CPU profiling to the specified file
	CPUProfile string
	// MemProfile writes a heap profile to the specified file on Stop
	MemProfile string
	// BlockProfile enables block (contention) profiling
	BlockProfile string
	// MutexProfile enables mutex profiling
	MutexProfile string
}

// Profiler wraps runtime/pprof around a benchmark run
type Profiler struct {
	config    ProfileConfig
	log       log.Logger
	cpuFile   *os.File
	startTime time.Time
}

// NewProfiler creates a new profiler with the given configuration
func NewProfiler(config ProfileConfig, logger log.Logger) *Profiler {
	return &Profiler{config: config, log: logger}
}

// Start begins profiling
func (p *Profiler) Start() error {
	p.startTime = time.Now()

	if p.config.BlockProfile != "" {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile != "" {
		runtime.SetMutexProfileFraction(1)
	}

	if p.config.CPUProfile != "" {
		f, err := os.Create(p.config.CPUProfile)
		if err != nil {
			return fmt.Errorf("create CPU profile: %w", err)
		}
		p.cpuFile = f
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}
	return nil
}

// Stop ends profiling and writes all profile files
func (p *Profiler) Stop() error {
	p.log.Debug("profiling finished", "duration", time.Since(p.startTime))

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
		p.log.Info("CPU profile written", "path", p.config.CPUProfile)
	}

	if p.config.MemProfile != "" {
		runtime.GC()
		if err := writeProfile(p.config.MemProfile, "heap"); err != nil {
			return err
		}
		p.log.Info("memory profile written", "path", p.config.MemProfile)
	}

	if p.config.BlockProfile != "" {
		err := writeProfile(p.config.BlockProfile, "block")
		runtime.SetBlockProfileRate(0)
		if err != nil {
			return err
		}
		p.log.Info("block profile written", "path", p.config.BlockProfile)
	}

	if p.config.MutexProfile != "" {
		err := writeProfile(p.config.MutexProfile, "mutex")
		runtime.SetMutexProfileFraction(0)
		if err != nil {
			return err
		}
		p.log.Info("mutex profile written", "path", p.config.MutexProfile)
	}
	return nil
}

func writeProfile(path, name string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	defer f.Close()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	return nil
}

// memStats returns the heap figures logged after a run
func memStats() []any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return []any{
		"allocMB", m.Alloc >> 20,
		"totalAllocMB", m.TotalAlloc >> 20,
		"sysMB", m.Sys >> 20,
		"numGC", m.NumGC,
	}
}
