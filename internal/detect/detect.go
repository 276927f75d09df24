// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// detectTimeout bounds one full probe when ctx has no deadline.
const detectTimeout = 10 * time.Second

// cacheTTL is how long Cached reuses a result.
const cacheTTL = 5 * time.Minute

// =============================================================================
// TYPES
// =============================================================================

// Kind is the accelerator family.
type Kind int

const (
	KindCPU Kind = iota
	KindNvidia
	KindAmd
	KindAppleSilicon
)

func (k Kind) String() string {
	switch k {
	case KindNvidia:
		return "NVIDIA"
	case KindAmd:
		return "AMD"
	case KindAppleSilicon:
		return "Apple Silicon"
	case KindCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// Accelerator describes the device models run on.
type Accelerator struct {
	Name string
	// Memory is usable model memory in bytes: VRAM, unified memory, or half
	// of system RAM for CPU inference. 0 when unknown.
	Memory uint64
	Driver string
	Kind   Kind
}

func (a *Accelerator) String() string {
	s := a.Name
	if a.Memory > 0 {
		s += fmt.Sprintf(" (%s)", humanize.IBytes(a.Memory))
	}
	if a.Driver != "" {
		s += fmt.Sprintf(" [Driver: %s]", a.Driver)
	}
	return s
}

// =============================================================================
// DETECTOR
// =============================================================================

// Detector probes the machine. The zero value is not usable; call New.
type Detector struct {
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
	readFile func(path string) ([]byte, error)
	glob     func(pattern string) ([]string, error)
	goos     string
	now      func() time.Time

	mu        sync.Mutex
	cached    *Accelerator
	fetchedAt time.Time
}

// New returns a Detector for the running system.
func New() *Detector {
	return &Detector{
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		readFile: os.ReadFile,
		glob:     filepath.Glob,
		goos:     runtime.GOOS,
		now:      time.Now,
	}
}

// Detect checks NVIDIA, then AMD, then Apple Silicon, and falls back to
// the CPU. It never returns a nil Accelerator without an error.
func (d *Detector) Detect(ctx context.Context) (*Accelerator, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, detectTimeout)
		defer cancel()
	}

	if acc := d.nvidia(ctx); acc != nil {
		return acc, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.goos == "linux" {
		if acc := d.amd(); acc != nil {
			return acc, nil
		}
	}
	if d.goos == "darwin" {
		if acc := d.apple(ctx); acc != nil {
			return acc, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.cpu(ctx), nil
}

// Cached returns the last result while it is fresh and probes otherwise.
func (d *Detector) Cached(ctx context.Context) (*Accelerator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && d.now().Sub(d.fetchedAt) < cacheTTL {
		return d.cached, nil
	}
	acc, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}
	d.cached = acc
	d.fetchedAt = d.now()
	return acc, nil
}

// =============================================================================
// PROBES
// =============================================================================

func (d *Detector) nvidia(ctx context.Context) *Accelerator {
	paths := []string{"nvidia-smi"}
	if d.goos == "windows" {
		paths = append(paths, `C:\Windows\System32\nvidia-smi.exe`)
	}
	for _, path := range paths {
		out, err := d.run(ctx, path,
			"--query-gpu=name,memory.total,driver_version",
			"--format=csv,noheader,nounits")
		if err == nil {
			return parseNvidiaSmi(out)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// parseNvidiaSmi reads the first GPU line, e.g.
// "GeForce RTX 4090, 24564, 550.54.14". Memory is in MiB.
func parseNvidiaSmi(out []byte) *Accelerator {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0])
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return nil
	}
	mib, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	return &Accelerator{
		Name:   "NVIDIA " + strings.TrimSpace(parts[0]),
		Memory: uint64(mib * 1024 * 1024),
		Driver: strings.TrimSpace(parts[2]),
		Kind:   KindNvidia,
	}
}

// amd reads the amdgpu VRAM counter of the largest card.
func (d *Detector) amd() *Accelerator {
	matches, err := d.glob("/sys/class/drm/card*/device/mem_info_vram_total")
	if err != nil || len(matches) == 0 {
		return nil
	}
	var best uint64
	for _, m := range matches {
		data, err := d.readFile(m)
		if err != nil {
			continue
		}
		if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); err == nil && v > best {
			best = v
		}
	}
	if best == 0 {
		return nil
	}
	return &Accelerator{Name: "AMD GPU", Memory: best, Kind: KindAmd}
}

func (d *Detector) apple(ctx context.Context) *Accelerator {
	brand, err := d.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	if err != nil || !strings.Contains(string(brand), "Apple") {
		return nil
	}
	acc := &Accelerator{Name: strings.TrimSpace(string(brand)), Kind: KindAppleSilicon}
	if out, err := d.run(ctx, "sysctl", "-n", "hw.memsize"); err == nil {
		if n, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64); err == nil {
			// Unified memory is shared with the GPU.
			acc.Memory = n
		}
	}
	if out, err := d.run(ctx, "sw_vers", "-productVersion"); err == nil {
		acc.Driver = "macOS " + strings.TrimSpace(string(out))
	}
	return acc
}

// cpu estimates usable memory as half of system RAM.
func (d *Detector) cpu(ctx context.Context) *Accelerator {
	var total uint64
	switch d.goos {
	case "linux":
		if data, err := d.readFile("/proc/meminfo"); err == nil {
			total = parseMemInfo(data)
		}
	case "darwin":
		if out, err := d.run(ctx, "sysctl", "-n", "hw.memsize"); err == nil {
			total, _ = strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
		}
	}
	return &Accelerator{Name: "CPU Only", Memory: total / 2, Kind: KindCPU}
}

// parseMemInfo returns MemTotal from /proc/meminfo in bytes.
func parseMemInfo(data []byte) uint64 {
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
