// Package profile selects a resource-cap bundle from detected system
// memory, the way a single-board-computer deployment needs: a Pi Zero
// with 512 MiB and a Pi 4 with 8 GiB should not run the same worker
// concurrency or LLM fan-out.
package profile

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Name identifies one of the four resource-cap bundles.
type Name string

const (
	Profile1G Name = "1g"
	Profile2G Name = "2g"
	Profile4G Name = "4g"
	Profile8G Name = "8g"
)

// Caps is the published, read-only set of resource limits derived from a
// profile. Every subsystem that needs a concurrency or queue bound reads
// it from here rather than hardcoding a value.
type Caps struct {
	Name Name

	WorkerConcurrency   int
	LLMMaxConcurrency   int
	SkillMaxConcurrency int
	QueueLengthCap      int
	CacheBudgetBytes    int64

	TaskTimeout    time.Duration
	SkillTimeout   time.Duration
	ToolTimeout    time.Duration
	StepLimit      int
	DupLimit       int
	ParseRetryLimit int
}

// bundles maps each profile name to its resource caps. Values are sized
// for a cooperative single-process daemon on constrained hardware, not
// for a multi-tenant server.
var bundles = map[Name]Caps{
	Profile1G: {
		Name: Profile1G, WorkerConcurrency: 1, LLMMaxConcurrency: 1, SkillMaxConcurrency: 1,
		QueueLengthCap: 20, CacheBudgetBytes: 16 << 20,
		TaskTimeout: 60 * time.Second, SkillTimeout: 20 * time.Second, ToolTimeout: 15 * time.Second,
		StepLimit: 8, DupLimit: 3, ParseRetryLimit: 2,
	},
	Profile2G: {
		Name: Profile2G, WorkerConcurrency: 2, LLMMaxConcurrency: 2, SkillMaxConcurrency: 2,
		QueueLengthCap: 50, CacheBudgetBytes: 48 << 20,
		TaskTimeout: 90 * time.Second, SkillTimeout: 30 * time.Second, ToolTimeout: 20 * time.Second,
		StepLimit: 10, DupLimit: 3, ParseRetryLimit: 2,
	},
	Profile4G: {
		Name: Profile4G, WorkerConcurrency: 4, LLMMaxConcurrency: 4, SkillMaxConcurrency: 3,
		QueueLengthCap: 150, CacheBudgetBytes: 128 << 20,
		TaskTimeout: 120 * time.Second, SkillTimeout: 45 * time.Second, ToolTimeout: 30 * time.Second,
		StepLimit: 12, DupLimit: 3, ParseRetryLimit: 2,
	},
	Profile8G: {
		Name: Profile8G, WorkerConcurrency: 8, LLMMaxConcurrency: 6, SkillMaxConcurrency: 5,
		QueueLengthCap: 500, CacheBudgetBytes: 256 << 20,
		TaskTimeout: 180 * time.Second, SkillTimeout: 60 * time.Second, ToolTimeout: 45 * time.Second,
		StepLimit: 16, DupLimit: 3, ParseRetryLimit: 2,
	},
}

// ForName returns the caps for an explicit profile name.
func ForName(name Name) (Caps, error) {
	c, ok := bundles[name]
	if !ok {
		return Caps{}, fmt.Errorf("profile: unknown profile %q", name)
	}
	return c, nil
}

// Detect picks a profile from the host's total memory. It never fails:
// if memory can't be read, it falls back to Profile1G, the safest
// (most conservative) bundle for unknown hardware.
func Detect() Caps {
	total, err := totalMemoryBytes()
	if err != nil || total <= 0 {
		return bundles[Profile1G]
	}
	return bundles[pickName(total)]
}

func pickName(totalBytes int64) Name {
	const gib = int64(1) << 30
	switch {
	case totalBytes < 2*gib:
		return Profile1G
	case totalBytes < 4*gib:
		return Profile2G
	case totalBytes < 8*gib:
		return Profile4G
	default:
		return Profile8G
	}
}

// totalMemoryBytes reads total system RAM via gopsutil, which covers
// Linux, Darwin, and Windows uniformly instead of a Linux-only
// /proc/meminfo parse with a guessed fallback everywhere else.
func totalMemoryBytes() (int64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("profile: read total memory: %w", err)
	}
	return int64(v.Total), nil
}
