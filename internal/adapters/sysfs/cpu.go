// Package sysfs drives Linux CPU hotplug through /sys/devices/system/cpu.
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// DefaultRoot is the kernel's CPU device directory.
const DefaultRoot = "/sys/devices/system/cpu"

var (
	ErrNoUnits    = errors.New("sysfs: no cpu directories found")
	ErrBadRange   = errors.New("sysfs: malformed cpu range list")
	cpuDirPattern = regexp.MustCompile(`^cpu[0-9]+$`)
)

// CPUController reads and writes per-CPU online files under Root.
type CPUController struct {
	root string
}

func NewCPUController(root string) *CPUController {
	if root == "" {
		root = DefaultRoot
	}
	return &CPUController{root: root}
}

func (c *CPUController) Root() string { return c.root }

func (c *CPUController) onlinePath(unit int) string {
	return filepath.Join(c.root, fmt.Sprintf("cpu%d", unit), "online")
}

// Status reads the first byte of the unit's online file as a state index.
// Units without a readable file, such as a boot CPU that cannot be
// hot-unplugged, are Unknown.
func (c *CPUController) Status(unit int) domain.UnitState {
	f, err := os.Open(c.onlinePath(unit))
	if err != nil {
		return domain.UnitUnknown
	}
	defer f.Close()

	var b [1]byte
	if n, err := f.Read(b[:]); err != nil || n != 1 {
		return domain.UnitUnknown
	}
	switch b[0] {
	case '0':
		return domain.UnitOffline
	case '1':
		return domain.UnitOnline
	case '2':
		return domain.UnitOfflineFailed
	default:
		return domain.UnitUnknown
	}
}

// SetOnline writes "1" or "0" to the unit's online file after resolving
// symlinks in its path.
func (c *CPUController) SetOnline(unit int, online bool) error {
	path, err := filepath.EvalSymlinks(c.onlinePath(unit))
	if err != nil {
		return fmt.Errorf("sysfs: resolve cpu%d: %w", unit, err)
	}
	val := "0"
	if online {
		val = "1"
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("sysfs: open %s: %w", path, err)
	}
	if _, err := f.WriteString(val); err != nil {
		f.Close()
		return fmt.Errorf("sysfs: write %s: %w", path, err)
	}
	return f.Close()
}

// OnlineCount parses the system-wide online range list, e.g. "0-3,5,7-8".
func (c *CPUController) OnlineCount() (int, error) {
	raw, err := os.ReadFile(filepath.Join(c.root, "online"))
	if err != nil {
		return 0, fmt.Errorf("sysfs: read online list: %w", err)
	}
	return ParseRangeList(string(raw))
}

// CountUnits returns the number of cpuN directories under root.
func (c *CPUController) CountUnits() (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("sysfs: list %s: %w", c.root, err)
	}
	n := 0
	for _, e := range entries {
		if cpuDirPattern.MatchString(e.Name()) {
			n++
		}
	}
	if n == 0 {
		return 0, ErrNoUnits
	}
	return n, nil
}

// ParseRangeList counts the members of a kernel cpu list.
func ParseRangeList(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	total := 0
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadRange, part)
		}
		if !isRange {
			total++
			continue
		}
		last, err := strconv.Atoi(hi)
		if err != nil || last < first {
			return 0, fmt.Errorf("%w: %q", ErrBadRange, part)
		}
		total += last - first + 1
	}
	return total, nil
}

var _ ports.UnitController = (*CPUController)(nil)
