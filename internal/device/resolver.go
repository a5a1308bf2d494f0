package device

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// loopMajor is the major number of loop devices. They emit block events but
// are not listed in /proc/partitions.
const loopMajor = 7

// ErrUnknownDevice is returned when a device id has no partition table entry.
var ErrUnknownDevice = errors.New("device not in partition table")

// Resolver maps a device id to a display path.
type Resolver interface {
	Resolve(id ID) (string, error)
}

// StackedNamer recovers a friendlier path for a stacked (device-mapper)
// device, given its kernel name such as "dm-3".
type StackedNamer interface {
	StackedPath(kernelName string) (string, error)
}

// FSResolver resolves device ids using the partition table and /dev.
type FSResolver struct {
	PartitionsFile string
	DevDir         string
	Stacked        StackedNamer
}

// NewFSResolver creates a resolver for the running system.
func NewFSResolver() *FSResolver {
	return &FSResolver{
		PartitionsFile: "/proc/partitions",
		DevDir:         "/dev",
		Stacked: &LVMNamer{
			MapperDir: "/dev/mapper",
			DevDir:    "/dev",
		},
	}
}

// Resolve returns the path of the device, e.g. /dev/sda or /dev/vg0/root.
func (r *FSResolver) Resolve(id ID) (string, error) {
	if id.Major == loopMajor {
		return filepath.Join(r.DevDir, "loop"+strconv.FormatUint(uint64(id.Minor), 10)), nil
	}

	name, err := r.kernelName(id)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(name, "dm-") && r.Stacked != nil {
		return r.Stacked.StackedPath(name)
	}

	return filepath.Join(r.DevDir, name), nil
}

// kernelName looks the id up in the partition table. The table is re-read on
// every call so devices attached after startup are found.
func (r *FSResolver) kernelName(id ID) (string, error) {
	//nolint:gosec // Reading the partition table is the purpose of this resolver
	file, err := os.Open(r.PartitionsFile)
	if err != nil {
		return "", fmt.Errorf("opening partition table: %w", err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// major minor  #blocks  name
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "major" {
			continue
		}

		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}

		if uint32(major) == id.Major && uint32(minor) == id.Minor {
			return fields[3], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading partition table: %w", err)
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownDevice, id)
}

// LVMNamer names device-mapper devices after their /dev/mapper symlink,
// preferring the /dev/<vg>/<lv> path when one exists.
type LVMNamer struct {
	MapperDir string
	DevDir    string
}

// StackedPath implements StackedNamer.
func (n *LVMNamer) StackedPath(kernelName string) (string, error) {
	dmPath := filepath.Join(n.DevDir, kernelName)

	entries, err := os.ReadDir(n.MapperDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dmPath, nil
		}
		return "", fmt.Errorf("listing %s: %w", n.MapperDir, err)
	}

	for _, entry := range entries {
		if entry.Type()&fs.ModeSymlink == 0 {
			continue
		}

		linkPath := filepath.Join(n.MapperDir, entry.Name())
		target, err := os.Readlink(linkPath)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(n.MapperDir, target)
		}
		if filepath.Clean(target) != dmPath {
			continue
		}

		if vg, lv, ok := splitVGLV(entry.Name()); ok {
			lvPath := filepath.Join(n.DevDir, vg, lv)
			if _, err := os.Stat(lvPath); err == nil {
				return lvPath, nil
			}
		}
		return linkPath, nil
	}

	return dmPath, nil
}

// splitVGLV splits a device-mapper name into volume group and logical volume.
// LVM doubles dashes that are part of either name, so the separator is the
// first single dash.
func splitVGLV(name string) (vg, lv string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] != '-' {
			continue
		}
		if i+1 < len(name) && name[i+1] == '-' {
			i++
			continue
		}
		if i == 0 || i == len(name)-1 {
			return "", "", false
		}
		return unescapeLVM(name[:i]), unescapeLVM(name[i+1:]), true
	}
	return "", "", false
}

func unescapeLVM(s string) string {
	return strings.ReplaceAll(s, "--", "-")
}

// CachedResolver memoizes another Resolver. Device paths are assumed stable
// for the lifetime of the process. Not safe for concurrent use.
type CachedResolver struct {
	resolver Resolver
	paths    map[uint64]string // dev_t -> path
}

// NewCachedResolver wraps r with a cache.
func NewCachedResolver(r Resolver) *CachedResolver {
	return &CachedResolver{
		resolver: r,
		paths:    make(map[uint64]string),
	}
}

// Resolve returns the cached path, resolving it on first use. Failures are
// not cached.
func (c *CachedResolver) Resolve(id ID) (string, error) {
	if path, ok := c.paths[id.Dev()]; ok {
		return path, nil
	}

	path, err := c.resolver.Resolve(id)
	if err != nil {
		return "", err
	}

	c.paths[id.Dev()] = path
	return path, nil
}
