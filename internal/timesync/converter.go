package timesync

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultStatPath is the kernel statistics file holding btime.
const DefaultStatPath = "/proc/stat"

// Converter turns seconds since boot into wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter reads the system boot time from statPath.
func NewConverter(statPath string) (*Converter, error) {
	bootTime, err := readBootTime(statPath)
	if err != nil {
		return nil, err
	}
	return &Converter{bootTime: bootTime}, nil
}

// NewConverterAt returns a Converter for a known boot time.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// WallClock converts a trace timestamp in seconds since boot.
func (c *Converter) WallClock(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	//nolint:gosec // trace timestamps are far below the int64 range
	return c.bootTime.Add(time.Duration(whole)*time.Second + time.Duration(math.Round(frac*1e9)))
}

// BootTime returns the system boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

func readBootTime(path string) (time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "btime" {
			continue
		}
		sec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing btime %q: %w", fields[1], err)
		}
		return time.Unix(sec, 0), nil
	}

	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return time.Time{}, fmt.Errorf("btime not found in %s", path)
}
