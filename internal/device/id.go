package device

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ID identifies a block device by its major and minor numbers.
// It is comparable and used as a map key.
type ID struct {
	Major uint32
	Minor uint32
}

// ParseID parses the "major,minor" form printed by block tracepoints.
func ParseID(s string) (ID, error) {
	majorStr, minorStr, ok := strings.Cut(s, ",")
	if !ok {
		return ID{}, fmt.Errorf("device id %q: missing comma", s)
	}

	major, err := strconv.ParseUint(majorStr, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("device id %q: major: %w", s, err)
	}

	minor, err := strconv.ParseUint(minorStr, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("device id %q: minor: %w", s, err)
	}

	return ID{Major: uint32(major), Minor: uint32(minor)}, nil
}

// IsNull reports whether the id is 0,0, which never names a real I/O target.
func (id ID) IsNull() bool {
	return id.Major == 0 && id.Minor == 0
}

// Dev returns the id encoded as a dev_t.
func (id ID) Dev() uint64 {
	return unix.Mkdev(id.Major, id.Minor)
}

// String formats the id the way tracepoints print it.
func (id ID) String() string {
	return fmt.Sprintf("%d,%d", id.Major, id.Minor)
}
