package timesync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_WallClock(t *testing.T) {
	bootTime := time.Unix(1000000000, 0)
	converter := NewConverterAt(bootTime)

	tests := []struct {
		name    string
		seconds float64
		want    time.Time
	}{
		{name: "zero", seconds: 0, want: bootTime},
		{name: "one second", seconds: 1, want: bootTime.Add(time.Second)},
		{name: "one hour", seconds: 3600, want: bootTime.Add(time.Hour)},
		{name: "microseconds", seconds: 1234.567890, want: bootTime.Add(1234*time.Second + 567890*time.Microsecond)},
		{name: "quarter", seconds: 0.25, want: bootTime.Add(250 * time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.WallClock(tt.seconds)
			assert.WithinDuration(t, tt.want, got, time.Microsecond)
		})
	}
}

func TestNewConverter(t *testing.T) {
	dir := t.TempDir()

	t.Run("reads btime", func(t *testing.T) {
		path := filepath.Join(dir, "stat")
		content := "cpu  1 2 3 4\nintr 100\nctxt 42\nbtime 1700000000\nprocesses 9\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		c, err := NewConverter(path)
		require.NoError(t, err)
		assert.True(t, c.BootTime().Equal(time.Unix(1700000000, 0)))
	})

	t.Run("missing btime", func(t *testing.T) {
		path := filepath.Join(dir, "nobtime")
		require.NoError(t, os.WriteFile(path, []byte("cpu 1 2 3\n"), 0o644))

		_, err := NewConverter(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "btime not found")
	})

	t.Run("bad btime", func(t *testing.T) {
		path := filepath.Join(dir, "badbtime")
		require.NoError(t, os.WriteFile(path, []byte("btime yesterday\n"), 0o644))

		_, err := NewConverter(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing btime")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewConverter(filepath.Join(dir, "absent"))
		require.Error(t, err)
	})
}

func TestNewConverter_ProcStat(t *testing.T) {
	if _, err := os.Stat(DefaultStatPath); err != nil {
		t.Skip("no /proc/stat")
	}

	c, err := NewConverter(DefaultStatPath)
	require.NoError(t, err)
	assert.False(t, c.BootTime().IsZero())
	assert.False(t, c.BootTime().After(time.Now()))
}
