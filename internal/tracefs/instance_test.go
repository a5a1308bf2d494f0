package tracefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEvents = []string{"block_rq_insert", "block_rq_issue", "block_rq_complete"}

// fakeInstance lays out the files tracefs would create for an instance.
func fakeInstance(t *testing.T, root, name string, events []string) string {
	t.Helper()

	dir := filepath.Join(root, "instances", name)
	for _, ev := range events {
		evDir := filepath.Join(dir, "events", "block", ev)
		require.NoError(t, os.MkdirAll(evDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(evDir, "enable"), []byte("0"), 0o644))
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracing_on"), []byte("0"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trace_pipe"), []byte("line\n"), 0o644))
	return dir
}

func readFlag(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSetup_TracingUnavailable(t *testing.T) {
	root := t.TempDir()

	inst := NewInstance(root, "blkiolat", testEvents, nil)
	err := inst.Setup()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTracingUnavailable)

	_, statErr := os.Stat(inst.Dir())
	assert.True(t, os.IsNotExist(statErr), "no instance directory should be created")
}

func TestSetup_EnablesTracepoints(t *testing.T) {
	root := t.TempDir()
	dir := fakeInstance(t, root, "blkiolat", testEvents)

	inst := NewInstance(root, "blkiolat", testEvents, nil)
	require.NoError(t, inst.Setup())

	for _, ev := range testEvents {
		assert.Equal(t, "1", readFlag(t, filepath.Join(dir, "events", "block", ev, "enable")), ev)
	}
	assert.Equal(t, "1", readFlag(t, filepath.Join(dir, "tracing_on")))

	f, err := inst.OpenPipe()
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestSetup_Clock(t *testing.T) {
	root := t.TempDir()
	dir := fakeInstance(t, root, "blkiolat", testEvents)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trace_clock"), []byte("[local] global mono"), 0o644))

	inst := NewInstance(root, "blkiolat", testEvents, nil).WithClock("mono")
	require.NoError(t, inst.Setup())
	assert.Equal(t, "mono", readFlag(t, filepath.Join(dir, "trace_clock")))
}

func TestSetup_MissingClockFile(t *testing.T) {
	root := t.TempDir()
	fakeInstance(t, root, "blkiolat", testEvents)

	inst := NewInstance(root, "blkiolat", testEvents, nil).WithClock("mono")
	err := inst.Setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace clock")
}

func TestSetup_RollsBackOnMissingTracepoint(t *testing.T) {
	root := t.TempDir()
	dir := fakeInstance(t, root, "blkiolat", testEvents[:2])

	inst := NewInstance(root, "blkiolat", testEvents, nil)
	err := inst.Setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_rq_complete")

	for _, ev := range testEvents[:2] {
		assert.Equal(t, "0", readFlag(t, filepath.Join(dir, "events", "block", ev, "enable")), ev)
	}
	assert.Equal(t, "0", readFlag(t, filepath.Join(dir, "tracing_on")))

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr, "a pre-existing instance is left in place")
}

func TestSetup_RemovesCreatedInstanceOnFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "instances"), 0o755))

	// A plain directory has none of the control files tracefs would populate.
	inst := NewInstance(root, "blkiolat", testEvents, nil)
	err := inst.Setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enabling tracepoint")

	_, statErr := os.Stat(inst.Dir())
	assert.True(t, os.IsNotExist(statErr), "instance directory should be removed")
}

func TestTeardown(t *testing.T) {
	t.Run("disables tracing and reports non-removable directory", func(t *testing.T) {
		root := t.TempDir()
		dir := fakeInstance(t, root, "blkiolat", testEvents)

		inst := NewInstance(root, "blkiolat", testEvents, nil)
		require.NoError(t, inst.Setup())

		// A regular filesystem refuses to rmdir a populated directory,
		// unlike tracefs.
		err := inst.Teardown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "removing instance")

		assert.Equal(t, "0", readFlag(t, filepath.Join(dir, "tracing_on")))
		for _, ev := range testEvents {
			assert.Equal(t, "0", readFlag(t, filepath.Join(dir, "events", "block", ev, "enable")), ev)
		}
	})

	t.Run("empty instance directory is removed", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(root, "instances", "blkiolat")
		require.NoError(t, os.MkdirAll(dir, 0o755))

		inst := NewInstance(root, "blkiolat", nil, nil)
		err := inst.Teardown()
		require.Error(t, err, "tracing_on is missing")
		assert.Contains(t, err.Error(), "disabling tracing")

		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestOpenPipe_Missing(t *testing.T) {
	inst := NewInstance(t.TempDir(), "nope", nil, nil)
	_, err := inst.OpenPipe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace_pipe")
}
