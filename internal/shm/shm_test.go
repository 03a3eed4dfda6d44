package shm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRegionFile(t *testing.T, dir, name string, recordSize int) {
	t.Helper()
	size := headerSize + recordSize*SlotCount
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func newTestMirror(t *testing.T) (*Mirror, string) {
	t.Helper()
	dir := t.TempDir()
	writeRegionFile(t, dir, "nodes", nodeRecordSize)
	writeRegionFile(t, dir, "callbacks", callbackRecordSize)
	writeRegionFile(t, dir, "times", timeRecordSize)
	writeRegionFile(t, dir, "msg", msgRecordSize)

	require.True(t, BootReady(dir))

	m, err := Load(dir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, dir
}

func TestClearTimesZeroesRegion(t *testing.T) {
	m, _ := newTestMirror(t)

	binary.NativeEndian.PutUint32(m.times.data[0:4], 1)
	slot := m.times.slot(0)
	binary.NativeEndian.PutUint64(slot[0:8], 42)
	binary.NativeEndian.PutUint64(slot[8:16], 1000)
	binary.NativeEndian.PutUint64(slot[16:24], uint64(EventCbStart))

	m.ClearTimes()

	for _, b := range m.times.data[:16] {
		require.Equal(t, byte(0), b)
	}
	require.Equal(t, int32(0), m.times.count())
}

func TestBootReadyRequiresAllNonEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	require.False(t, BootReady(dir))
	writeRegionFile(t, dir, "nodes", nodeRecordSize)
	require.False(t, BootReady(dir))
}
