// Package shm memory-maps the four fixed-size telemetry ring regions an
// instrumented middleware runtime writes to, and exposes typed snapshots.
package shm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// region is one mmap'd ring buffer: a {count, mutex} header followed by
// SlotCount fixed-size records.
type region struct {
	path       string
	file       *os.File
	data       []byte
	recordSize int
}

func openRegion(dir, name string, recordSize int) (*region, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	size := headerSize + recordSize*SlotCount
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &region{path: path, file: f, data: data, recordSize: recordSize}, nil
}

func (r *region) close() error {
	if r == nil {
		return nil
	}
	if err := unix.Munmap(r.data); err != nil {
		r.file.Close()
		return fmt.Errorf("shm: munmap %s: %w", r.path, err)
	}
	return r.file.Close()
}

func (r *region) count() int32 {
	return int32(binary.NativeEndian.Uint32(r.data[0:4]))
}

func (r *region) slot(i int) []byte {
	start := headerSize + i*r.recordSize
	return r.data[start : start+r.recordSize]
}

// zero clears the entire region, including the header, so the next reader
// sees count=0 and every slot's fields at zero.
func (r *region) zero() {
	for i := range r.data {
		r.data[i] = 0
	}
}

// Mirror owns the four mmap'd regions for one target and exposes typed reads.
type Mirror struct {
	dir       string
	nodes     *region
	callbacks *region
	times     *region
	msg       *region
}

// regionFiles names the four files a Mirror expects under dir.
var regionFiles = []string{"nodes", "callbacks", "times", "msg"}

// BootReady polls whether all four telemetry files exist and are non-empty,
// the boot-completion signal the process supervisor waits on.
func BootReady(dir string) bool {
	for _, name := range regionFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

// Load re-maps all four regions under dir.
func Load(dir string) (*Mirror, error) {
	m := &Mirror{dir: dir}
	var err error
	if m.nodes, err = openRegion(dir, "nodes", nodeRecordSize); err != nil {
		return nil, err
	}
	if m.callbacks, err = openRegion(dir, "callbacks", callbackRecordSize); err != nil {
		m.Close()
		return nil, err
	}
	if m.times, err = openRegion(dir, "times", timeRecordSize); err != nil {
		m.Close()
		return nil, err
	}
	if m.msg, err = openRegion(dir, "msg", msgRecordSize); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Close unmaps every open region.
func (m *Mirror) Close() error {
	var firstErr error
	for _, r := range []*region{m.nodes, m.callbacks, m.times, m.msg} {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// SnapshotNodes returns every nodes[] slot with a non-zero handle.
func (m *Mirror) SnapshotNodes() []NodeRecord {
	var out []NodeRecord
	n := int(m.nodes.count())
	if n > SlotCount {
		n = SlotCount
	}
	for i := 0; i < n; i++ {
		s := m.nodes.slot(i)
		handle := binary.NativeEndian.Uint64(s[128:136])
		if handle == 0 {
			continue
		}
		out = append(out, NodeRecord{
			Name:      cstr(s[0:64]),
			Namespace: cstr(s[64:128]),
			Handle:    handle,
			PID:       binary.NativeEndian.Uint64(s[136:144]),
		})
	}
	return out
}

// SnapshotCallbacks returns every callbacks[] slot with a non-zero rcl or
// node handle.
func (m *Mirror) SnapshotCallbacks() []CallbackRecord {
	var out []CallbackRecord
	n := int(m.callbacks.count())
	if n > SlotCount {
		n = SlotCount
	}
	for i := 0; i < n; i++ {
		s := m.callbacks.slot(i)
		rcl := binary.NativeEndian.Uint64(s[40:48])
		node := binary.NativeEndian.Uint64(s[56:64])
		if rcl == 0 && node == 0 {
			continue
		}
		out = append(out, CallbackRecord{
			CbType:         CbType(binary.NativeEndian.Uint64(s[0:8])),
			Stage:          binary.NativeEndian.Uint64(s[8:16]),
			Idx:            binary.NativeEndian.Uint64(s[16:24]),
			PID:            binary.NativeEndian.Uint64(s[24:32]),
			Period:         binary.NativeEndian.Uint64(s[32:40]),
			RclHandle:      rcl,
			RmwHandle:      binary.NativeEndian.Uint64(s[48:56]),
			NodeHandle:     node,
			RclcppHandle:   binary.NativeEndian.Uint64(s[64:72]),
			RclcppHandle1:  binary.NativeEndian.Uint64(s[72:80]),
			CbName:         cstr(s[80:144]),
			FunctionSymbol: cstr(s[144:744]),
		})
	}
	return out
}

// SnapshotTimes returns the current times[] array sorted ascending by time.
func (m *Mirror) SnapshotTimes() []TimeRecord {
	var out []TimeRecord
	n := int(m.times.count())
	if n > SlotCount {
		n = SlotCount
	}
	for i := 0; i < n; i++ {
		s := m.times.slot(i)
		out = append(out, TimeRecord{
			Cb:          binary.NativeEndian.Uint64(s[0:8]),
			Time:        binary.NativeEndian.Uint64(s[8:16]),
			Flag:        binary.NativeEndian.Uint64(s[16:24]),
			MessageSize: binary.NativeEndian.Uint64(s[24:32]),
			RmwHandle:   binary.NativeEndian.Uint64(s[32:40]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// SnapshotMsgs returns every msg[] slot.
func (m *Mirror) SnapshotMsgs() []MsgRecord {
	var out []MsgRecord
	n := int(m.msg.count())
	if n > SlotCount {
		n = SlotCount
	}
	for i := 0; i < n; i++ {
		s := m.msg.slot(i)
		out = append(out, MsgRecord{
			Subscription: binary.NativeEndian.Uint64(s[0:8]),
			Callback:     binary.NativeEndian.Uint64(s[8:16]),
			Size:         binary.NativeEndian.Uint64(s[16:24]),
			SendTime:     binary.NativeEndian.Uint64(s[24:32]),
			RecvTime:     binary.NativeEndian.Uint64(s[32:40]),
		})
	}
	return out
}

// ClearTimes zeroes the entire times region and resets its count, so
// subsequent reads contain only the next dispatched input's events.
func (m *Mirror) ClearTimes() {
	m.times.zero()
}

// CleanShmFiles removes every file in the shared-memory directory, called
// by the supervisor after a kill.
func CleanShmFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("shm: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("shm: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}
