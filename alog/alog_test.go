package alog

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerRotatesByRecordCount(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Dir:               dir,
		Basename:          "test",
		MaxRecordsPerFile: 10,
		MaxSlabs:          4,
		FlushInterval:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		l.Infof("record %d", i)
	}
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	require.Len(t, names, 3)

	var counts []int
	for _, name := range names {
		counts = append(counts, countLines(t, filepath.Join(dir, name)))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))
	require.Equal(t, []int{10, 10, 5}, counts)
}

func TestLoggerNilIsNoop(t *testing.T) {
	var l *Logger
	l.Infof("never written")
	l.Flush()
	require.NoError(t, l.Close())
}

func TestLoggerLevelFilter(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Dir: dir, Basename: "filtered", Level: Error})
	require.NoError(t, err)

	l.Debugf("dropped")
	l.Infof("dropped too")
	l.Errorf("kept")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, countLines(t, filepath.Join(dir, entries[0].Name())))
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	return n
}
