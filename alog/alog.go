// Package alog is an asynchronous, non-blocking log-writing backend: a
// front-end append into fixed-size in-memory slabs, and a background
// goroutine that periodically flushes completed slabs to a rotating file.
package alog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log records for routing; SYNC behaves like FATAL but also
// forces a synchronous flush after append.
type Level int

const (
	Debug Level = iota
	Info
	Error
	Fatal
	Sync
)

// ParseLevel maps a level name ("DEBUG", "INFO", "ERROR", "FATAL", "SYNC",
// any case) to its Level, defaulting to Debug for anything unrecognized —
// an unknown configured name must widen logging, never silently narrow it.
func ParseLevel(name string) Level {
	switch strings.ToUpper(name) {
	case "INFO":
		return Info
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	case "SYNC":
		return Sync
	default:
		return Debug
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	case Sync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// DefaultSlabSize is one log buffer's capacity in bytes (~4 MB).
const DefaultSlabSize = 4_000_000

// backpressureWait is how long append blocks before reusing the oldest slab
// (the one at the flush pointer) when the ring is full and the flusher hasn't
// caught up — the "block briefly then overwrite oldest" policy. If that slab
// is still unflushed after the wait, its records are overwritten.
const backpressureWait = 10 * time.Millisecond

// Config configures a Logger.
type Config struct {
	Dir      string // directory log files are written into; created if missing
	Basename string // file name prefix; final name is "<basename>_<timestamp>_<seq>.log"

	MaxRecordsPerFile int           // rotate after this many records; default 5,000,000
	FlushInterval     time.Duration // background flush period; default 1s
	MaxSlabs          int           // max number of 4MB buffers; default 25
	Level             Level         // minimum level that reaches the backend
}

func (c *Config) setDefaults() {
	if c.MaxRecordsPerFile <= 0 {
		c.MaxRecordsPerFile = 5_000_000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.MaxSlabs <= 0 {
		c.MaxSlabs = 25
	}
}

type slab struct {
	buf []byte
}

func newSlab() *slab {
	return &slab{buf: make([]byte, 0, DefaultSlabSize)}
}

// Logger is the async front-end. A nil *Logger is a valid, silent no-op —
// every logging macro is guarded so pre-init calls do nothing rather than
// panicking.
type Logger struct {
	level Level
	pid   int

	mu       sync.Mutex
	slabs    []*slab
	current  int
	flush    int
	maxSlabs int

	notify chan struct{}

	flushMu     sync.Mutex
	dir         string
	basename    string
	maxRecords  int
	file        *lumberjack.Logger
	linesInFile int
	fileSeq     int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Logger writing under cfg.Dir, starting its background
// flush goroutine immediately.
func New(cfg Config) (*Logger, error) {
	cfg.setDefaults()
	if cfg.Dir == "" || cfg.Basename == "" {
		return nil, fmt.Errorf("alog: Dir and Basename are required")
	}
	if err := os.MkdirAll(cfg.Dir, 0775); err != nil {
		return nil, fmt.Errorf("alog: create log dir: %w", err)
	}

	l := &Logger{
		level:      cfg.Level,
		pid:        os.Getpid(),
		slabs:      []*slab{newSlab()},
		maxSlabs:   cfg.MaxSlabs,
		notify:     make(chan struct{}, 1),
		dir:        cfg.Dir,
		basename:   cfg.Basename,
		maxRecords: cfg.MaxRecordsPerFile,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if err := l.openNewFile(); err != nil {
		return nil, err
	}

	go l.backgroundFlush(cfg.FlushInterval)
	return l, nil
}

func (l *Logger) openNewFile() error {
	// A sequence suffix, not just the second-granularity timestamp: rotation
	// is record-count driven and can roll over more than once within the
	// same wall-clock second, which would otherwise collide on one filename.
	name := fmt.Sprintf("%s_%s_%03d.log", l.basename, time.Now().Format("20060102150405"), l.fileSeq)
	l.fileSeq++
	l.file = &lumberjack.Logger{
		Filename: filepath.Join(l.dir, name),
		// Size-based rotation is disabled; alog rotates by record count
		// itself and drives lumberjack's Close/re-open cycle directly,
		// since lumberjack has no record-count rotation policy of its own.
		MaxSize: 1 << 30,
	}
	l.linesInFile = 0
	return nil
}

func (l *Logger) rotate() {
	if l.file != nil {
		l.file.Close()
	}
	l.openNewFile()
}

// Debugf, Infof, Errorf, Fatalf and Syncf append one record at the named
// level. All are silent no-ops on a nil Logger.
func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(Info, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(Error, format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.log(Fatal, format, args...) }
func (l *Logger) Syncf(format string, args ...any)  { l.log(Sync, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	file, line := "???", 0
	if _, f, ln, ok := runtime.Caller(2); ok {
		file, line = filepath.Base(f), ln
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006-01-02 15:04:05.000000")
	record := fmt.Sprintf("%s\t%s\t%d:%d\t%s:%d\t%s\n", level, ts, l.pid, goroutineID(), file, line, msg)
	l.append([]byte(record))
	if level == Sync {
		l.Flush()
	}
}

// append copies b onto the current slab, advancing (and, if necessary,
// allocating or reclaiming) slabs as needed. Short critical section; no I/O
// happens here.
func (l *Logger) append(b []byte) {
	l.mu.Lock()
	cur := l.slabs[l.current]
	if len(cur.buf)+len(b) > cap(cur.buf) {
		l.advanceLocked()
		cur = l.slabs[l.current]
	}
	cur.buf = append(cur.buf, b...)
	l.mu.Unlock()
	l.signal()
}

// advanceLocked moves the write pointer to the next slab, called with mu
// held. It grows the ring up to maxSlabs, then wraps and reuses the oldest
// slab — blocking briefly first if that slab hasn't been flushed yet.
func (l *Logger) advanceLocked() {
	next := l.current + 1
	if next < len(l.slabs) {
		l.waitIfUnflushedLocked(next)
		l.current = next
		l.slabs[l.current].buf = l.slabs[l.current].buf[:0]
		return
	}
	if len(l.slabs) < l.maxSlabs {
		l.slabs = append(l.slabs, newSlab())
		l.current = next
		return
	}
	l.waitIfUnflushedLocked(0)
	l.current = 0
	l.slabs[0].buf = l.slabs[0].buf[:0]
}

func (l *Logger) waitIfUnflushedLocked(idx int) {
	if idx != l.flush {
		return
	}
	l.mu.Unlock()
	time.Sleep(backpressureWait)
	l.mu.Lock()
}

func (l *Logger) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Logger) backgroundFlush(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			l.Flush()
			close(l.doneCh)
			return
		case <-ticker.C:
			l.Flush()
		case <-l.notify:
			l.Flush()
		}
	}
}

// Flush synchronously writes every completed slab, including whatever the
// active write slab holds, to the current file, rotating it if it has
// reached its record-count limit. Safe to call concurrently with the
// background flusher; both serialize on flushMu.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	// Roll the active slab out from under new appends first — the muduo
	// async_logging swap-the-current-buffer move — so data appended before
	// this call is durable even when it never grew past one slab.
	l.mu.Lock()
	if len(l.slabs[l.current].buf) > 0 {
		l.advanceLocked()
	}
	target := l.current
	l.mu.Unlock()

	for l.flush != target {
		l.mu.Lock()
		data := append([]byte(nil), l.slabs[l.flush].buf...)
		l.mu.Unlock()

		l.writeRecords(data)

		l.mu.Lock()
		l.flush = (l.flush + 1) % len(l.slabs)
		l.mu.Unlock()
	}
}

// writeRecords writes data one record at a time, rotating the file the
// instant linesInFile reaches maxRecords. A flushed slab routinely holds far
// more than one file's worth of records, so rotation has to be checked per
// record here rather than once per slab.
func (l *Logger) writeRecords(data []byte) {
	for _, line := range bytes.SplitAfter(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		l.file.Write(line)
		l.linesInFile++
		if l.linesInFile >= l.maxRecords {
			l.rotate()
		}
	}
}

// Close flushes remaining data, stops the background goroutine, and closes
// the current file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	close(l.stopCh)
	<-l.doneCh
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
