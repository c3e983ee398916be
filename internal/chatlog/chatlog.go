// Package chatlog writes observed channel activity to plain-text, append-only
// files, one file per calendar day.
package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/fancybot/internal/types"
)

const (
	dateLayout  = "2006-01-02"
	entryLayout = "2006-01-02 15:04:05 -0700"
)

// Config configures a Logger. Files are named <Dir>/#<Tag>_<date>.<Ext>.
type Config struct {
	Dir string
	Tag string
	Ext string
}

// Logger owns the single open log file. Every entry is written straight to
// the file without user-space buffering.
type Logger struct {
	dir string
	tag string
	ext string

	mu   sync.Mutex
	file *os.File
	date string
}

// New creates a Logger. No file is opened until the first Record or Rotate.
func New(cfg Config) *Logger {
	l := &Logger{dir: cfg.Dir, tag: cfg.Tag, ext: cfg.Ext}
	if l.tag == "" {
		l.tag = "fancy"
	}
	if l.ext == "" {
		l.ext = "log"
	}
	return l
}

// Path returns the file used for entries on the given day.
func (l *Logger) Path(day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("#%s_%s.%s", l.tag, day.Format(dateLayout), l.ext))
}

// CurrentPath returns the path of the open file, or "" if none is open.
func (l *Logger) CurrentPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Record appends one entry for ev to the file for ev's day, switching files
// first if the day changed.
func (l *Logger) Record(ev types.ChatEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotate(ev.At); err != nil {
		return err
	}
	if _, err := l.file.WriteString(FormatEntry(ev) + "\n"); err != nil {
		l.closeFile()
		return fmt.Errorf("write log entry: %w", err)
	}
	return nil
}

// Rotate makes sure the open file belongs to now's day.
func (l *Logger) Rotate(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotate(now)
}

func (l *Logger) rotate(now time.Time) error {
	day := now.Format(dateLayout)
	if l.file != nil && l.date == day {
		return nil
	}
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.Path(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = f
	l.date = day
	return nil
}

// Close closes the open file. The Logger reopens on the next Record.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeFile()
}

func (l *Logger) closeFile() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.date = ""
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// FormatEntry renders one log line without the trailing newline.
func FormatEntry(ev types.ChatEvent) string {
	ts := ev.At.Format(entryLayout)
	if ev.Sender == "" {
		return fmt.Sprintf("[%s]: %s", ts, ev.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, ev.Sender, ev.Text)
}
