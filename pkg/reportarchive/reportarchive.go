// Package reportarchive persists the raw output of every mirror run as a
// compressed file, so the full tool output stays inspectable after the fact
// without bloating the main log. Old reports are pruned, newest first.
package reportarchive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/util"
)

const (
	filePrefix = "sync-"
	fileSuffix = ".log.gz"
	timeFormat = "20060102-150405"
)

// Archive manages the reports directory.
type Archive struct {
	dir string
	// keep is how many report files survive a prune; 0 or less keeps all.
	keep int
}

func New(dir string, keep int) *Archive {
	return &Archive{dir: dir, keep: keep}
}

// Store writes one report file for a run and prunes old reports. The mode tag
// ("initial", "resync", "download") becomes part of the file name. Returns
// the path of the written file.
func (a *Archive) Store(timestamp time.Time, mode string, lines []string) (string, error) {
	if err := os.MkdirAll(a.dir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("failed to create reports directory %s: %w", a.dir, err)
	}

	name := fmt.Sprintf("%s%s-%s%s", filePrefix, timestamp.UTC().Format(timeFormat), mode, fileSuffix)
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return "", fmt.Errorf("failed to create report file %s: %w", path, err)
	}

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			gz.Close()
			f.Close()
			return "", fmt.Errorf("failed to write report %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		gz.Close()
		f.Close()
		return "", fmt.Errorf("failed to flush report %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to finish report %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close report %s: %w", path, err)
	}

	a.prune()
	return path, nil
}

// List returns the archived report paths, newest first. File names embed the
// run timestamp, so reverse lexicographic order is reverse chronological.
func (a *Archive) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports in %s: %w", a.dir, err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// Read returns the lines of one archived report.
func (a *Archive) Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	defer gz.Close()

	var lines []string
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	return lines, nil
}

// prune removes the oldest reports beyond the keep limit. Failures are logged
// and never fail the run that triggered the prune.
func (a *Archive) prune() {
	if a.keep <= 0 {
		return
	}

	reports, err := a.List()
	if err != nil {
		plog.Warn("Failed to list reports for pruning", "error", err)
		return
	}
	if len(reports) <= a.keep {
		return
	}

	for _, path := range reports[a.keep:] {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to prune old report", "path", path, "error", err)
		} else {
			plog.Debug("Pruned old report", "path", filepath.Base(path))
		}
	}
}

// ModeTag sanitizes a mode string for use in a report file name.
func ModeTag(mode string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mode), " ", "-"))
}
