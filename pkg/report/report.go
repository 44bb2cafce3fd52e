// Package report holds the change accounting for a completed mirror or
// download run: which files appeared or disappeared, and how that rolls up
// into per-category counts for notifications.
package report

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Audio extensions recognized for the "audio tracks" category, lower-case,
// without the leading dot.
var audioExtensions = map[string]bool{
	"flac": true,
	"mp3":  true,
	"wav":  true,
	"aac":  true,
	"m4a":  true,
	"ogg":  true,
}

// LyricsExtension is the sidecar lyrics file extension, counted separately
// and kept out of the itemized log.
const LyricsExtension = "lrc"

// ChangeReport is the structured result of one mirror or download run.
// It is never mutated after construction.
type ChangeReport struct {
	// FilesCreated and FilesDeleted hold destination-relative paths in the
	// order the tool reported them (or sorted, for snapshot diffs).
	FilesCreated []string
	FilesDeleted []string
	// BytesTransferred is taken from the tool's statistics block, 0 if the
	// tool did not report it.
	BytesTransferred int64
	// RawLines are the human-relevant output lines kept for the log: itemized
	// audio file actions and the statistics block. Lyrics sidecar files are
	// counted but not itemized here.
	RawLines []string
}

// Changed reports whether the run touched any files.
func (r *ChangeReport) Changed() bool {
	return len(r.FilesCreated) > 0 || len(r.FilesDeleted) > 0
}

// CategorySummary maps category names to file counts, preserving first-seen
// insertion order for stable display.
type CategorySummary struct {
	order  []string
	counts map[string]int
}

func NewCategorySummary() *CategorySummary {
	return &CategorySummary{counts: make(map[string]int)}
}

// Add increments the count for a category, registering it on first use.
func (s *CategorySummary) Add(category string, n int) {
	if _, ok := s.counts[category]; !ok {
		s.order = append(s.order, category)
	}
	s.counts[category] += n
}

// Get returns the count for a category, 0 if the category never appeared.
func (s *CategorySummary) Get(category string) int {
	return s.counts[category]
}

// Categories returns the category names in first-seen order.
func (s *CategorySummary) Categories() []string {
	return s.order
}

// Total returns the sum of all category counts.
func (s *CategorySummary) Total() int {
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Empty reports whether no files were counted.
func (s *CategorySummary) Empty() bool {
	return len(s.order) == 0
}

// Lines renders one "N <category>" line per non-zero category, in first-seen
// order. This is the body format used for notifications and the log.
func (s *CategorySummary) Lines() []string {
	lines := make([]string, 0, len(s.order))
	for _, category := range s.order {
		if n := s.counts[category]; n > 0 {
			lines = append(lines, fmt.Sprintf("%d %s", n, category))
		}
	}
	return lines
}

// CategoryFor maps a file path to its summary category.
// Audio extensions become "<ext> files (audio tracks)", lyrics sidecars
// become "lrc files (lyrics files)", any other extension stands alone, and
// extensionless files fall into "other files".
func CategoryFor(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch {
	case ext == "":
		return "other files"
	case audioExtensions[ext]:
		return fmt.Sprintf("%s files (audio tracks)", ext)
	case ext == LyricsExtension:
		return "lrc files (lyrics files)"
	default:
		return fmt.Sprintf("%s files", ext)
	}
}

// IsAudioFile reports whether the path has a recognized audio extension.
func IsAudioFile(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return audioExtensions[ext]
}

// IsLyricsFile reports whether the path is a lyrics sidecar file.
func IsLyricsFile(path string) bool {
	return strings.EqualFold(strings.TrimPrefix(filepath.Ext(path), "."), LyricsExtension)
}

// Count classifies every created and deleted file in the report and returns
// the per-category counts. The result is deterministic for a given report:
// counts are independent of order, and category insertion order follows the
// report's file order.
func Count(r *ChangeReport) *CategorySummary {
	summary := NewCategorySummary()
	for _, path := range r.FilesCreated {
		summary.Add(CategoryFor(path), 1)
	}
	for _, path := range r.FilesDeleted {
		summary.Add(CategoryFor(path), 1)
	}
	return summary
}

// Snapshot returns the set of regular files under dir, as slash-separated
// paths relative to dir. A missing dir yields an empty snapshot, because a
// download tool may create its target directory on first use.
func Snapshot(dir string) (map[string]struct{}, error) {
	files := make(map[string]struct{})
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, err
	}
	return files, nil
}

// Diff builds a ChangeReport from two directory snapshots. Created files are
// those present only in after, deleted files those present only in before,
// both sorted for deterministic output.
func Diff(before, after map[string]struct{}) *ChangeReport {
	r := &ChangeReport{}
	for path := range after {
		if _, ok := before[path]; !ok {
			r.FilesCreated = append(r.FilesCreated, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			r.FilesDeleted = append(r.FilesDeleted, path)
		}
	}
	sort.Strings(r.FilesCreated)
	sort.Strings(r.FilesDeleted)
	for _, path := range r.FilesCreated {
		if !IsLyricsFile(path) {
			r.RawLines = append(r.RawLines, "new: "+path)
		}
	}
	return r
}
