package mirror

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mountsync/mountsync/pkg/report"
)

// rsyncArgs builds the argument list for one rsync mirror run.
// -a preserves the tree structure and metadata, -v itemizes every transferred
// file on stdout, -z compresses in transit, --delete removes destination
// entries gone from the source, --stats appends the summary block we parse
// for byte counts.
func rsyncArgs(sourceDir, destDir string, excludePatterns []string) []string {
	args := []string{"-avz", "--delete", "--stats"}
	for _, pattern := range excludePatterns {
		args = append(args, "--exclude="+pattern)
	}
	// The trailing slash makes rsync mirror the directory's contents rather
	// than creating the source directory inside the destination.
	args = append(args, strings.TrimSuffix(sourceDir, "/")+"/", destDir)
	return args
}

const deletingPrefix = "deleting "

var totalTransferredRe = regexp.MustCompile(`^Total transferred file size: ([\d,]+) bytes`)

// statsPrefixes identify lines of rsync's --stats summary block and the
// trailing transfer totals. These are always preserved in the raw log.
var statsPrefixes = []string{
	"Number of ",
	"Total ",
	"Literal data:",
	"Matched data:",
	"File list size:",
	"File list generation time:",
	"File list transfer time:",
	"sent ",
	"total size is ",
}

func isStatsLine(line string) bool {
	for _, prefix := range statsPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// parseRsyncOutput converts rsync's verbose stdout into a ChangeReport.
//
// Per-file lines are bare destination-relative paths; deletions are prefixed
// with "deleting "; directory lines end with "/" and are not counted as file
// changes. The raw log keeps audio file actions and the statistics block,
// drops lyrics sidecars and everything else, so the sync log reads as a track
// listing.
func parseRsyncOutput(output string) *report.ChangeReport {
	r := &report.ChangeReport{}

	for _, rawLine := range strings.Split(output, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "sending incremental file list" || trimmed == "building file list ... done" {
			continue
		}

		if isStatsLine(trimmed) {
			r.RawLines = append(r.RawLines, trimmed)
			if m := totalTransferredRe.FindStringSubmatch(trimmed); m != nil {
				if n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64); err == nil {
					r.BytesTransferred = n
				}
			}
			continue
		}

		if deleted, ok := strings.CutPrefix(trimmed, deletingPrefix); ok {
			if strings.HasSuffix(deleted, "/") {
				continue // directory removal, not a file change
			}
			r.FilesDeleted = append(r.FilesDeleted, deleted)
			if report.IsAudioFile(deleted) {
				r.RawLines = append(r.RawLines, trimmed)
			}
			continue
		}

		if strings.HasSuffix(trimmed, "/") {
			continue // directory creation
		}

		r.FilesCreated = append(r.FilesCreated, trimmed)
		if report.IsAudioFile(trimmed) {
			r.RawLines = append(r.RawLines, trimmed)
		}
	}

	return r
}
