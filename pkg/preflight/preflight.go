// Package preflight provides the checks that run before a sync is allowed to
// start. The checks are stateless and do not modify the system, with the
// exception of the destination write test which creates and removes a probe
// file.
//
// The most important check is ghost detection: when a removable drive is not
// mounted, its mount point is just an empty directory on the root filesystem,
// and mirroring into it would silently fill the system disk. Every destination
// check therefore verifies that the path resides on a different device than
// the root filesystem.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mountsync/mountsync/pkg/util"
)

// Report is the outcome of a full preflight run, for logging. Fields are set
// in check order; a failed check leaves the later fields false.
type Report struct {
	MountActive    bool
	SourceReadable bool
	DestUsable     bool
}

// Run performs all checks required before a sync: the mount point is active,
// the source is readable, and the destination is usable and writable.
// An empty mountPoint skips the mount check (sync without a watcher).
func Run(srcPath, destPath, mountPoint string) (Report, error) {
	var report Report

	if mountPoint != "" {
		mounted, err := IsMountPoint(mountPoint)
		if err != nil {
			return report, fmt.Errorf("could not check mount point %s: %w", mountPoint, err)
		}
		if !mounted {
			return report, fmt.Errorf("mount point %s is not mounted", mountPoint)
		}
	}
	report.MountActive = true

	if err := CheckSourceAccessible(srcPath); err != nil {
		return report, err
	}
	report.SourceReadable = true

	if err := CheckDestAccessible(destPath); err != nil {
		return report, err
	}
	if err := CheckDestWritable(destPath); err != nil {
		return report, err
	}
	report.DestUsable = true

	return report, nil
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckDestAccessible performs pre-flight checks to ensure the sync
// destination is usable. It provides more user-friendly errors than letting
// os.MkdirAll fail.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the destination exists, confirms it is a directory.
//  3. If the destination does not exist, confirms its parent directory is accessible.
//  4. On Unix, verifies the destination is not a "ghost" directory on the root
//     filesystem. This is done by walking up from the destination and checking
//     the highest-level existing directory.
func CheckDestAccessible(destPath string) error {
	// --- 1. Check if the Volume/Drive exists, windows only ---
	if err := checkVolumeExists(destPath); err != nil {
		return err
	}

	// --- 2. Check existence and type ---
	info, err := os.Stat(destPath)
	if os.IsNotExist(err) {
		// Destination doesn't exist yet. If /mnt/usb/music doesn't exist,
		// is /mnt/usb actually mounted?

		// Find the deepest existing ancestor.
		ancestor := destPath
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break // Hit root
			}
			if _, err := os.Stat(parent); err == nil {
				ancestor = parent
				break // Found the deepest directory that actually exists
			}
			ancestor = parent
		}

		if err := validateMountPoint(ancestor); err != nil {
			return err
		}

		// The ancestor exists and (if required) is on a mounted device. Still
		// ensure the immediate parent is accessible so MkdirAll won't fail on it.
		parentDir := filepath.Dir(destPath)
		if _, err := os.Stat(parentDir); os.IsNotExist(err) {
			return fmt.Errorf("destination and its parent directory do not exist: %s", parentDir)
		} else if err != nil {
			return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
		}

		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access destination: %w", err)
	}

	// --- 3. The Destination Exists ---
	if !info.IsDir() {
		return fmt.Errorf("destination exists but is not a directory: %s", destPath)
	}

	return validateMountPoint(destPath)
}

// validateMountPoint runs ghost detection, but only for paths that look like
// they live under a mount point. Destinations in ordinary directories (a local
// staging folder, a temp dir in tests) are legitimate root-filesystem paths
// and must not be flagged.
func validateMountPoint(path string) error {
	if !looksLikeMountPoint(path) {
		return nil
	}
	return platformValidateMountPoint(path)
}

func looksLikeMountPoint(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, marker := range []string{"mnt", "media", "volumes"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CheckDestWritable ensures the destination directory can be created and is
// writable by performing filesystem modifications.
func CheckDestWritable(destPath string) error {
	if err := os.MkdirAll(destPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", destPath, err)
	}

	// Perform a thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(destPath, ".mountsync-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("destination directory %s is not writable: %w", destPath, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}
