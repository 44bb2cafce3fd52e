//go:build windows

package preflight

import "path/filepath"

// IsMountPoint checks if the given path is the root of a volume (e.g., "E:\").
// This implementation uses only the standard library and does not detect
// volumes mounted to folders, but it covers the common case of a removable
// drive appearing as its own drive letter.
func IsMountPoint(path string) (bool, error) {
	// A path is the root of a volume if its VolumeName plus a separator equals the path itself.
	// For example, for "E:\", VolumeName is "E:" and "E:" + "\" == "E:\".
	// For "E:\Music", VolumeName is "E:" and "E:" + "\" != "E:\Music".
	return filepath.VolumeName(path)+string(filepath.Separator) == path, nil
}
