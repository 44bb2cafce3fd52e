package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("Happy Path - Source is a directory", func(t *testing.T) {
		srcDir := t.TempDir()
		err := CheckSourceAccessible(srcDir)
		if err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Error - Source does not exist", func(t *testing.T) {
		nonExistentPath := filepath.Join(t.TempDir(), "nonexistent")
		err := CheckSourceAccessible(nonExistentPath)
		if err == nil {
			t.Fatal("expected an error for non-existent source, but got nil")
		}
		if !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected error about non-existent source, but got: %v", err)
		}
	})

	t.Run("Error - Source is a file", func(t *testing.T) {
		srcFile := filepath.Join(t.TempDir(), "source.txt")
		if err := os.WriteFile(srcFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckSourceAccessible(srcFile)
		if err == nil {
			t.Fatal("expected an error when source is a file, but got nil")
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error about source not being a directory, but got: %v", err)
		}
	})
}

func TestCheckDestAccessible(t *testing.T) {
	t.Run("Happy Path - Destination Exists", func(t *testing.T) {
		destDir := t.TempDir()
		err := CheckDestAccessible(destDir)
		if err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Happy Path - Destination Does Not Exist, Parent Exists", func(t *testing.T) {
		parentDir := t.TempDir()
		destDir := filepath.Join(parentDir, "new_dir")

		err := CheckDestAccessible(destDir)
		if err != nil {
			t.Errorf("expected no error when parent exists, but got: %v", err)
		}
	})

	t.Run("Error - Destination Is a File", func(t *testing.T) {
		destFile := filepath.Join(t.TempDir(), "dest.txt")
		if err := os.WriteFile(destFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		err := CheckDestAccessible(destFile)
		if err == nil {
			t.Fatal("expected an error when destination is a file, but got nil")
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error to be about 'not a directory', but got: %v", err)
		}
	})

	t.Run("Error - Destination and Parent Missing", func(t *testing.T) {
		base := t.TempDir()
		destDir := filepath.Join(base, "missing_parent", "dest")

		err := CheckDestAccessible(destDir)
		if err == nil {
			t.Fatal("expected an error when parent is missing, but got nil")
		}
		if !strings.Contains(err.Error(), "do not exist") {
			t.Errorf("expected error about missing parent, but got: %v", err)
		}
	})
}

func TestCheckDestWritable(t *testing.T) {
	t.Run("Happy Path - Directory is writable", func(t *testing.T) {
		destDir := t.TempDir()

		err := CheckDestWritable(destDir)
		if err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
	})

	t.Run("Happy Path - Directory is created", func(t *testing.T) {
		destDir := filepath.Join(t.TempDir(), "fresh")

		if err := CheckDestWritable(destDir); err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
		if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
			t.Errorf("expected destination directory to be created")
		}
	})
}

func TestLooksLikeMountPoint(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/mnt/usb/music", true},
		{"/media/user/STICK", true},
		{"/Volumes/Stick", true},
		{"/tmp/scratch", false},
		{"/home/user/music", false},
	}
	for _, tc := range cases {
		if got := looksLikeMountPoint(tc.path); got != tc.want {
			t.Errorf("looksLikeMountPoint(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
