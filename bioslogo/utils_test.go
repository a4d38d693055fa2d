package bioslogo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.bin")
	for i := 0; i < 5; i++ {
		data := randomBytes(t, 100*(i+1))
		if err := WriteFileAtomic(path, data, 0600); err != nil {
			t.Fatalf("Error writing file: %s", err)
		}
		back, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Error reading file back: %s", err)
		}
		if Md5String(back) != Md5String(data) {
			t.Fatalf("File contents wrong after write %d", i)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Error listing dir: %s", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected only the written file, found %d entries", len(entries))
	}
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Error stating file: %s", err)
	}
	if stat.Mode().Perm() != 0600 {
		t.Fatalf("Expected mode 0600, got %o", stat.Mode().Perm())
	}
}

func TestWriteFileAtomic_BadDir(t *testing.T) {
	if err := WriteFileAtomic(filepath.Join(t.TempDir(), "nope", "file"), []byte{1}, 0644); err == nil {
		t.Fatalf("Expected error writing into missing directory")
	}
}
