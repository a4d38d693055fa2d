package bioslogo

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
)

// Produce an md5 string from given data (a simple shortcut)
func Md5String(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}

// Move a finished file over its final name. Same directory, so this is atomic
func renameInto(partial string, dst string) error {
	if err := os.Rename(partial, dst); err != nil {
		removeQuiet(partial)
		return err
	}
	return nil
}

// Write data to a temp file beside path, then rename it over path. Readers
// never see a half-written file, even if we're killed partway
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		removeQuiet(tmpName)
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		removeQuiet(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		removeQuiet(tmpName)
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		removeQuiet(tmpName)
		return err
	}
	return renameInto(tmpName, path)
}
