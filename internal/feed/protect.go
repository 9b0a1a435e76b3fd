package feed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Marker files dropped into the output directory.
const (
	AccessFileName = ".htaccess"
	IndexFileName  = "index.html"
)

const accessDenyAll = "deny from all\n"

// ProtectDirectory makes sure dir carries a deny-all access file and an empty
// index placeholder. Existing marker files are never overwritten.
func ProtectDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create feed directory: %w", err)
	}
	if err := createIfMissing(filepath.Join(dir, AccessFileName), []byte(accessDenyAll)); err != nil {
		return err
	}
	return createIfMissing(filepath.Join(dir, IndexFileName), nil)
}

func createIfMissing(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
