package feed

import (
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// DefaultDir is used when no directory is configured.
const DefaultDir = "./var/feeds"

// PathConfig selects where a feed instance writes. Empty name fields fall
// back to the derived defaults.
type PathConfig struct {
	Dir          string
	FeedType     string
	Secret       string
	FileName     string
	TempFileName string
}

// Paths holds the resolved locations for one feed instance.
// Identical configs always resolve to identical paths.
type Paths struct {
	dir      string
	fileName string
	tempName string
}

// NewPaths resolves cfg.
func NewPaths(cfg PathConfig) Paths {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir
	}

	name := cfg.FileName
	if name == "" {
		// The secret keeps the published name unguessable when the directory is web-served.
		sum := xxhash.Sum64String(cfg.Secret + ":" + cfg.FeedType)
		name = fmt.Sprintf("product_catalog_%016x.csv", sum)
	}

	temp := cfg.TempFileName
	if temp == "" {
		temp = "temp_" + name
	}

	return Paths{dir: filepath.Clean(dir), fileName: name, tempName: temp}
}

// FileDirectory returns the output directory.
func (p Paths) FileDirectory() string { return p.dir }

// FileName returns the published file name.
func (p Paths) FileName() string { return p.fileName }

// TempFileName returns the in-progress file name.
func (p Paths) TempFileName() string { return p.tempName }

// FilePath returns the full published path.
func (p Paths) FilePath() string { return filepath.Join(p.dir, p.fileName) }

// TempFilePath returns the full in-progress path.
func (p Paths) TempFilePath() string { return filepath.Join(p.dir, p.tempName) }
