package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/driver"
	"github.com/cpmarchive/mlbr/internal/cpm/treesink"
	"github.com/cpmarchive/mlbr/internal/cpm/zipsink"
)

// extractJob carries one invocation's resolved flags.
type extractJob struct {
	extractFlat   bool
	extractNested bool
	zip           bool
	targetDir     string
	force         bool
	preserveCase  bool
	ignoreCrc     bool
	ignoreCorrupt bool
	recurse       bool
	writeInfo     bool
}

// Run loads path, classifies and decodes its tree, always prints the
// listing, and extracts if any of -x/-d/-z was requested.
func (j *extractJob) Run(c *cli.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: loading file: %w", ErrMlbr, err)
	}

	root := content.NewRoot(filepath.Base(path), data)
	saveCnt := driver.ProcessFile(root, driver.Options{
		IgnoreCrc:     j.ignoreCrc,
		IgnoreCorrupt: j.ignoreCorrupt,
		Force:         j.force,
		Recurse:       j.recurse,
	})

	printListing(c.App.Writer, root)

	if saveCnt == 0 || (!j.extractFlat && !j.extractNested && !j.zip) {
		return nil
	}

	stem := strings.TrimSuffix(root.Name, filepath.Ext(root.Name))

	if j.zip {
		if j.targetDir != "" {
			if err := os.MkdirAll(j.targetDir, 0o755); err != nil {
				return fmt.Errorf("%w: creating target directory: %w", ErrMlbr, err)
			}
		}
		zipPath := filepath.Join(j.targetDir, stem+".zip")
		return zipsink.Write(root, zipPath, zipsink.Options{
			Nest:         j.extractNested,
			PreserveCase: j.preserveCase,
			WriteInfo:    j.writeInfo,
		})
	}

	dir := j.targetDir
	if j.extractNested {
		dir = filepath.Join(dir, stem)
	}
	if dir == "" {
		dir = "."
	}
	// The -d subdirectory is dir itself here; nested libraries within
	// the tree are not given a further subdirectory of their own.
	if err := treesink.Write(root, dir, treesink.Options{
		PreserveCase: j.preserveCase,
		WriteInfo:    j.writeInfo,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrMlbr, err)
	}
	if j.extractNested && !root.Timestamp.IsZero() {
		_ = os.Chtimes(dir, root.Timestamp, root.Timestamp)
	}
	return nil
}
