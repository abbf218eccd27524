// Package treesink writes a decoded content tree out to an OS
// directory: the "extract to a directory" output format. Name mangling
// here is deliberately minimal — case folding and collision suffixes,
// enough to produce a safe name; full per-OS illegal-character escaping
// is left to the environment.
package treesink

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
)

// Options controls how the tree is laid out on disk.
type Options struct {
	// Nest writes a library's members under a subdirectory named after
	// the library's own stem, rather than flattening them alongside it.
	Nest bool
	// PreserveCase keeps each decoded name's original case instead of
	// lowercasing it.
	PreserveCase bool
	// WriteInfo emits a sibling "<stem>.info" file collecting each
	// node's accumulated diagnostics and renames.
	WriteInfo bool
}

// Write saves root (and, for a Library, its Children) under dir,
// returning the first error encountered. Siblings that mangle to the
// same on-disk name get a numeric suffix rather than overwriting one
// another.
func Write(root *content.Node, dir string, opts Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("treesink: creating %s: %w", dir, err)
	}
	var info []string
	if err := writeNode(root, dir, opts, make(map[string]int), &info); err != nil {
		return err
	}
	if opts.WriteInfo && len(info) > 0 {
		return writeInfoFile(root, dir, opts, info)
	}
	return nil
}

func writeNode(n *content.Node, dir string, opts Options, seen map[string]int, info *[]string) error {
	switch n.Kind {
	case content.KindSkipped, content.KindMissing:
		return nil

	case content.KindLibrary:
		target := dir
		if opts.Nest {
			target = filepath.Join(dir, stem(mangle(n.Name, opts)))
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("treesink: creating %s: %w", target, err)
			}
			if !n.Timestamp.IsZero() {
				_ = os.Chtimes(target, n.Timestamp, n.Timestamp)
			}
		}
		childSeen := make(map[string]int)
		for _, c := range n.Children {
			if err := writeNode(c, target, opts, childSeen, info); err != nil {
				return err
			}
		}
		return nil

	default:
		name := uniqueName(mangle(n.Name, opts), seen)
		n.SavePath = filepath.Join(dir, name)
		if !strings.EqualFold(name, n.Name) {
			*info = append(*info, fmt.Sprintf("%s -> %s", n.Name, name))
		}
		for _, m := range n.Msg {
			*info = append(*info, fmt.Sprintf("%s%s", n.Name, " - "+m))
		}
		if err := os.WriteFile(n.SavePath, n.Out.Buf, 0o644); err != nil {
			return fmt.Errorf("treesink: writing %s: %w", n.SavePath, err)
		}
		if !n.Timestamp.IsZero() {
			_ = os.Chtimes(n.SavePath, n.Timestamp, n.Timestamp)
		}
		return nil
	}
}

// mangle folds case (unless asked not to) and strips path separators.
func mangle(name string, opts Options) string {
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	if !opts.PreserveCase {
		name = strings.ToLower(name)
	}
	if name == "" {
		name = "_"
	}
	return name
}

// uniqueName appends a numeric suffix on repeat so colliding siblings
// don't overwrite one another.
func uniqueName(name string, seen map[string]int) string {
	key := strings.ToLower(name)
	n := seen[key]
	seen[key] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "~" + strconv.Itoa(n) + ext
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// writeInfoFile synthesizes the "<stem>.info" mapping file,
// CRLF-translated for the CP/M-era tools likely to read it. The
// KindMapping node built here is local to this function: it is not added
// to root's Children or returned.
func writeInfoFile(root *content.Node, dir string, opts Options, lines []string) error {
	mapping := &content.Node{Kind: content.KindMapping, Name: stem(mangle(root.Name, opts)) + ".info"}
	mapping.SavePath = filepath.Join(dir, mapping.Name)

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(strings.ReplaceAll(l, "\n", "\r\n"))
		b.WriteString("\r\n")
	}
	if err := os.WriteFile(mapping.SavePath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("treesink: writing %s: %w", mapping.SavePath, err)
	}
	return nil
}
