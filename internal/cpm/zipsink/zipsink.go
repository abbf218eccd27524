// Package zipsink writes a decoded content tree out to a single ZIP
// archive, the alternative to treesink's loose-file layout. Built on
// archive/zip with klauspost/compress/flate registered as the deflate
// implementation.
package zipsink

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
)

func init() {
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// Options mirrors treesink.Options for the parts that make sense inside
// a single archive: there is no separate filesystem directory to nest
// into, but names still need folding and de-duplication, and a mapping
// entry can still be synthesized.
type Options struct {
	// PreserveCase keeps each decoded name's original case instead of
	// lowercasing it.
	PreserveCase bool
	// Nest prefixes a library's members' entry names with the library's
	// own stem as a path component (no separate directory entry is
	// written), rather than flattening them into the archive root.
	Nest bool
	// WriteInfo adds a "<stem>.info" entry collecting diagnostics and
	// renames, the ZIP-archive equivalent of treesink's mapping file.
	WriteInfo bool
}

// Write saves root (and, for a Library, its Children) as entries in a
// single ZIP archive at path.
func Write(root *content.Node, zipPath string, opts Options) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("zipsink: creating %s: %w", zipPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	var info []string
	if err := writeNode(zw, root, "", opts, make(map[string]int), &info); err != nil {
		zw.Close()
		return err
	}
	if opts.WriteInfo && len(info) > 0 {
		if err := writeInfoEntry(zw, root, opts, info); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func writeNode(zw *zip.Writer, n *content.Node, prefix string, opts Options, seen map[string]int, info *[]string) error {
	switch n.Kind {
	case content.KindSkipped, content.KindMissing:
		return nil

	case content.KindLibrary:
		childPrefix := prefix
		if opts.Nest {
			childPrefix = path.Join(prefix, stem(mangle(n.Name, opts)))
		}
		childSeen := make(map[string]int)
		for _, c := range n.Children {
			if err := writeNode(zw, c, childPrefix, opts, childSeen, info); err != nil {
				return err
			}
		}
		return nil

	default:
		name := uniqueName(mangle(n.Name, opts), seen)
		entryName := path.Join(prefix, name)
		n.SavePath = entryName
		if !strings.EqualFold(name, n.Name) {
			*info = append(*info, fmt.Sprintf("%s -> %s", n.Name, entryName))
		}
		for _, m := range n.Msg {
			*info = append(*info, fmt.Sprintf("%s - %s", n.Name, m))
		}

		hdr := &zip.FileHeader{Name: entryName, Method: zip.Deflate}
		if !n.Timestamp.IsZero() {
			hdr.Modified = n.Timestamp
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zipsink: creating entry %s: %w", entryName, err)
		}
		if _, err := w.Write(n.Out.Buf); err != nil {
			return fmt.Errorf("zipsink: writing entry %s: %w", entryName, err)
		}
		return nil
	}
}

func mangle(name string, opts Options) string {
	name = strings.ReplaceAll(name, "/", "_")
	if !opts.PreserveCase {
		name = strings.ToLower(name)
	}
	if name == "" {
		name = "_"
	}
	return name
}

func uniqueName(name string, seen map[string]int) string {
	key := strings.ToLower(name)
	n := seen[key]
	seen[key] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "~" + strconv.Itoa(n) + ext
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

func writeInfoEntry(zw *zip.Writer, root *content.Node, opts Options, lines []string) error {
	name := stem(mangle(root.Name, opts)) + ".info"
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("zipsink: creating entry %s: %w", name, err)
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(strings.ReplaceAll(l, "\n", "\r\n"))
		b.WriteString("\r\n")
	}
	if _, err := w.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("zipsink: writing entry %s: %w", name, err)
	}
	return nil
}
