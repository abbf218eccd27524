package main

import (
	"io"
	"strings"

	"github.com/rodaine/table"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
)

// printListing renders root's tree as an indented table. Listing is
// always performed, whether or not extraction was requested.
func printListing(w io.Writer, root *content.Node) {
	tbl := table.New("name", "kind", "status", "comment")
	tbl = tbl.WithWriter(w)
	addRows(tbl, root, 0)
	tbl.Print()
}

func addRows(tbl table.Table, n *content.Node, depth int) {
	tbl.AddRow(strings.Repeat("  ", depth)+n.Name, n.Kind.String(), statusString(n.Status), n.Comment)
	for _, c := range n.Children {
		addRows(tbl, c, depth+1)
	}
}

func statusString(s content.Status) string {
	var flags []string
	if s&content.StatusBadCrc != 0 {
		flags = append(flags, "bad-crc")
	}
	if s&content.StatusNoCrc != 0 {
		flags = append(flags, "no-crc")
	}
	if s&content.StatusTruncated != 0 {
		flags = append(flags, "truncated")
	}
	if s&content.StatusIllegalChar != 0 {
		flags = append(flags, "illegal-char")
	}
	if s&content.StatusReserved != 0 {
		flags = append(flags, "reserved")
	}
	if s&content.StatusDefDate != 0 {
		flags = append(flags, "default-date")
	}
	if len(flags) == 0 {
		return "ok"
	}
	return strings.Join(flags, ",")
}
