package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v2"
	"sigs.k8s.io/release-utils/version"
)

const (
	// ExitCodeSuccess is the successful exit code.
	ExitCodeSuccess = 0
	// ExitCodeFailure is the exit code for a usage error or for any load,
	// decode, or save failure.
	ExitCodeFailure = 1
)

// ErrMlbr is the sentinel all of this command's errors wrap.
var ErrMlbr = errors.New("mlbr")

// ErrFlagParse marks a command-line usage error.
var ErrFlagParse = errors.New("parsing flags")

func init() {
	// Shadow the built-in help flag with an unusable name and wire our
	// own below: `cli` otherwise treats "--help foo" as an
	// unknown-command error.
	cli.HelpFlag = &cli.BoolFlag{
		Name:               "d41d8cd98f00b204e980",
		DisableDefaultText: true,
	}
}

func must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

func newApp() *cli.App {
	return &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "List, validate, and extract CP/M archives (LBR, Squeeze, Crunch, Cr-Lzh).",
		Description: strings.Join([]string{
			"mlbr lists every input file's contents and validation status.",
			"Add -x, -d, or -z to also extract.",
		}, "\n"),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:               "x",
				Usage:              "extract to the target directory",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "d",
				Usage:              "extract to a subdirectory named after each input file's stem",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "z",
				Usage:              "convert to a {name}.zip file",
				DisableDefaultText: true,
			},
			&cli.StringFlag{
				Name:  "D",
				Usage: "override the target directory",
				Value: "",
			},
			&cli.BoolFlag{
				Name:               "f",
				Usage:              "force writing of skipped (truncated, in-container) content",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "k",
				Usage:              "retain case of original file names (default is lower case)",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "ignore-crc",
				Usage:              "keep a decoded buffer even when its trailer checksum mismatched",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "ignore-corrupt",
				Usage:              "keep a partially decoded buffer even when decoding failed mid-stream",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "recurse",
				Usage:              "descend into LBR libraries nested inside other LBR libraries",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "info",
				Usage:              "write a {name}.info file alongside extracted output recording renames and diagnostics",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "help",
				Usage:              "print this help text and exit",
				Aliases:            []string{"h"},
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "version",
				Usage:              "print version information and exit",
				Aliases:            []string{"v"},
				DisableDefaultText: true,
			},
		},
		ArgsUsage:       "FILE...",
		HideHelp:        true,
		HideHelpCommand: true,
		Action:          run,
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", c.App.Name, err)
			cli.OsExiter(ExitCodeFailure)
		},
	}
}

func printVersion(c *cli.Context) error {
	figure.NewFigure("mlbr", "", true).Print()
	info := version.GetVersionInfo()
	_ = must(fmt.Fprintf(c.App.Writer, "%s %s\n%s\n", c.App.Name, info.GitVersion, info.String()))
	return nil
}

func run(c *cli.Context) error {
	if c.Bool("help") {
		return cli.ShowAppHelp(c)
	}
	if c.Bool("version") {
		return printVersion(c)
	}

	xopt, dopt, zopt := c.Bool("x"), c.Bool("d"), c.Bool("z")
	if boolCount(xopt, dopt, zopt) > 1 {
		return fmt.Errorf("%w: only one of -x, -d and -z allowed", ErrFlagParse)
	}

	args := c.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("%w: no file specified", ErrFlagParse)
	}

	job := extractJob{
		extractFlat:   xopt,
		extractNested: dopt,
		zip:           zopt,
		targetDir:     c.String("D"),
		force:         c.Bool("f"),
		preserveCase:  c.Bool("k"),
		ignoreCrc:     c.Bool("ignore-crc"),
		ignoreCorrupt: c.Bool("ignore-corrupt"),
		recurse:       c.Bool("recurse"),
		writeInfo:     c.Bool("info"),
	}

	ok := true
	for _, path := range args {
		fmt.Fprintf(c.App.Writer, "%s:\n", path)
		if err := job.Run(c, path); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
			ok = false
		}
	}
	if !ok {
		return fmt.Errorf("%w: one or more files failed", ErrMlbr)
	}
	return nil
}

func boolCount(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
