// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

const (
	// ExitCodeSuccess is successful error code.
	ExitCodeSuccess int = iota

	// ExitCodeFlagParseError is the exit code for an argument error.
	ExitCodeFlagParseError

	// ExitCodeProcessingError is the exit code for an encoding error.
	ExitCodeProcessingError
)

// ErrFlagParse is a flag/argument parsing error.
var ErrFlagParse = errors.New("parsing flags")

// ErrRagzip is the base error for CLI failures.
var ErrRagzip = errors.New("ragzip")

func init() {
	// Set the HelpFlag to a random name so that it isn't used. `cli` handles
	// the flag with the root command such that it takes a command name
	// argument but this app doesn't use subcommands.
	//
	// This is done because `ragzip --help foo` would display a
	// "command foo not found" error instead of the help.
	//
	// This flag is hidden by the help output.
	// See: github.com/urfave/cli/issues/1809
	cli.HelpFlag = &cli.BoolFlag{
		// NOTE: Use a random name no one would guess.
		Name:               "f7e9a2c1b4d84c3f9a77",
		DisableDefaultText: true,
	}
}

// check checks the error and panics if not nil.
func check(err error) {
	if err != nil {
		panic(err)
	}
}

// must checks the error and panics if not nil.
func must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

func newRagzipApp() *cli.App {
	return &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "Compress files into random-access gzip containers.",
		Description: strings.Join([]string{
			"ragzip encodes a file into a gzip-compatible container whose",
			"pages can be decompressed independently, without reading the",
			"whole file from the start.",
			"http://github.com/ianlewis/ragzip",
		}, "\n"),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Usage:   "input file to compress",
				Aliases: []string{"i"},
			},
			&cli.StringFlag{
				Name:    "output",
				Usage:   "output file; defaults to input + \".gz\"; \"-\" for stdout",
				Aliases: []string{"o"},
			},
			&cli.IntFlag{
				Name:    "page-size-exponent",
				Usage:   "page size as a power of two",
				Aliases: []string{"P"},
				Value:   13,
			},
			&cli.IntFlag{
				Name:    "index-size-exponent",
				Usage:   "index fan-out as a power of two",
				Aliases: []string{"I"},
				Value:   12,
			},
			&cli.BoolFlag{
				Name:               "clobber",
				Usage:              "permit overwriting an existing output file",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "verbose",
				Usage:              "verbose mode",
				Aliases:            []string{"v"},
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "vv",
				Usage:              "debug verbose mode",
				DisableDefaultText: true,
			},

			// Special flags are shown at the end.
			&cli.BoolFlag{
				Name:               "help",
				Usage:              "print this help text and exit",
				Aliases:            []string{"h"},
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "version",
				Usage:              "print version information and exit",
				DisableDefaultText: true,
			},
			&cli.BoolFlag{
				Name:               "license",
				Usage:              "print license information and exit",
				DisableDefaultText: true,
			},
		},
		ArgsUsage:       " ",
		Copyright:       "Google LLC",
		HideHelp:        true,
		HideHelpCommand: true,
		Action: func(c *cli.Context) error {
			if c.Bool("help") {
				check(cli.ShowAppHelp(c))
				return nil
			}

			if c.Bool("version") {
				return printVersion(c)
			}

			if c.Bool("license") {
				return printLicense(c)
			}

			in := c.String("input")
			if in == "" {
				return fmt.Errorf("%w: -i is required", ErrFlagParse)
			}

			p := c.Int("page-size-exponent")
			i := c.Int("index-size-exponent")
			if p < 9 || p > 30 {
				return fmt.Errorf("%w: -P must be in [9,30]", ErrFlagParse)
			}
			if i < 1 || i > 12 {
				return fmt.Errorf("%w: -I must be in [1,12]", ErrFlagParse)
			}

			verbosity := 0
			if c.Bool("verbose") {
				verbosity = 1
			}
			if c.Bool("vv") {
				verbosity = 2
			}

			enc := compress{
				path:    in,
				out:     c.String("output"),
				clobber: c.Bool("clobber"),
				p:       p,
				i:       i,
				verbose: verbosity,
			}
			return enc.Run()
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}

			_ = must(fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", c.App.Name, err))
			if errors.Is(err, ErrFlagParse) {
				cli.OsExiter(ExitCodeFlagParseError)
				return
			}

			cli.OsExiter(ExitCodeProcessingError)
		},
	}
}
