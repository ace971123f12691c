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

	// ExitCodeProcessingError is the exit code for a decoding error.
	ExitCodeProcessingError
)

// ErrFlagParse is a flag/argument parsing error.
var ErrFlagParse = errors.New("parsing flags")

// ErrRagzip is the base error for CLI failures.
var ErrRagzip = errors.New("ragzip")

func init() {
	// See cmd/ragzip/app.go for why this flag is hidden under a random
	// name rather than left as the default "help"/"h".
	cli.HelpFlag = &cli.BoolFlag{
		Name:               "b3a6c9d07e1f4a2b8c55",
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

func newRagunzipApp() *cli.App {
	return &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "Decompress random-access gzip containers.",
		Description: strings.Join([]string{
			"ragunzip reads a ragzip container and either decompresses it",
			"in full or lists the footer fields and extensions it carries.",
			"http://github.com/ianlewis/ragzip",
		}, "\n"),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Usage:   "input file to decompress",
				Aliases: []string{"i"},
			},
			&cli.StringFlag{
				Name:    "output",
				Usage:   "output file; defaults to input minus its last suffix; \"-\" for stdout",
				Aliases: []string{"o"},
			},
			&cli.BoolFlag{
				Name:               "list",
				Usage:              "print footer specs and exit, instead of decompressing",
				Aliases:            []string{"s"},
				DisableDefaultText: true,
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

			if c.Bool("list") {
				l := list{path: in}
				return l.Run()
			}

			out := c.String("output")
			if out == "" {
				ext := filepath.Ext(in)
				if ext != ".gz" && ext != ".rgz" {
					return fmt.Errorf("%w: cannot infer -o from %q: input must end in .gz or .rgz, or -o must be given", ErrFlagParse, in)
				}
				out = strings.TrimSuffix(in, ext)
			}

			d := decompress{
				path:    in,
				out:     out,
				clobber: c.Bool("clobber"),
			}
			return d.Run()
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
