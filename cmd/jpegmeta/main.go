// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Command jpegmeta prints the file attributes and EXIF metadata of JPEG files as JSON.
//
// Usage:
//
//	jpegmeta [flags] file-or-glob...
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/djherbis/times"
	"github.com/photometa/jpegmeta"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type config struct {
	workers   int
	write     bool
	thumbnail bool
	verbose   bool
	compact   bool
}

func run(args []string, stdout, stderr io.Writer) int {
	var cfg config

	flags := flag.NewFlagSet("jpegmeta", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: jpegmeta [options] <file or glob>...\n\n")
		fmt.Fprintf(stderr, "Extracts metadata from JPEG files into JSON\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		flags.PrintDefaults()
	}
	flags.IntVar(&cfg.workers, "workers", runtime.NumCPU(), "Number of files to process in parallel")
	flags.BoolVar(&cfg.write, "write", false, "Write a .json file next to each image instead of printing")
	flags.BoolVar(&cfg.thumbnail, "thumbnail", false, "Include the thumbnail directory (IFD1) tags")
	flags.BoolVar(&cfg.verbose, "v", false, "Log decoder warnings to stderr")
	flags.BoolVar(&cfg.compact, "compact", false, "Print compact JSON")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	paths, err := expandPaths(flags.Args())
	if err != nil {
		fmt.Fprintf(stderr, "jpegmeta: %v\n", err)
		return 2
	}

	logger := log.New(stderr, "jpegmeta: ", 0)

	records := extractAll(paths, cfg.workers, func(path string) jpegmeta.Record {
		return extractFile(path, cfg.options(logger, path))
	})

	status := 0
	for _, r := range records {
		if r.Error != "" {
			status = 1
			fmt.Fprintf(stderr, "While processing %s, we hit an error:\n  %s\n", r.Path, r.Error)
		}
	}

	if cfg.write {
		for _, r := range records {
			if err := writeSidecar(r, cfg.compact); err != nil {
				status = 1
				fmt.Fprintf(stderr, "While writing metadata for %s, we hit an error:\n  %s\n", r.Path, err)
			}
		}
		return status
	}

	if err := encodeJSON(stdout, records, cfg.compact); err != nil {
		fmt.Fprintf(stderr, "jpegmeta: %v\n", err)
		return 1
	}

	return status
}

func (cfg config) options(logger *log.Logger, path string) jpegmeta.Options {
	var opts jpegmeta.Options
	if cfg.thumbnail {
		opts.ShouldHandleTag = func(jpegmeta.TagInfo) bool { return true }
	}
	if cfg.verbose {
		opts.Warnf = func(format string, args ...any) {
			logger.Printf("%s: %s", path, fmt.Sprintf(format, args...))
		}
	}
	return opts
}

// expandPaths expands glob patterns, for shells that do not.
// A pattern without matches is kept as is so the missing file gets reported.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[") {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			paths = append(paths, arg)
			continue
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// fileInfo adds the birth time to os.FileInfo where the platform records it.
type fileInfo struct {
	os.FileInfo
	ts times.Timespec
}

func (fi fileInfo) BirthTime() (time.Time, bool) {
	if fi.ts == nil || !fi.ts.HasBirthTime() {
		return time.Time{}, false
	}
	return fi.ts.BirthTime(), true
}

func statFile(path string) (fileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileInfo{}, err
	}
	// Birth time is optional; a failing statx leaves it unset.
	ts, _ := times.Stat(path)
	return fileInfo{FileInfo: fi, ts: ts}, nil
}

func extractFile(path string, opts jpegmeta.Options) jpegmeta.Record {
	fi, err := statFile(path)
	if err != nil {
		return jpegmeta.NewErrorRecord(path, nil, err)
	}
	if fi.IsDir() {
		return jpegmeta.NewErrorRecord(path, fi, fmt.Errorf("%s is a directory", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return jpegmeta.NewErrorRecord(path, fi, err)
	}
	return jpegmeta.NewRecord(path, fi, data, opts)
}

func sidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}

func writeSidecar(r jpegmeta.Record, compact bool) error {
	f, err := os.Create(sidecarPath(r.Path))
	if err != nil {
		return err
	}
	if err := encodeJSON(f, r, compact); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeJSON(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
