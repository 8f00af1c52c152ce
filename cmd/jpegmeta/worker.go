// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/photometa/jpegmeta"
	"golang.org/x/sync/errgroup"
)

// extractAll runs extract for every path with at most workers running at once.
// The records are returned in the order of paths.
func extractAll(paths []string, workers int, extract func(path string) jpegmeta.Record) []jpegmeta.Record {
	records := make([]jpegmeta.Record, len(paths))

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			records[i] = extract(path)
			return nil
		})
	}
	// Failures are stored in the records, extract never returns an error.
	_ = g.Wait()

	return records
}
