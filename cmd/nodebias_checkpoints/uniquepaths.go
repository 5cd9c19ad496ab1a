// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"
	"strings"
)

// MinimalUniquePaths takes a list of checkpoint paths and returns a list of minimal names
// that distinguish each path from the others, using the minimum necessary path parts.
func MinimalUniquePaths(paths ...string) []string {
	if len(paths) == 0 {
		return nil
	}
	if len(paths) == 1 {
		return []string{filepath.Base(filepath.Clean(paths[0]))}
	}

	splitPaths := make([][]string, len(paths))
	for i, path := range paths {
		splitPaths[i] = strings.Split(filepath.Clean(path), string(filepath.Separator))
	}

	result := make([]string, len(paths))
	for i, components := range splitPaths {
		// Indices of the components that differ from some other path.
		var diffIndexes []int
		for j, otherComponents := range splitPaths {
			if i == j {
				continue
			}
			for k := range min(len(components), len(otherComponents)) {
				if components[k] != otherComponents[k] && !slices.Contains(diffIndexes, k) {
					diffIndexes = append(diffIndexes, k)
				}
			}
		}
		slices.Sort(diffIndexes)

		switch len(diffIndexes) {
		case 0:
			result[i] = components[len(components)-1]
		case 1:
			result[i] = components[diffIndexes[0]]
		default:
			result[i] = components[diffIndexes[0]] + "..." + components[diffIndexes[len(diffIndexes)-1]]
		}
	}
	return result
}
