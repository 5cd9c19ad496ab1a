// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// Params lists the learner configuration of the checkpoints. Rows with values that differ across
// checkpoints are highlighted.
func Params(w io.Writer, checkpoints []*checkpoint) error {
	numCheckpoints := len(checkpoints)
	numCols := numCheckpoints + 2

	_, _ = fmt.Fprintln(w, titleStyle.Render("Learner Configuration"))
	table := newTableWithReds(true)

	// Build the headers row.
	headers := make([]string, 0, numCols)
	headers = append(headers, "Name", "Type")
	if numCheckpoints == 1 {
		headers = append(headers, "Value")
	} else {
		for _, c := range checkpoints {
			headers = append(headers, c.name)
		}
	}
	table.Table.Headers(headers...)

	// Flatten the configurations, and collect the keys set on all of them.
	flatConfigs := make([]map[string]any, numCheckpoints)
	allKeys := make(map[string]bool)
	for ii, c := range checkpoints {
		flat, err := flattenConfig(c.learner.Config())
		if err != nil {
			return errors.WithMessagef(err, "checkpoint %q", c.path)
		}
		flatConfigs[ii] = flat
		for key := range flat {
			allKeys[key] = true
		}
	}

	for _, key := range slices.Sorted(maps.Keys(allKeys)) {
		row := make([]string, numCols)
		row[0] = key
		for ii, flat := range flatConfigs {
			value, found := flat[key]
			if !found {
				continue
			}
			if row[1] == "" {
				row[1] = fmt.Sprintf("%T", value)
			}
			row[2+ii] = fmt.Sprintf("%v", value)
		}
		table.Row(!isAllEqual(row[2:]), row...)
	}
	_, _ = fmt.Fprintln(w, table.Table.Render())
	return nil
}

// flattenConfig converts the configuration to its JSON form, and flattens nested objects
// using "/" to join the keys.
func flattenConfig(cfg any) (map[string]any, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode configuration")
	}
	var tree map[string]any
	if err = json.Unmarshal(encoded, &tree); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	flat := make(map[string]any)
	var visit func(prefix string, node map[string]any)
	visit = func(prefix string, node map[string]any) {
		for key, value := range node {
			if sub, ok := value.(map[string]any); ok {
				visit(prefix+key+"/", sub)
				continue
			}
			flat[prefix+key] = value
		}
	}
	visit("", tree)
	return flat, nil
}
