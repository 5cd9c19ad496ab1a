// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationUnitRegexp matches single unit durations, like "1.234567ms".
var durationUnitRegexp = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)([µa-z]+)$`)

// FormatDuration pretty prints a step duration with at most two decimals, e.g. "12.35ms".
// Durations of a minute or more are rounded to the second instead, e.g. "1h2m3s".
func FormatDuration(d time.Duration) string {
	if d >= time.Minute || d <= -time.Minute {
		return d.Round(time.Second).String()
	}
	s := d.String()
	matches := durationUnitRegexp.FindStringSubmatch(s)
	if matches == nil {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}
