// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package convert

import (
	"fmt"
	"slices"

	"github.com/OpenPSG/nwb"
	"github.com/OpenPSG/nwb/mat"
)

const (
	contrastColumn      = "trial_contrast"
	contrastDescription = "visual contrast of the maze through which the mouse is running"
)

// buildTrials creates one row per distinct trial marker. A trial spans the
// first to the last position sample carrying its marker.
func buildTrials(s *mat.Session) (*nwb.TimeIntervals, error) {
	if len(s.Trial) != len(s.PositionTime) {
		return nil, fmt.Errorf("%w: %d trial markers for %d position timestamps",
			mat.ErrSchemaMismatch, len(s.Trial), len(s.PositionTime))
	}

	trials := nwb.NewTimeIntervals("trials", "experimental trials")
	if err := trials.AddColumn(contrastColumn, contrastDescription); err != nil {
		return nil, err
	}

	for _, id := range unique(s.Trial) {
		start, stop, ok := span(s.PositionTime, s.Trial, id)
		if !ok {
			return nil, fmt.Errorf("%w: trial %d has no position samples", ErrIndexOutOfRange, id)
		}

		contrast, err := perTrial(s.TrialContrast, id, "trial_contrast")
		if err != nil {
			return nil, err
		}

		if err := trials.AddRow(nwb.Interval{
			ID:        id,
			StartTime: start,
			StopTime:  stop,
			Values:    []float64{contrast},
		}); err != nil {
			return nil, err
		}
	}

	return trials, nil
}

// span returns the earliest and latest timestamp labeled id.
func span(timestamps []float64, labels []int, id int) (start, stop float64, ok bool) {
	for i, l := range labels {
		if l != id {
			continue
		}
		t := timestamps[i]
		if !ok {
			start, stop, ok = t, t, true
			continue
		}
		start = min(start, t)
		stop = max(stop, t)
	}
	return start, stop, ok
}

// perTrial looks up a per-trial value. Trial ids are 1-based.
func perTrial(values []float64, trial int, name string) (float64, error) {
	i := trial - 1
	if i < 0 || i >= len(values) {
		return 0, fmt.Errorf("%w: trial %d has no %s entry (%d entries)", ErrIndexOutOfRange, trial, name, len(values))
	}
	return values[i], nil
}

// unique returns the distinct values in ascending order.
func unique(values []int) []int {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
