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

	"github.com/OpenPSG/nwb"
	"github.com/OpenPSG/nwb/mat"
)

const (
	// Positions are recorded in cm.
	positionConversion = 0.01

	positionName          = "Position"
	virtualPositionName   = "Position"
	physicalPositionName  = "PhysicalPosition"
	behavioralEventsName  = "BehavioralEvents"
	lickEventsName        = "LickEvents"
	unknownResolution     = -1.0
	lickUnit              = "unitless sensor values"
	lickEventsDescription = "Mouse location in virtual hallway during a lick."
)

// buildPosition creates the virtual and physical position channels. The
// physical position of a sample is its virtual position divided by the gain
// of its trial. Both channels share the timestamps slice.
func buildPosition(s *mat.Session) (*nwb.Position, error) {
	n := len(s.PositionTime)
	if len(s.PositionX) != n || len(s.Trial) != n {
		return nil, fmt.Errorf("%w: %d positions and %d trial markers for %d timestamps",
			mat.ErrSchemaMismatch, len(s.PositionX), len(s.Trial), n)
	}

	physical := make([]float64, n)
	for i, x := range s.PositionX {
		gain, err := perTrial(s.TrialGain, s.Trial[i], "trial_gain")
		if err != nil {
			return nil, err
		}
		physical[i] = x / gain
	}

	position := &nwb.Position{Name: positionName}
	for _, ss := range []*nwb.SpatialSeries{
		{
			TimeSeries: nwb.TimeSeries{
				Name:        virtualPositionName,
				Description: "Mouse location in the virtual hallway.",
				Comments:    "The values should be >0 and <400cm. Values greater than 400cm mean that the mouse briefly exited the maze.",
				Unit:        "meters",
				Conversion:  positionConversion,
				Resolution:  unknownResolution,
				Data:        s.PositionX,
				Timestamps:  s.PositionTime,
			},
			ReferenceFrame: "The start of the trial, which begins at the start of the virtual hallway.",
		},
		{
			TimeSeries: nwb.TimeSeries{
				Name:        physicalPositionName,
				Description: "Physical location on the wheel since the beginning of the trial.",
				Comments:    `Physical location found by dividing the virtual position by the "trial_gain"`,
				Unit:        "meters",
				Conversion:  positionConversion,
				Resolution:  unknownResolution,
				Data:        physical,
				Timestamps:  s.PositionTime,
			},
			ReferenceFrame: "Location on wheel re-referenced to zero at the start of each trial.",
		},
	} {
		if err := position.Add(ss); err != nil {
			return nil, err
		}
	}

	return position, nil
}

// buildLicks packages the lick positions and times as one event series.
func buildLicks(s *mat.Session) (*nwb.BehavioralEvents, error) {
	if len(s.LickX) != len(s.LickT) {
		return nil, fmt.Errorf("%w: %d lick positions for %d lick times",
			mat.ErrSchemaMismatch, len(s.LickX), len(s.LickT))
	}

	return &nwb.BehavioralEvents{
		Name: behavioralEventsName,
		Series: []*nwb.TimeSeries{{
			Name:        lickEventsName,
			Description: lickEventsDescription,
			Unit:        lickUnit,
			Conversion:  1,
			Resolution:  unknownResolution,
			Data:        s.LickX,
			Timestamps:  s.LickT,
		}},
	}, nil
}
