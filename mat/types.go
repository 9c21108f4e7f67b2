// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mat

import "fmt"

// Session is one recording session as exported from MATLAB.
type Session struct {
	Fields        []string  // Top level variable names found in the file
	Trial         []int     // Trial number of each position sample (1-based)
	PositionTime  []float64 // Timestamp of each position sample in seconds (post)
	PositionX     []float64 // Virtual position of each sample in cm (posx)
	TrialContrast []float64 // Contrast of each trial, indexed by trial-1
	TrialGain     []float64 // Gain of each trial, indexed by trial-1
	LickX         []float64 // Virtual position at each lick
	LickT         []float64 // Timestamp of each lick
	Sorting       Sorting   // Spike sorting results (sp)
}

// Sorting holds the Kilosort/phy results stored in the sp struct.
type Sorting struct {
	XCoords          []float64 // Per-electrode x position on the probe
	YCoords          []float64 // Per-electrode y position on the probe
	HighPassFiltered bool      // Whether the raw data was high-pass filtered
	ClusterIDs       []int     // Manually curated cluster ids (cids)
	ClusterQuality   []int     // Quality label per cluster, parallel to ClusterIDs (cgs)
	SpikeTimes       []float64 // Time of each spike in seconds (st)
	SpikeClusters    []int     // Cluster id of each spike (clu)
	SpikeTemplates   []int     // Template id of each spike (spikeTemplates)
	Templates        Templates // Template waveforms (temps)
}

// Templates is a stack of template waveforms, indexed by template id.
type Templates struct {
	Count    int       // Number of templates
	Samples  int       // Samples per waveform
	Channels int       // Channels per waveform
	Data     []float64 // Row-major [Count][Samples][Channels]
}

// Waveform returns the samples x channels waveform of template id.
func (t Templates) Waveform(id int) ([][]float64, error) {
	if id < 0 || id >= t.Count {
		return nil, fmt.Errorf("template %d out of range [0, %d)", id, t.Count)
	}

	w := make([][]float64, t.Samples)
	for s := range w {
		off := (id*t.Samples + s) * t.Channels
		w[s] = append([]float64(nil), t.Data[off:off+t.Channels]...)
	}
	return w, nil
}
