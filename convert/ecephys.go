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
	"log/slog"
	"math"
	"slices"

	"github.com/OpenPSG/nwb"
	"github.com/OpenPSG/nwb/mat"
)

const (
	deviceName               = "neuropixel_probes"
	electrodeGroupName       = "probe1"
	electrodeGroupLocation   = "medial entorhinal cortex"
	electrodeGroupDesc       = "single neuropixels probe http://www.open-ephys.org/neuropixelscorded"
	filteredDescription      = "The raw voltage signals from the electrodes were high-pass filtered"
	unfilteredDescription    = "The raw voltage signals from the electrodes were not high-pass filtered"
	qualityColumn            = "quality"
	qualityDescription       = "the labels that you gave to the clusters during manual sorting in phy (1=MUA, 2=Good, 3=Unsorted)"
	templateUnitsName        = "TemplateUnits"
	templateUnitsDescription = "units assigned during automatic spike sorting"
)

// addProbe registers the neuropixels probe and its electrode group.
func addProbe(file *nwb.File) *nwb.ElectrodeGroup {
	device := file.CreateDevice(deviceName, "")
	return file.CreateElectrodeGroup(electrodeGroupName, electrodeGroupDesc, electrodeGroupLocation, device)
}

// buildElectrodes creates one row per probe contact. Stereotaxic coordinates
// and impedance are unknown; the on-probe position goes into the relativex
// and relativey columns.
func buildElectrodes(so mat.Sorting, group *nwb.ElectrodeGroup) (*nwb.ElectrodeTable, error) {
	if len(so.YCoords) != len(so.XCoords) {
		return nil, fmt.Errorf("%w: %d x coordinates but %d y coordinates",
			mat.ErrSchemaMismatch, len(so.XCoords), len(so.YCoords))
	}

	filtering := unfilteredDescription
	if so.HighPassFiltered {
		filtering = filteredDescription
	}

	table := &nwb.ElectrodeTable{}
	if err := table.AddColumn("relativex", "electrode x-location on the probe"); err != nil {
		return nil, err
	}
	if err := table.AddColumn("relativey", "electrode y-location on the probe"); err != nil {
		return nil, err
	}

	for i := range so.XCoords {
		if err := table.AddRow(nwb.Electrode{
			ID:        i,
			X:         math.NaN(),
			Y:         math.NaN(),
			Z:         math.NaN(),
			Imp:       math.NaN(),
			Location:  group.Location,
			Filtering: filtering,
			Group:     group,
			Values:    []float64{so.XCoords[i], so.YCoords[i]},
		}); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// buildUnits creates one row per curated cluster, in ascending id order.
// The quality label is parallel to the cluster id list while the mean
// waveform is looked up by cluster id in the template stack.
func buildUnits(so mat.Sorting, group *nwb.ElectrodeGroup, strict bool, logger *slog.Logger) (*nwb.Units, error) {
	if len(so.ClusterQuality) != len(so.ClusterIDs) {
		return nil, fmt.Errorf("%w: %d quality labels for %d clusters",
			mat.ErrSchemaMismatch, len(so.ClusterQuality), len(so.ClusterIDs))
	}
	if len(so.SpikeClusters) != len(so.SpikeTimes) {
		return nil, fmt.Errorf("%w: %d cluster assignments for %d spikes",
			mat.ErrSchemaMismatch, len(so.SpikeClusters), len(so.SpikeTimes))
	}
	if err := checkClusterIDs(so.ClusterIDs, so.Templates.Count, strict, logger); err != nil {
		return nil, err
	}

	units := nwb.NewUnits("units", "")
	if err := units.AddColumn(qualityColumn, qualityDescription); err != nil {
		return nil, err
	}

	order := make([]int, len(so.ClusterIDs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return so.ClusterIDs[a] - so.ClusterIDs[b]
	})

	for _, pos := range order {
		id := so.ClusterIDs[pos]
		waveform, err := so.Templates.Waveform(id)
		if err != nil {
			return nil, fmt.Errorf("%w: cluster %d: %w", ErrIndexOutOfRange, id, err)
		}

		if err := units.AddRow(nwb.Unit{
			ID:             id,
			SpikeTimes:     spikesOf(so.SpikeTimes, so.SpikeClusters, id),
			WaveformMean:   waveform,
			ElectrodeGroup: group,
			Values:         []float64{float64(so.ClusterQuality[pos])},
		}); err != nil {
			return nil, err
		}
	}

	return units, nil
}

// checkClusterIDs makes sure every id addresses a template and appears once.
// Ids that are not 0..n-1 are legal after manual merges and splits, but the
// id-indexed waveform lookup is then easy to misread, so they are reported.
func checkClusterIDs(ids []int, templates int, strict bool, logger *slog.Logger) error {
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id < 0 || id >= templates {
			return fmt.Errorf("%w: cluster %d has no template (%d templates)", ErrIndexOutOfRange, id, templates)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate cluster id %d", mat.ErrSchemaMismatch, id)
		}
		seen[id] = true
	}

	for i := range ids {
		if !seen[i] {
			if strict {
				return fmt.Errorf("%w: cluster id %d is missing", ErrNonContiguousIDs, i)
			}
			logger.Warn("cluster ids are not contiguous from zero",
				"clusters", len(ids),
				"first_missing", i,
				"max_id", slices.Max(ids))
			return nil
		}
	}

	return nil
}

// buildTemplateUnits creates one row per template id found in the automatic
// spike assignment.
func buildTemplateUnits(so mat.Sorting, group *nwb.ElectrodeGroup) (*nwb.Units, error) {
	if len(so.SpikeTemplates) != len(so.SpikeTimes) {
		return nil, fmt.Errorf("%w: %d template assignments for %d spikes",
			mat.ErrSchemaMismatch, len(so.SpikeTemplates), len(so.SpikeTimes))
	}

	units := nwb.NewUnits(templateUnitsName, templateUnitsDescription)
	for _, id := range unique(so.SpikeTemplates) {
		if err := units.AddRow(nwb.Unit{
			ID:             id,
			SpikeTimes:     spikesOf(so.SpikeTimes, so.SpikeTemplates, id),
			ElectrodeGroup: group,
		}); err != nil {
			return nil, err
		}
	}

	return units, nil
}

// spikesOf returns the times of the spikes labeled id, in original order.
func spikesOf(times []float64, labels []int, id int) []float64 {
	out := []float64{}
	for i, l := range labels {
		if l == id {
			out = append(out, times[i])
		}
	}
	return out
}
