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
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/OpenPSG/nwb"
	"github.com/OpenPSG/nwb/internal/logging"
	"github.com/OpenPSG/nwb/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSession is a two trial session with three electrodes, two curated
// clusters listed out of order and three single channel templates.
func testSession() *mat.Session {
	return &mat.Session{
		Trial:         []int{1, 1, 2, 2},
		PositionTime:  []float64{0, 0.1, 0.2, 0.3},
		PositionX:     []float64{10, 20, 30, 40},
		TrialContrast: []float64{5, 9},
		TrialGain:     []float64{1, 2},
		LickX:         []float64{12.5, 35},
		LickT:         []float64{0.05, 0.25},
		Sorting: mat.Sorting{
			XCoords:          []float64{11, 27, 43},
			YCoords:          []float64{20, 20, 40},
			HighPassFiltered: true,
			ClusterIDs:       []int{1, 0},
			ClusterQuality:   []int{3, 2},
			SpikeTimes:       []float64{0.01, 0.02, 0.03, 0.04},
			SpikeClusters:    []int{0, 1, 0, 1},
			SpikeTemplates:   []int{2, 0, 2, 2},
			Templates: mat.Templates{
				Count:    3,
				Samples:  2,
				Channels: 1,
				Data:     []float64{1, 2, 3, 4, 5, 6},
			},
		},
	}
}

func TestBuildTrials(t *testing.T) {
	trials, err := buildTrials(testSession())
	require.NoError(t, err)

	require.Len(t, trials.Rows, 2)
	assert.Equal(t, nwb.Interval{ID: 1, StartTime: 0, StopTime: 0.1, Values: []float64{5}}, trials.Rows[0])
	assert.Equal(t, nwb.Interval{ID: 2, StartTime: 0.2, StopTime: 0.3, Values: []float64{9}}, trials.Rows[1])
}

func TestBuildTrialsUnorderedMarkers(t *testing.T) {
	s := testSession()
	s.Trial = []int{2, 1, 2, 1}

	trials, err := buildTrials(s)
	require.NoError(t, err)

	require.Len(t, trials.Rows, 2)
	assert.Equal(t, 1, trials.Rows[0].ID)
	assert.Equal(t, 0.1, trials.Rows[0].StartTime)
	assert.Equal(t, 0.3, trials.Rows[0].StopTime)
	assert.Equal(t, 0.0, trials.Rows[1].StartTime)
	assert.Equal(t, 0.2, trials.Rows[1].StopTime)
}

func TestBuildTrialsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mat.Session)
		want   error
	}{
		{"marker beyond contrasts", func(s *mat.Session) { s.Trial = []int{1, 1, 3, 3} }, ErrIndexOutOfRange},
		{"zero marker", func(s *mat.Session) { s.Trial = []int{0, 1, 1, 2} }, ErrIndexOutOfRange},
		{"length mismatch", func(s *mat.Session) { s.Trial = []int{1, 1, 2} }, mat.ErrSchemaMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSession()
			tt.mutate(s)
			_, err := buildTrials(s)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildPosition(t *testing.T) {
	s := testSession()
	position, err := buildPosition(s)
	require.NoError(t, err)

	virtual := position.Get("Position")
	require.NotNil(t, virtual)
	assert.Equal(t, []float64{10, 20, 30, 40}, virtual.Data)
	assert.Equal(t, 0.01, virtual.Conversion)
	assert.Equal(t, "meters", virtual.Unit)

	physical := position.Get("PhysicalPosition")
	require.NotNil(t, physical)
	assert.Equal(t, []float64{10, 20, 15, 20}, physical.Data)
	assert.Equal(t, virtual.Timestamps, physical.Timestamps)

	// The virtual channel is not rescaled in place.
	assert.Equal(t, []float64{10, 20, 30, 40}, s.PositionX)
}

func TestBuildPositionZeroGain(t *testing.T) {
	s := testSession()
	s.TrialGain = []float64{1, 0}

	position, err := buildPosition(s)
	require.NoError(t, err)
	assert.True(t, math.IsInf(position.Get("PhysicalPosition").Data[2], 1))
}

func TestBuildPositionErrors(t *testing.T) {
	s := testSession()
	s.TrialGain = []float64{1}
	_, err := buildPosition(s)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	s = testSession()
	s.PositionX = s.PositionX[:3]
	_, err = buildPosition(s)
	require.ErrorIs(t, err, mat.ErrSchemaMismatch)
}

func TestBuildLicks(t *testing.T) {
	events, err := buildLicks(testSession())
	require.NoError(t, err)

	licks := events.Get("LickEvents")
	require.NotNil(t, licks)
	assert.Equal(t, []float64{12.5, 35}, licks.Data)
	assert.Equal(t, []float64{0.05, 0.25}, licks.Timestamps)
	assert.Equal(t, "unitless sensor values", licks.Unit)

	s := testSession()
	s.LickT = s.LickT[:1]
	_, err = buildLicks(s)
	require.ErrorIs(t, err, mat.ErrSchemaMismatch)
}

func TestBuildElectrodes(t *testing.T) {
	file := &nwb.File{}
	group := addProbe(file)

	s := testSession()
	electrodes, err := buildElectrodes(s.Sorting, group)
	require.NoError(t, err)

	require.Len(t, electrodes.Rows, 3)
	for i, e := range electrodes.Rows {
		assert.Equal(t, i, e.ID)
		assert.True(t, math.IsNaN(e.X))
		assert.True(t, math.IsNaN(e.Imp))
		assert.Equal(t, []float64{s.Sorting.XCoords[i], s.Sorting.YCoords[i]}, e.Values)
		assert.Equal(t, filteredDescription, e.Filtering)
		assert.Same(t, group, e.Group)
	}

	s.Sorting.HighPassFiltered = false
	electrodes, err = buildElectrodes(s.Sorting, group)
	require.NoError(t, err)
	assert.Equal(t, unfilteredDescription, electrodes.Rows[0].Filtering)

	s.Sorting.YCoords = s.Sorting.YCoords[:2]
	_, err = buildElectrodes(s.Sorting, group)
	require.ErrorIs(t, err, mat.ErrSchemaMismatch)
}

func TestBuildUnits(t *testing.T) {
	group := addProbe(&nwb.File{})
	units, err := buildUnits(testSession().Sorting, group, false, logging.Discard())
	require.NoError(t, err)

	require.Len(t, units.Rows, 2)

	// Rows are in ascending id order.
	assert.Equal(t, 0, units.Rows[0].ID)
	assert.Equal(t, 1, units.Rows[1].ID)

	assert.Equal(t, []float64{0.01, 0.03}, units.Rows[0].SpikeTimes)
	assert.Equal(t, []float64{0.02, 0.04}, units.Rows[1].SpikeTimes)

	// Quality follows the position in the cluster list, the waveform the id.
	q0, _ := units.Value(0, qualityColumn)
	q1, _ := units.Value(1, qualityColumn)
	assert.Equal(t, 2.0, q0)
	assert.Equal(t, 3.0, q1)
	assert.Equal(t, [][]float64{{1}, {2}}, units.Rows[0].WaveformMean)
	assert.Equal(t, [][]float64{{3}, {4}}, units.Rows[1].WaveformMean)
}

func TestBuildUnitsWithoutSpikes(t *testing.T) {
	so := testSession().Sorting
	so.ClusterIDs = []int{0, 1, 2}
	so.ClusterQuality = []int{1, 1, 1}

	units, err := buildUnits(so, addProbe(&nwb.File{}), false, logging.Discard())
	require.NoError(t, err)

	u, ok := units.Get(2)
	require.True(t, ok)
	assert.NotNil(t, u.SpikeTimes)
	assert.Empty(t, u.SpikeTimes)
}

func TestBuildUnitsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mat.Sorting)
		want   error
	}{
		{"quality length", func(so *mat.Sorting) { so.ClusterQuality = []int{1} }, mat.ErrSchemaMismatch},
		{"spike cluster length", func(so *mat.Sorting) { so.SpikeClusters = []int{0} }, mat.ErrSchemaMismatch},
		{"id without template", func(so *mat.Sorting) { so.ClusterIDs = []int{1, 3} }, ErrIndexOutOfRange},
		{"negative id", func(so *mat.Sorting) { so.ClusterIDs = []int{-1, 0} }, ErrIndexOutOfRange},
		{"duplicate id", func(so *mat.Sorting) { so.ClusterIDs = []int{1, 1} }, mat.ErrSchemaMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			so := testSession().Sorting
			tt.mutate(&so)
			_, err := buildUnits(so, addProbe(&nwb.File{}), false, logging.Discard())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckClusterIDsNonContiguous(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger("warn", &buf)

	require.NoError(t, checkClusterIDs([]int{0, 2}, 3, false, logger))
	assert.Contains(t, buf.String(), "cluster ids are not contiguous from zero")
	assert.Contains(t, buf.String(), "first_missing=1")

	err := checkClusterIDs([]int{0, 2}, 3, true, logger)
	require.ErrorIs(t, err, ErrNonContiguousIDs)

	buf.Reset()
	require.NoError(t, checkClusterIDs([]int{1, 0}, 3, true, logger))
	assert.Empty(t, buf.String())
}

func TestBuildTemplateUnits(t *testing.T) {
	group := addProbe(&nwb.File{})
	units, err := buildTemplateUnits(testSession().Sorting, group)
	require.NoError(t, err)

	assert.Equal(t, templateUnitsName, units.Name)
	require.Len(t, units.Rows, 2)
	assert.Equal(t, 0, units.Rows[0].ID)
	assert.Equal(t, []float64{0.02}, units.Rows[0].SpikeTimes)
	assert.Equal(t, 2, units.Rows[1].ID)
	assert.Equal(t, []float64{0.01, 0.03, 0.04}, units.Rows[1].SpikeTimes)
	assert.Nil(t, units.Rows[1].WaveformMean)

	so := testSession().Sorting
	so.SpikeTemplates = so.SpikeTemplates[:2]
	_, err = buildTemplateUnits(so, group)
	require.ErrorIs(t, err, mat.ErrSchemaMismatch)
}

func TestBuild(t *testing.T) {
	opts := Options{
		Metadata: Metadata{SessionDescription: "demonstrate NWBFile basics", SessionStartTime: time.Date(2018, 4, 3, 11, 0, 0, 0, time.UTC)},
		Now:      func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}

	file, err := Build(context.Background(), testSession(), opts, nil)
	require.NoError(t, err)

	require.Len(t, file.Trials.Rows, 2)
	require.NotNil(t, file.GetAcquisition("Position"))
	require.NotNil(t, file.GetAcquisition("BehavioralEvents"))
	require.Len(t, file.Devices, 1)
	assert.Equal(t, deviceName, file.Devices[0].Name)
	require.Len(t, file.ElectrodeGroups, 1)
	assert.Equal(t, electrodeGroupName, file.ElectrodeGroups[0].Name)
	assert.Len(t, file.Electrodes.Rows, 3)
	assert.Len(t, file.Units.Rows, 2)

	module := file.GetProcessingModule(templateUnitsName)
	require.NotNil(t, module)
	templates, ok := module.Get(templateUnitsName).(*nwb.Units)
	require.True(t, ok)
	assert.Len(t, templates.Rows, 2)
}

func TestBuildStopsOnError(t *testing.T) {
	s := testSession()
	s.Sorting.ClusterIDs = []int{7, 0}

	_, err := Build(context.Background(), s, Options{}, nil)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Contains(t, err.Error(), "error building units")
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, testSession(), Options{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
