// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package convert_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/nwb"
	"github.com/OpenPSG/nwb/convert"
	"github.com/OpenPSG/nwb/internal/logging"
	"github.com/OpenPSG/nwb/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"
)

func TestNewFile(t *testing.T) {
	pacific := time.FixedZone("PDT", -7*60*60)
	eastern := time.FixedZone("EDT", -4*60*60)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	meta := convert.Metadata{
		SubjectID:          "npI5",
		SubjectDateOfBirth: time.Date(2017, 12, 1, 0, 0, 0, 0, time.UTC),
		SubjectWeight:      "25g",
		SessionID:          "baseline_1",
		SessionDescription: "demonstrate NWBFile basics",
		SessionStartTime:   time.Date(2018, 4, 3, 18, 0, 0, 0, time.UTC),
		Lab:                "Giocomo",
		SessionLocation:    pacific,
		FileCreateLocation: eastern,
	}

	file, err := convert.NewFile(meta, func() time.Time { return now })
	require.NoError(t, err)

	require.Len(t, file.Identifier, 32)
	_, err = hex.DecodeString(file.Identifier)
	require.NoError(t, err)

	assert.True(t, file.SessionStartTime.Equal(meta.SessionStartTime))
	assert.Equal(t, 11, file.SessionStartTime.Hour())
	assert.Equal(t, file.SessionStartTime, file.TimestampsReferenceTime)

	assert.True(t, file.FileCreateDate.Equal(now))
	assert.Equal(t, 8, file.FileCreateDate.Hour())

	assert.Equal(t, "baseline_1", file.SessionID)
	assert.Equal(t, "Giocomo", file.Lab)
	require.NotNil(t, file.Subject)
	assert.Equal(t, "npI5", file.Subject.SubjectID)
	assert.Equal(t, "25g", file.Subject.Weight)
	assert.True(t, file.Subject.DateOfBirth.Equal(meta.SubjectDateOfBirth))

	other, err := convert.NewFile(meta, nil)
	require.NoError(t, err)
	assert.NotEqual(t, file.Identifier, other.Identifier)
}

// writeSession writes a minimal MATLAB v7.3 style session to dir.
func writeSession(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "session.mat")
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	root, err := f.OpenGroup("/")
	require.NoError(t, err)
	defer root.Close()

	sp, err := root.CreateGroup("sp")
	require.NoError(t, err)
	defer sp.Close()

	write := func(g *hdf5.Group, name string, dims []uint, data []float64) {
		space, err := hdf5.CreateSimpleDataspace(dims, nil)
		require.NoError(t, err)
		defer space.Close()

		ds, err := g.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
		require.NoError(t, err)
		defer ds.Close()

		require.NoError(t, ds.Write(&data))
	}
	vector := func(g *hdf5.Group, name string, data ...float64) {
		write(g, name, []uint{uint(len(data)), 1}, data)
	}

	vector(root, "trial", 1, 1, 2, 2)
	vector(root, "post", 0, 0.1, 0.2, 0.3)
	vector(root, "posx", 10, 20, 30, 40)
	vector(root, "trial_contrast", 5, 9)
	vector(root, "trial_gain", 1, 2)
	vector(root, "lickx", 12.5)
	vector(root, "lickt", 0.05)

	vector(sp, "xcoords", 11, 27)
	vector(sp, "ycoords", 20, 20)
	vector(sp, "hp_filtered", 0)
	vector(sp, "cids", 0, 1)
	vector(sp, "cgs", 2, 1)
	vector(sp, "st", 0.01, 0.02, 0.03)
	vector(sp, "clu", 0, 1, 0)
	vector(sp, "spikeTemplates", 1, 1, 0)
	// Two templates, three samples, one channel.
	write(sp, "temps", []uint{3, 2}, []float64{1, 2, 3, 4, 5, 6})

	return path
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()

	var logs bytes.Buffer
	opts := convert.Options{
		Input:  writeSession(t, dir),
		Output: filepath.Join(dir, "session.nwb"),
		Metadata: convert.Metadata{
			SessionDescription: "demonstrate NWBFile basics",
			SessionStartTime:   time.Date(2018, 4, 3, 18, 0, 0, 0, time.UTC),
			SubjectID:          "npI5",
		},
	}

	file, err := convert.Convert(context.Background(), opts, logging.NewLogger("info", &logs))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "wrote nwb file")

	r, err := nwb.Open(opts.Output)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	header, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, file.Identifier, header.Identifier)
	assert.True(t, opts.Metadata.SessionStartTime.Equal(header.SessionStartTime))
	assert.Equal(t, "npI5", header.Subject.SubjectID)

	trials, err := r.Trials()
	require.NoError(t, err)
	require.Len(t, trials.Rows, 2)
	contrast, _ := trials.Value(1, "trial_contrast")
	assert.Equal(t, 9.0, contrast)

	physical, err := r.TimeSeries("/acquisition/Position/PhysicalPosition")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 15, 20}, physical.Data)

	count, err := r.ElectrodeCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	units, err := r.Units("/units")
	require.NoError(t, err)
	require.Len(t, units.Rows, 2)
	assert.Equal(t, []float64{0.01, 0.03}, units.Rows[0].SpikeTimes)
	assert.Equal(t, [][]float64{{2}, {4}, {6}}, units.Rows[1].WaveformMean)

	templates, err := r.Units("/processing/TemplateUnits/TemplateUnits")
	require.NoError(t, err)
	assert.Len(t, templates.Rows, 2)
}

func TestConvertMissingInput(t *testing.T) {
	dir := t.TempDir()
	opts := convert.Options{
		Input:  filepath.Join(dir, "missing.mat"),
		Output: filepath.Join(dir, "out.nwb"),
	}

	_, err := convert.Convert(context.Background(), opts, nil)
	require.ErrorIs(t, err, mat.ErrOpen)

	_, err = os.Stat(opts.Output)
	assert.True(t, os.IsNotExist(err))
}

func TestConvertCanceled(t *testing.T) {
	dir := t.TempDir()
	opts := convert.Options{
		Input:  writeSession(t, dir),
		Output: filepath.Join(dir, "out.nwb"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := convert.Convert(ctx, opts, nil)
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(opts.Output)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteRemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nwb")

	file := &nwb.File{Identifier: "broken"}
	file.AddAcquisition(&nwb.TimeSeries{Name: "Broken", Data: []float64{1}})

	err := convert.Write(path, file)
	require.ErrorIs(t, err, nwb.ErrWrite)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestConvertReplacesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	opts := convert.Options{
		Input:  writeSession(t, dir),
		Output: filepath.Join(dir, "session.nwb"),
		Metadata: convert.Metadata{
			SessionStartTime: time.Date(2018, 4, 3, 18, 0, 0, 0, time.UTC),
		},
	}

	first, err := convert.Convert(context.Background(), opts, nil)
	require.NoError(t, err)

	second, err := convert.Convert(context.Background(), opts, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.Identifier, second.Identifier)

	r, err := nwb.Open(opts.Output)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	header, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, second.Identifier, header.Identifier)
}

func TestWriteFailureRemovesExistingOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nwb")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	file := &nwb.File{Identifier: "broken"}
	file.AddAcquisition(&nwb.TimeSeries{Name: "Broken", Data: []float64{1}})

	err := convert.Write(path, file)
	require.ErrorIs(t, err, nwb.ErrWrite)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
