// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package nwb

import (
	"fmt"
	"path"
	"time"

	"gonum.org/v1/hdf5"
)

// Reader reads back the parts of an NWB file this package writes.
type Reader struct {
	f *hdf5.File
}

// Open opens an NWB file for reading.
func Open(name string) (*Reader, error) {
	f, err := hdf5.OpenFile(name, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", name, err)
	}

	return &Reader{f: f}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Header reads the file level metadata and the subject. Tables and series
// are left empty.
func (r *Reader) Header() (*File, error) {
	file := &File{}

	var err error
	if file.Identifier, err = r.readString("/identifier"); err != nil {
		return nil, err
	}
	if file.SessionDescription, err = r.readString("/session_description"); err != nil {
		return nil, err
	}
	if file.SessionStartTime, err = r.readTime("/session_start_time"); err != nil {
		return nil, err
	}
	if file.TimestampsReferenceTime, err = r.readTime("/timestamps_reference_time"); err != nil {
		return nil, err
	}
	if file.FileCreateDate, err = r.readTime("/file_create_date"); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"/general/session_id", &file.SessionID},
		{"/general/experimenter", &file.Experimenter},
		{"/general/experiment_description", &file.ExperimentDescription},
		{"/general/institution", &file.Institution},
		{"/general/lab", &file.Lab},
	} {
		if !r.f.LinkExists(field.name) {
			continue
		}
		if *field.dst, err = r.readString(field.name); err != nil {
			return nil, err
		}
	}

	if r.f.LinkExists("/general/subject") {
		s := &Subject{}
		for _, field := range []struct {
			name string
			dst  *string
		}{
			{"subject_id", &s.SubjectID},
			{"description", &s.Description},
			{"species", &s.Species},
			{"sex", &s.Sex},
			{"weight", &s.Weight},
		} {
			if *field.dst, err = r.readString("/general/subject/" + field.name); err != nil {
				return nil, err
			}
		}
		if r.f.LinkExists("/general/subject/date_of_birth") {
			if s.DateOfBirth, err = r.readTime("/general/subject/date_of_birth"); err != nil {
				return nil, err
			}
		}
		file.Subject = s
	}

	return file, nil
}

// Trials reads the trial table.
func (r *Reader) Trials() (*TimeIntervals, error) {
	const base = "/intervals/trials"

	ids, err := r.readFloats(base + "/id")
	if err != nil {
		return nil, err
	}
	start, err := r.readFloats(base + "/start_time")
	if err != nil {
		return nil, err
	}
	stop, err := r.readFloats(base + "/stop_time")
	if err != nil {
		return nil, err
	}

	columns, values, err := r.readExtraColumns(base, len(ids), "id", "start_time", "stop_time")
	if err != nil {
		return nil, err
	}

	t := &TimeIntervals{Name: "trials", Columns: columns}
	for i := range ids {
		row := Interval{ID: int(ids[i]), StartTime: start[i], StopTime: stop[i]}
		for _, v := range values {
			row.Values = append(row.Values, v[i])
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// TimeSeries reads the data and timestamps of the series at the given path,
// e.g. "/acquisition/Position/PhysicalPosition".
func (r *Reader) TimeSeries(name string) (*TimeSeries, error) {
	data, err := r.readFloats(name + "/data")
	if err != nil {
		return nil, err
	}
	timestamps, err := r.readFloats(name + "/timestamps")
	if err != nil {
		return nil, err
	}

	return &TimeSeries{Name: path.Base(name), Data: data, Timestamps: timestamps}, nil
}

// ElectrodeCount returns the number of rows of the electrode table.
func (r *Reader) ElectrodeCount() (int, error) {
	ids, err := r.readFloats("/general/extracellular_ephys/electrodes/id")
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Units reads the units table at the given path, e.g. "/units" or
// "/processing/TemplateUnits/TemplateUnits".
func (r *Reader) Units(name string) (*Units, error) {
	ids, err := r.readFloats(name + "/id")
	if err != nil {
		return nil, err
	}
	spikeTimes, err := r.readFloats(name + "/spike_times")
	if err != nil {
		return nil, err
	}
	index, err := r.readFloats(name + "/spike_times_index")
	if err != nil {
		return nil, err
	}
	if len(index) != len(ids) {
		return nil, fmt.Errorf("spike_times_index has %d entries for %d units", len(index), len(ids))
	}

	columns, values, err := r.readExtraColumns(name, len(ids),
		"id", "spike_times", "spike_times_index", "waveform_mean", "electrode_group")
	if err != nil {
		return nil, err
	}

	var waveforms [][][]float64
	if r.f.LinkExists(name + "/waveform_mean") {
		if waveforms, err = r.readWaveforms(name + "/waveform_mean"); err != nil {
			return nil, err
		}
	}

	var groups []string
	if r.f.LinkExists(name + "/electrode_group") {
		if groups, err = r.readStrings(name + "/electrode_group"); err != nil {
			return nil, err
		}
	}

	u := &Units{Name: path.Base(name), Columns: columns}
	prev := 0
	for i := range ids {
		end := int(index[i])
		if end < prev || end > len(spikeTimes) {
			return nil, fmt.Errorf("invalid spike_times_index entry %d", end)
		}
		unit := Unit{ID: int(ids[i]), SpikeTimes: spikeTimes[prev:end]}
		prev = end
		for _, v := range values {
			unit.Values = append(unit.Values, v[i])
		}
		if i < len(waveforms) {
			unit.WaveformMean = waveforms[i]
		}
		if i < len(groups) && groups[i] != "" {
			unit.ElectrodeGroup = &ElectrodeGroup{Name: path.Base(groups[i])}
		}
		u.Rows = append(u.Rows, unit)
	}

	return u, nil
}

// readExtraColumns reads every float column of a table that is not one of
// the known columns, in storage order.
func (r *Reader) readExtraColumns(table string, rows int, known ...string) ([]Column, [][]float64, error) {
	g, err := r.f.OpenGroup(table)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening %s: %w", table, err)
	}
	defer g.Close()

	n, err := g.NumObjects()
	if err != nil {
		return nil, nil, err
	}

	skip := make(map[string]bool, len(known))
	for _, k := range known {
		skip[k] = true
	}

	var columns []Column
	var values [][]float64
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, nil, err
		}
		typ, err := g.ObjectTypeByIndex(i)
		if err != nil {
			return nil, nil, err
		}
		if skip[name] || typ != hdf5.H5G_DATASET {
			continue
		}

		v, err := r.readFloats(table + "/" + name)
		if err != nil {
			return nil, nil, err
		}
		if len(v) != rows {
			return nil, nil, fmt.Errorf("column %s/%s has %d rows, expected %d", table, name, len(v), rows)
		}
		columns = append(columns, Column{Name: name})
		values = append(values, v)
	}

	return columns, values, nil
}

func (r *Reader) readWaveforms(name string) ([][][]float64, error) {
	ds, err := r.f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", name, err)
	}
	defer ds.Close()

	space := ds.Space()
	dims, _, err := space.SimpleExtentDims()
	_ = space.Close()
	if err != nil {
		return nil, err
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("%s has rank %d, expected 3", name, len(dims))
	}

	flat, err := readFloats(ds)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}

	units, samples, channels := int(dims[0]), int(dims[1]), int(dims[2])
	out := make([][][]float64, units)
	for u := range out {
		out[u] = make([][]float64, samples)
		for s := range out[u] {
			off := (u*samples + s) * channels
			out[u][s] = flat[off : off+channels]
		}
	}
	return out, nil
}

func (r *Reader) readFloats(name string) ([]float64, error) {
	ds, err := r.f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", name, err)
	}
	defer ds.Close()

	v, err := readFloats(ds)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	return v, nil
}

func (r *Reader) readStrings(name string) ([]string, error) {
	ds, err := r.f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", name, err)
	}
	defer ds.Close()

	v, err := readStrings(ds)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	return v, nil
}

func (r *Reader) readString(name string) (string, error) {
	v, err := r.readStrings(name)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return "", fmt.Errorf("%s is empty", name)
	}
	return v[0], nil
}

func (r *Reader) readTime(name string) (time.Time, error) {
	s, err := r.readString(name)
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing %s: %w", name, err)
	}
	return t, nil
}
