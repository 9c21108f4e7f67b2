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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/hdf5"
)

// ErrWrite is returned when the output file cannot be created or written.
var ErrWrite = errors.New("nwb write failed")

// TimeFormat is the ISO 8601 layout used for every datetime in the file.
const TimeFormat = "2006-01-02T15:04:05.000000-07:00"

const hdmfCommon = "hdmf-common"

// Writer writes NWB files.
type Writer struct {
	f    *hdf5.File
	path string
}

// Create creates (or truncates) the NWB file at path.
func Create(path string) (*Writer, error) {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating %s: %w", ErrWrite, path, err)
	}

	return &Writer{f: f, path: path}, nil
}

// Close flushes and closes the underlying file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}

	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("%w: error closing %s: %w", ErrWrite, w.path, err)
	}

	return nil
}

// Write writes the complete file in one pass.
func (w *Writer) Write(file *File) error {
	if w.f == nil {
		return fmt.Errorf("%w: writer is closed", ErrWrite)
	}
	if file == nil {
		return fmt.Errorf("%w: nothing to write", ErrWrite)
	}

	if err := w.write(file); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return nil
}

func (w *Writer) write(file *File) error {
	root, err := w.f.OpenGroup("/")
	if err != nil {
		return fmt.Errorf("error opening root group: %w", err)
	}
	defer root.Close()

	if err := writeAttrs(root, typeAttrs(Namespace, "NWBFile", attr{"nwb_version", Version})...); err != nil {
		return err
	}

	refTime := file.TimestampsReferenceTime
	if refTime.IsZero() {
		refTime = file.SessionStartTime
	}

	if err := writeString(root, "identifier", file.Identifier); err != nil {
		return err
	}
	if err := writeString(root, "session_description", file.SessionDescription); err != nil {
		return err
	}
	if err := writeString(root, "session_start_time", formatTime(file.SessionStartTime)); err != nil {
		return err
	}
	if err := writeString(root, "timestamps_reference_time", formatTime(refTime)); err != nil {
		return err
	}
	if err := writeStrings(root, "file_create_date", []string{formatTime(file.FileCreateDate)}); err != nil {
		return err
	}

	if err := w.writeAcquisition(root, file); err != nil {
		return fmt.Errorf("error writing acquisition: %w", err)
	}

	for _, name := range []string{"analysis", "stimulus"} {
		g, err := createGroup(root, name)
		if err != nil {
			return err
		}
		if name == "stimulus" {
			for _, sub := range []string{"presentation", "templates"} {
				sg, err := createGroup(g, sub)
				if err != nil {
					_ = g.Close()
					return err
				}
				_ = sg.Close()
			}
		}
		_ = g.Close()
	}

	if err := w.writeGeneral(root, file); err != nil {
		return fmt.Errorf("error writing general: %w", err)
	}

	if file.Trials != nil {
		intervals, err := createGroup(root, "intervals")
		if err != nil {
			return err
		}
		err = writeTimeIntervals(intervals, file.Trials)
		_ = intervals.Close()
		if err != nil {
			return fmt.Errorf("error writing trials: %w", err)
		}
	}

	if file.Units != nil {
		if err := writeUnits(root, "units", file.Units); err != nil {
			return fmt.Errorf("error writing units: %w", err)
		}
	}

	if err := w.writeProcessing(root, file); err != nil {
		return fmt.Errorf("error writing processing: %w", err)
	}

	return nil
}

func (w *Writer) writeAcquisition(root *hdf5.Group, file *File) error {
	g, err := createGroup(root, "acquisition")
	if err != nil {
		return err
	}
	defer g.Close()

	for _, di := range file.Acquisition {
		if err := writeInterface(g, di); err != nil {
			return err
		}
	}

	return nil
}

func (w *Writer) writeProcessing(root *hdf5.Group, file *File) error {
	g, err := createGroup(root, "processing")
	if err != nil {
		return err
	}
	defer g.Close()

	for _, m := range file.Processing {
		mg, err := createGroup(g, m.Name, typeAttrs(Namespace, "ProcessingModule",
			attr{"description", m.Description})...)
		if err != nil {
			return err
		}
		for _, di := range m.Interfaces {
			if err := writeInterface(mg, di); err != nil {
				_ = mg.Close()
				return err
			}
		}
		_ = mg.Close()
	}

	return nil
}

func (w *Writer) writeGeneral(root *hdf5.Group, file *File) error {
	g, err := createGroup(root, "general")
	if err != nil {
		return err
	}
	defer g.Close()

	for _, field := range []struct{ name, value string }{
		{"session_id", file.SessionID},
		{"experiment_description", file.ExperimentDescription},
		{"institution", file.Institution},
		{"lab", file.Lab},
	} {
		if field.value == "" {
			continue
		}
		if err := writeString(g, field.name, field.value); err != nil {
			return err
		}
	}
	if file.Experimenter != "" {
		if err := writeStrings(g, "experimenter", []string{file.Experimenter}); err != nil {
			return err
		}
	}

	if file.Subject != nil {
		if err := writeSubject(g, file.Subject); err != nil {
			return fmt.Errorf("error writing subject: %w", err)
		}
	}

	devices, err := createGroup(g, "devices")
	if err != nil {
		return err
	}
	for _, d := range file.Devices {
		dg, err := createGroup(devices, d.Name, typeAttrs(Namespace, "Device", attr{"description", d.Description})...)
		if err != nil {
			_ = devices.Close()
			return err
		}
		_ = dg.Close()
	}
	_ = devices.Close()

	if len(file.ElectrodeGroups) == 0 && file.Electrodes == nil {
		return nil
	}

	ecephys, err := createGroup(g, "extracellular_ephys")
	if err != nil {
		return err
	}
	defer ecephys.Close()

	for _, eg := range file.ElectrodeGroups {
		attrs := typeAttrs(Namespace, "ElectrodeGroup",
			attr{"description", eg.Description},
			attr{"location", eg.Location})
		if eg.Device != nil {
			attrs = append(attrs, attr{"device", devicePath(eg.Device)})
		}
		gg, err := createGroup(ecephys, eg.Name, attrs...)
		if err != nil {
			return err
		}
		_ = gg.Close()
	}

	if file.Electrodes != nil {
		if err := writeElectrodes(ecephys, file.Electrodes); err != nil {
			return fmt.Errorf("error writing electrodes: %w", err)
		}
	}

	return nil
}

func writeSubject(general *hdf5.Group, s *Subject) error {
	g, err := createGroup(general, "subject", typeAttrs(Namespace, "Subject")...)
	if err != nil {
		return err
	}
	defer g.Close()

	for _, field := range []struct{ name, value string }{
		{"subject_id", s.SubjectID},
		{"description", s.Description},
		{"species", s.Species},
		{"sex", s.Sex},
		{"weight", s.Weight},
	} {
		if err := writeString(g, field.name, field.value); err != nil {
			return err
		}
	}

	if !s.DateOfBirth.IsZero() {
		if err := writeString(g, "date_of_birth", formatTime(s.DateOfBirth)); err != nil {
			return err
		}
	}

	return nil
}

func writeInterface(loc location, di DataInterface) error {
	switch v := di.(type) {
	case *Position:
		g, err := createGroup(loc, v.Name, typeAttrs(Namespace, v.NeurodataType())...)
		if err != nil {
			return err
		}
		defer g.Close()
		for _, ss := range v.Series {
			if err := writeTimeSeries(g, &ss.TimeSeries, ss.NeurodataType(),
				func(sg *hdf5.Group) error { return writeString(sg, "reference_frame", ss.ReferenceFrame) }); err != nil {
				return err
			}
		}
		return nil
	case *BehavioralEvents:
		g, err := createGroup(loc, v.Name, typeAttrs(Namespace, v.NeurodataType())...)
		if err != nil {
			return err
		}
		defer g.Close()
		for _, ts := range v.Series {
			if err := writeTimeSeries(g, ts, ts.NeurodataType(), nil); err != nil {
				return err
			}
		}
		return nil
	case *SpatialSeries:
		return writeTimeSeries(loc, &v.TimeSeries, v.NeurodataType(),
			func(sg *hdf5.Group) error { return writeString(sg, "reference_frame", v.ReferenceFrame) })
	case *TimeSeries:
		return writeTimeSeries(loc, v, v.NeurodataType(), nil)
	case *Units:
		return writeUnits(loc, v.Name, v)
	default:
		return fmt.Errorf("unsupported data interface %T", di)
	}
}

func writeTimeSeries(loc location, ts *TimeSeries, neurodataType string, extra func(*hdf5.Group) error) error {
	if len(ts.Data) != len(ts.Timestamps) {
		return fmt.Errorf("time series %q has %d samples but %d timestamps", ts.Name, len(ts.Data), len(ts.Timestamps))
	}

	g, err := createGroup(loc, ts.Name, typeAttrs(Namespace, neurodataType,
		attr{"description", ts.Description},
		attr{"comments", ts.Comments})...)
	if err != nil {
		return err
	}
	defer g.Close()

	if err := writeFloats(g, "data", ts.Data,
		attr{"unit", ts.Unit},
		attr{"conversion", ts.Conversion},
		attr{"resolution", ts.Resolution}); err != nil {
		return err
	}

	if err := writeFloats(g, "timestamps", ts.Timestamps,
		attr{"unit", "seconds"},
		attr{"interval", int32(1)}); err != nil {
		return err
	}

	if extra != nil {
		return extra(g)
	}
	return nil
}

func writeTimeIntervals(loc location, t *TimeIntervals) error {
	colnames := []string{"start_time", "stop_time"}
	for _, c := range t.Columns {
		colnames = append(colnames, c.Name)
	}

	g, err := createTable(loc, t.Name, Namespace, "TimeIntervals", t.Description, colnames)
	if err != nil {
		return err
	}
	defer g.Close()

	ids := make([]int64, len(t.Rows))
	start := make([]float64, len(t.Rows))
	stop := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		ids[i] = int64(r.ID)
		start[i] = r.StartTime
		stop[i] = r.StopTime
	}

	if err := writeInts(g, "id", ids, typeAttrs(hdmfCommon, "ElementIdentifiers")...); err != nil {
		return err
	}
	if err := writeFloats(g, "start_time", start, vectorAttrs("Start time of epoch, in seconds")...); err != nil {
		return err
	}
	if err := writeFloats(g, "stop_time", stop, vectorAttrs("Stop time of epoch, in seconds")...); err != nil {
		return err
	}

	for ci, c := range t.Columns {
		values := make([]float64, len(t.Rows))
		for i, r := range t.Rows {
			values[i] = r.Values[ci]
		}
		if err := writeFloats(g, c.Name, values, vectorAttrs(c.Description)...); err != nil {
			return err
		}
	}

	return nil
}

func writeElectrodes(loc location, t *ElectrodeTable) error {
	colnames := []string{"x", "y", "z", "imp", "location", "filtering", "group", "group_name"}
	for _, c := range t.Columns {
		colnames = append(colnames, c.Name)
	}

	g, err := createTable(loc, "electrodes", hdmfCommon, "DynamicTable", "metadata about extracellular electrodes", colnames)
	if err != nil {
		return err
	}
	defer g.Close()

	n := len(t.Rows)
	ids := make([]int64, n)
	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	imp := make([]float64, n)
	locations := make([]string, n)
	filtering := make([]string, n)
	groups := make([]string, n)
	groupNames := make([]string, n)
	for i, e := range t.Rows {
		ids[i] = int64(e.ID)
		x[i], y[i], z[i], imp[i] = e.X, e.Y, e.Z, e.Imp
		locations[i] = e.Location
		filtering[i] = e.Filtering
		groups[i] = electrodeGroupPath(e.Group)
		groupNames[i] = e.Group.Name
	}

	if err := writeInts(g, "id", ids, typeAttrs(hdmfCommon, "ElementIdentifiers")...); err != nil {
		return err
	}
	for _, col := range []struct {
		name, description string
		values            []float64
	}{
		{"x", "the x coordinate of the channel location", x},
		{"y", "the y coordinate of the channel location", y},
		{"z", "the z coordinate of the channel location", z},
		{"imp", "the impedance of the channel", imp},
	} {
		if err := writeFloats(g, col.name, col.values, vectorAttrs(col.description)...); err != nil {
			return err
		}
	}
	for _, col := range []struct {
		name, description string
		values            []string
	}{
		{"location", "the location of channel within the subject e.g. brain region", locations},
		{"filtering", "description of hardware filtering", filtering},
		{"group", "a reference to the ElectrodeGroup this electrode is a part of", groups},
		{"group_name", "the name of the ElectrodeGroup this electrode is a part of", groupNames},
	} {
		if err := writeStrings(g, col.name, col.values, vectorAttrs(col.description)...); err != nil {
			return err
		}
	}

	for ci, c := range t.Columns {
		values := make([]float64, n)
		for i, e := range t.Rows {
			values[i] = e.Values[ci]
		}
		if err := writeFloats(g, c.Name, values, vectorAttrs(c.Description)...); err != nil {
			return err
		}
	}

	return nil
}

func writeUnits(loc location, name string, u *Units) error {
	colnames := []string{"spike_times"}
	for _, c := range u.Columns {
		colnames = append(colnames, c.Name)
	}
	samples, channels := 0, 0
	if len(u.Rows) > 0 {
		samples, channels = waveformShape(u.Rows[0].WaveformMean)
	}
	if samples > 0 {
		colnames = append(colnames, "waveform_mean")
	}
	colnames = append(colnames, "electrode_group")

	description := u.Description
	if description == "" {
		description = "Autogenerated by NWBFile"
	}

	g, err := createTable(loc, name, Namespace, "Units", description, colnames)
	if err != nil {
		return err
	}
	defer g.Close()

	n := len(u.Rows)
	ids := make([]int64, n)
	index := make([]uint64, n)
	groups := make([]string, n)
	var spikeTimes []float64
	for i, r := range u.Rows {
		ids[i] = int64(r.ID)
		spikeTimes = append(spikeTimes, r.SpikeTimes...)
		index[i] = uint64(len(spikeTimes))
		groups[i] = electrodeGroupPath(r.ElectrodeGroup)
	}

	if err := writeInts(g, "id", ids, typeAttrs(hdmfCommon, "ElementIdentifiers")...); err != nil {
		return err
	}
	if err := writeFloats(g, "spike_times", spikeTimes, vectorAttrs("the spike times for each unit")...); err != nil {
		return err
	}
	if err := writeUints(g, "spike_times_index", index, typeAttrs(hdmfCommon, "VectorIndex",
		attr{"target", spikeTimesPath(loc, name)})...); err != nil {
		return err
	}

	for ci, c := range u.Columns {
		values := make([]float64, n)
		for i, r := range u.Rows {
			values[i] = r.Values[ci]
		}
		if err := writeFloats(g, c.Name, values, vectorAttrs(c.Description)...); err != nil {
			return err
		}
	}

	if samples > 0 {
		flat := make([]float64, 0, n*samples*channels)
		for _, r := range u.Rows {
			for _, row := range r.WaveformMean {
				flat = append(flat, row...)
			}
		}
		if err := writeDataset(g, "waveform_mean", hdf5.T_NATIVE_DOUBLE,
			[]uint{uint(n), uint(samples), uint(channels)}, &flat,
			vectorAttrs("the spike waveform mean for each spike unit")...); err != nil {
			return err
		}
	}

	return writeStrings(g, "electrode_group", groups, vectorAttrs("the electrode group that each spike unit came from")...)
}

// createTable creates a dynamic table group with its column order recorded.
func createTable(loc location, name, namespace, neurodataType, description string, colnames []string) (*hdf5.Group, error) {
	return createGroup(loc, name, typeAttrs(namespace, neurodataType,
		attr{"description", description},
		attr{"colnames", colnames})...)
}

func typeAttrs(namespace, neurodataType string, extra ...attr) []attr {
	attrs := []attr{
		{"namespace", namespace},
		{"neurodata_type", neurodataType},
		{"object_id", uuid.NewString()},
	}
	return append(attrs, extra...)
}

func vectorAttrs(description string) []attr {
	return typeAttrs(hdmfCommon, "VectorData", attr{"description", description})
}

func devicePath(d *Device) string {
	return "/general/devices/" + d.Name
}

func electrodeGroupPath(g *ElectrodeGroup) string {
	if g == nil {
		return ""
	}
	return "/general/extracellular_ephys/" + g.Name
}

func spikeTimesPath(loc location, table string) string {
	if id, ok := loc.(interface{ Name() string }); ok {
		parent := id.Name()
		if parent == "/" {
			return "/" + table + "/spike_times"
		}
		return parent + "/" + table + "/spike_times"
	}
	return table + "/spike_times"
}

func formatTime(t time.Time) string {
	return t.Format(TimeFormat)
}
