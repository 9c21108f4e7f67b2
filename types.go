// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package nwb models, writes and reads back Neurodata Without Borders 2.2.5
// files.
//
// Object references are stored as HDF5 path strings: the electrode table's
// group column, an electrode group's device attribute and the spike time
// index target. pynwb and hdmf expect object references there and will not
// resolve these files; the paths are resolvable by this package and by
// plain HDF5 tools.
package nwb

import (
	"fmt"
	"time"
)

const (
	// Namespace is the NWB core namespace name.
	Namespace = "core"
	// Version is the NWB schema version written to the file.
	Version = "2.2.5"
)

// File is an in-memory NWB file. It is assembled completely before being
// handed to a Writer.
type File struct {
	Identifier              string    // Unique identifier of the file
	SessionDescription      string    // Description of the recording session
	SessionStartTime        time.Time // Start of the recording session
	TimestampsReferenceTime time.Time // Zero point for all timestamps, defaults to SessionStartTime
	FileCreateDate          time.Time // When the file was created
	SessionID               string    // Lab specific session identifier
	Experimenter            string    // Person who performed the experiment
	ExperimentDescription   string    // General description of the experiment
	Institution             string    // Institution where the experiment was performed
	Lab                     string    // Lab where the experiment was performed

	Subject         *Subject
	Trials          *TimeIntervals
	Acquisition     []DataInterface
	Devices         []*Device
	ElectrodeGroups []*ElectrodeGroup
	Electrodes      *ElectrodeTable
	Units           *Units
	Processing      []*ProcessingModule
}

// DataInterface is a named neurodata object that can be placed in the
// acquisition group or a processing module.
type DataInterface interface {
	ObjectName() string
	NeurodataType() string
}

// Subject describes the animal the session was recorded from.
type Subject struct {
	SubjectID   string
	Description string
	Species     string
	Sex         string
	Weight      string
	DateOfBirth time.Time
}

// Device is a recording device, e.g. a probe.
type Device struct {
	Name        string
	Description string
}

// ElectrodeGroup is the set of contacts on one physical probe.
type ElectrodeGroup struct {
	Name        string
	Description string
	Location    string
	Device      *Device
}

// Column is a custom float column of a dynamic table.
type Column struct {
	Name        string
	Description string
}

// TimeIntervals is a table of labeled time intervals, e.g. trials.
type TimeIntervals struct {
	Name        string
	Description string
	Columns     []Column
	Rows        []Interval
}

// Interval is one row of a TimeIntervals table.
type Interval struct {
	ID        int
	StartTime float64
	StopTime  float64
	Values    []float64 // One value per custom column
}

// NewTimeIntervals returns an empty intervals table.
func NewTimeIntervals(name, description string) *TimeIntervals {
	return &TimeIntervals{Name: name, Description: description}
}

// AddColumn declares a custom column. It must be called before any row is added.
func (t *TimeIntervals) AddColumn(name, description string) error {
	if len(t.Rows) > 0 {
		return fmt.Errorf("cannot add column %q to non-empty table %q", name, t.Name)
	}
	t.Columns = append(t.Columns, Column{Name: name, Description: description})
	return nil
}

// AddRow appends an interval.
func (t *TimeIntervals) AddRow(iv Interval) error {
	if len(iv.Values) != len(t.Columns) {
		return fmt.Errorf("expected %d column values, got %d", len(t.Columns), len(iv.Values))
	}
	if iv.StartTime > iv.StopTime {
		return fmt.Errorf("interval %d starts after it stops", iv.ID)
	}
	t.Rows = append(t.Rows, iv)
	return nil
}

// Value returns the value of a custom column for the given row. It reports
// false if the row or column does not exist.
func (t *TimeIntervals) Value(row int, column string) (float64, bool) {
	if row < 0 || row >= len(t.Rows) {
		return 0, false
	}
	for i, c := range t.Columns {
		if c.Name == column {
			return t.Rows[row].Values[i], true
		}
	}
	return 0, false
}

// TimeSeries is a sequence of timestamped samples.
type TimeSeries struct {
	Name        string
	Description string
	Comments    string
	Unit        string
	Conversion  float64 // Scale factor to convert Data into Unit
	Resolution  float64 // Smallest meaningful difference, -1 if unknown
	Data        []float64
	Timestamps  []float64
}

func (ts *TimeSeries) ObjectName() string    { return ts.Name }
func (ts *TimeSeries) NeurodataType() string { return "TimeSeries" }

// SpatialSeries is a TimeSeries of positions.
type SpatialSeries struct {
	TimeSeries
	ReferenceFrame string
}

func (ss *SpatialSeries) NeurodataType() string { return "SpatialSeries" }

// Position holds the spatial series describing an animal's position.
type Position struct {
	Name   string
	Series []*SpatialSeries
}

func (p *Position) ObjectName() string    { return p.Name }
func (p *Position) NeurodataType() string { return "Position" }

// Add appends a spatial series. Series names must be unique.
func (p *Position) Add(ss *SpatialSeries) error {
	if p.Get(ss.Name) != nil {
		return fmt.Errorf("spatial series %q already exists in %q", ss.Name, p.Name)
	}
	p.Series = append(p.Series, ss)
	return nil
}

// Get returns the named spatial series or nil.
func (p *Position) Get(name string) *SpatialSeries {
	for _, ss := range p.Series {
		if ss.Name == name {
			return ss
		}
	}
	return nil
}

// BehavioralEvents holds event time series, e.g. licks.
type BehavioralEvents struct {
	Name   string
	Series []*TimeSeries
}

func (b *BehavioralEvents) ObjectName() string    { return b.Name }
func (b *BehavioralEvents) NeurodataType() string { return "BehavioralEvents" }

// Get returns the named time series or nil.
func (b *BehavioralEvents) Get(name string) *TimeSeries {
	for _, ts := range b.Series {
		if ts.Name == name {
			return ts
		}
	}
	return nil
}

// Electrode is one row of the electrode table.
type Electrode struct {
	ID        int
	X, Y, Z   float64 // Stereotaxic coordinates, NaN if unknown
	Imp       float64 // Impedance in ohms, NaN if unknown
	Location  string
	Filtering string
	Group     *ElectrodeGroup
	Values    []float64 // One value per custom column
}

// ElectrodeTable describes every recording contact.
type ElectrodeTable struct {
	Columns []Column
	Rows    []Electrode
}

// AddColumn declares a custom electrode column.
func (t *ElectrodeTable) AddColumn(name, description string) error {
	if len(t.Rows) > 0 {
		return fmt.Errorf("cannot add electrode column %q to non-empty table", name)
	}
	t.Columns = append(t.Columns, Column{Name: name, Description: description})
	return nil
}

// AddRow appends an electrode.
func (t *ElectrodeTable) AddRow(e Electrode) error {
	if len(e.Values) != len(t.Columns) {
		return fmt.Errorf("expected %d column values, got %d", len(t.Columns), len(e.Values))
	}
	if e.Group == nil {
		return fmt.Errorf("electrode %d has no group", e.ID)
	}
	t.Rows = append(t.Rows, e)
	return nil
}

// Unit is one sorted unit and its spike train.
type Unit struct {
	ID             int
	SpikeTimes     []float64
	WaveformMean   [][]float64 // Samples x channels, nil if not recorded
	ElectrodeGroup *ElectrodeGroup
	Values         []float64 // One value per custom column
}

// Units is a table of sorted units.
type Units struct {
	Name        string
	Description string
	Columns     []Column
	Rows        []Unit
}

func (u *Units) ObjectName() string    { return u.Name }
func (u *Units) NeurodataType() string { return "Units" }

// NewUnits returns an empty units table.
func NewUnits(name, description string) *Units {
	return &Units{Name: name, Description: description}
}

// AddColumn declares a custom unit column.
func (u *Units) AddColumn(name, description string) error {
	if len(u.Rows) > 0 {
		return fmt.Errorf("cannot add column %q to non-empty table %q", name, u.Name)
	}
	u.Columns = append(u.Columns, Column{Name: name, Description: description})
	return nil
}

// AddRow appends a unit. Unit IDs must be unique and all waveforms must
// share one shape.
func (u *Units) AddRow(unit Unit) error {
	if len(unit.Values) != len(u.Columns) {
		return fmt.Errorf("expected %d column values, got %d", len(u.Columns), len(unit.Values))
	}
	for _, r := range u.Rows {
		if r.ID == unit.ID {
			return fmt.Errorf("duplicate unit id %d in %q", unit.ID, u.Name)
		}
	}
	if len(u.Rows) > 0 {
		samples, channels := waveformShape(u.Rows[0].WaveformMean)
		s, c := waveformShape(unit.WaveformMean)
		if s != samples || c != channels {
			return fmt.Errorf("unit %d waveform shape %dx%d differs from %dx%d", unit.ID, s, c, samples, channels)
		}
	}
	u.Rows = append(u.Rows, unit)
	return nil
}

// Get returns the unit with the given id.
func (u *Units) Get(id int) (*Unit, bool) {
	for i := range u.Rows {
		if u.Rows[i].ID == id {
			return &u.Rows[i], true
		}
	}
	return nil, false
}

// Value returns the value of a custom column for the given row. It reports
// false if the row or column does not exist.
func (u *Units) Value(row int, column string) (float64, bool) {
	if row < 0 || row >= len(u.Rows) {
		return 0, false
	}
	for i, c := range u.Columns {
		if c.Name == column {
			return u.Rows[row].Values[i], true
		}
	}
	return 0, false
}

func waveformShape(w [][]float64) (samples, channels int) {
	if len(w) == 0 {
		return 0, 0
	}
	return len(w), len(w[0])
}

// ProcessingModule groups derived data of one kind.
type ProcessingModule struct {
	Name        string
	Description string
	Interfaces  []DataInterface
}

// Add appends a data interface to the module.
func (m *ProcessingModule) Add(di DataInterface) {
	m.Interfaces = append(m.Interfaces, di)
}

// Get returns the named data interface or nil.
func (m *ProcessingModule) Get(name string) DataInterface {
	for _, di := range m.Interfaces {
		if di.ObjectName() == name {
			return di
		}
	}
	return nil
}

// AddAcquisition adds a raw acquired data object.
func (f *File) AddAcquisition(di DataInterface) {
	f.Acquisition = append(f.Acquisition, di)
}

// GetAcquisition returns the named acquisition object or nil.
func (f *File) GetAcquisition(name string) DataInterface {
	for _, di := range f.Acquisition {
		if di.ObjectName() == name {
			return di
		}
	}
	return nil
}

// CreateDevice registers a recording device.
func (f *File) CreateDevice(name, description string) *Device {
	d := &Device{Name: name, Description: description}
	f.Devices = append(f.Devices, d)
	return d
}

// CreateElectrodeGroup registers an electrode group on a device.
func (f *File) CreateElectrodeGroup(name, description, location string, device *Device) *ElectrodeGroup {
	g := &ElectrodeGroup{Name: name, Description: description, Location: location, Device: device}
	f.ElectrodeGroups = append(f.ElectrodeGroups, g)
	return g
}

// AddProcessingModule adds a processing module.
func (f *File) AddProcessingModule(m *ProcessingModule) {
	f.Processing = append(f.Processing, m)
}

// GetProcessingModule returns the named processing module or nil.
func (f *File) GetProcessingModule(name string) *ProcessingModule {
	for _, m := range f.Processing {
		if m.Name == name {
			return m
		}
	}
	return nil
}
