// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package mat loads a recording session from a MATLAB v7.3 (HDF5 based) file.
package mat

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gonum.org/v1/hdf5"
)

var (
	// ErrOpen is returned when the session file is missing or unreadable.
	ErrOpen = errors.New("cannot open session file")
	// ErrSchemaMismatch is returned when a required variable is missing or has the wrong shape.
	ErrSchemaMismatch = errors.New("session file schema mismatch")
)

// Names of the variables read from the file.
const (
	fieldTrial         = "trial"
	fieldPositionTime  = "post"
	fieldPositionX     = "posx"
	fieldTrialContrast = "trial_contrast"
	fieldTrialGain     = "trial_gain"
	fieldLickX         = "lickx"
	fieldLickT         = "lickt"
	fieldSorting       = "sp"

	fieldXCoords        = "xcoords"
	fieldYCoords        = "ycoords"
	fieldHPFiltered     = "hp_filtered"
	fieldClusterIDs     = "cids"
	fieldClusterQuality = "cgs"
	fieldSpikeTimes     = "st"
	fieldSpikeClusters  = "clu"
	fieldTemplates      = "temps"
	fieldSpikeTemplates = "spikeTemplates"

	attrEmpty = "MATLAB_empty"
)

// Open reads a session from the MATLAB v7.3 file at path.
func Open(path string) (*Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a MATLAB v7.3 file: %w", ErrOpen, path, err)
	}
	defer f.Close()

	root, err := f.OpenGroup("/")
	if err != nil {
		return nil, fmt.Errorf("%w: error opening root group: %w", ErrOpen, err)
	}
	defer root.Close()

	return load(root)
}

func load(root *hdf5.Group) (*Session, error) {
	fields, err := variableNames(root)
	if err != nil {
		return nil, fmt.Errorf("%w: error listing variables: %w", ErrOpen, err)
	}

	s := &Session{Fields: fields}

	if s.Trial, err = readInts(root, fieldTrial); err != nil {
		return nil, err
	}
	for _, v := range []struct {
		name string
		dst  *[]float64
	}{
		{fieldPositionTime, &s.PositionTime},
		{fieldPositionX, &s.PositionX},
		{fieldTrialContrast, &s.TrialContrast},
		{fieldTrialGain, &s.TrialGain},
		{fieldLickX, &s.LickX},
		{fieldLickT, &s.LickT},
	} {
		if *v.dst, _, err = readVector(root, v.name); err != nil {
			return nil, err
		}
	}

	if !root.LinkExists(fieldSorting) {
		return nil, fmt.Errorf("%w: missing variable %q", ErrSchemaMismatch, fieldSorting)
	}
	sp, err := root.OpenGroup(fieldSorting)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a struct: %w", ErrSchemaMismatch, fieldSorting, err)
	}
	defer sp.Close()

	if s.Sorting, err = loadSorting(sp); err != nil {
		return nil, err
	}

	return s, nil
}

func loadSorting(sp *hdf5.Group) (Sorting, error) {
	var (
		so  Sorting
		err error
	)

	for _, v := range []struct {
		name string
		dst  *[]float64
	}{
		{fieldXCoords, &so.XCoords},
		{fieldYCoords, &so.YCoords},
		{fieldSpikeTimes, &so.SpikeTimes},
	} {
		if *v.dst, _, err = readVector(sp, v.name); err != nil {
			return so, err
		}
	}

	for _, v := range []struct {
		name string
		dst  *[]int
	}{
		{fieldClusterIDs, &so.ClusterIDs},
		{fieldClusterQuality, &so.ClusterQuality},
		{fieldSpikeClusters, &so.SpikeClusters},
		{fieldSpikeTemplates, &so.SpikeTemplates},
	} {
		if *v.dst, err = readInts(sp, v.name); err != nil {
			return so, err
		}
	}

	flag, _, err := readVector(sp, fieldHPFiltered)
	if err != nil {
		return so, err
	}
	if len(flag) == 0 {
		return so, fmt.Errorf("%w: %q is empty", ErrSchemaMismatch, qualified(sp, fieldHPFiltered))
	}
	so.HighPassFiltered = flag[0] != 0

	if so.Templates, err = readTemplates(sp, fieldTemplates); err != nil {
		return so, err
	}

	return so, nil
}

// readTemplates reads the nTemplates x nSamples x nChannels MATLAB array.
// HDF5 stores MATLAB arrays with their dimensions reversed.
func readTemplates(g *hdf5.Group, name string) (Templates, error) {
	flat, dims, err := readVector(g, name)
	if err != nil {
		return Templates{}, err
	}

	var count, samples, channels int
	switch len(dims) {
	case 3:
		channels, samples, count = int(dims[0]), int(dims[1]), int(dims[2])
	case 2:
		// MATLAB drops a trailing singleton channel dimension.
		channels, samples, count = 1, int(dims[0]), int(dims[1])
	default:
		return Templates{}, fmt.Errorf("%w: %q has rank %d, expected 3", ErrSchemaMismatch, qualified(g, name), len(dims))
	}

	t := Templates{
		Count:    count,
		Samples:  samples,
		Channels: channels,
		Data:     make([]float64, len(flat)),
	}
	for c := 0; c < channels; c++ {
		for s := 0; s < samples; s++ {
			for i := 0; i < count; i++ {
				t.Data[(i*samples+s)*channels+c] = flat[(c*samples+s)*count+i]
			}
		}
	}

	return t, nil
}

// readVector reads a numeric variable as a flat float64 slice, along with its
// HDF5 dimensions.
func readVector(g *hdf5.Group, name string) ([]float64, []uint, error) {
	label := qualified(g, name)
	if !g.LinkExists(name) {
		return nil, nil, fmt.Errorf("%w: missing variable %q", ErrSchemaMismatch, label)
	}

	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q is not an array: %w", ErrSchemaMismatch, label, err)
	}
	defer ds.Close()

	space := ds.Space()
	dims, _, err := space.SimpleExtentDims()
	n := space.SimpleExtentNPoints()
	_ = space.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: error reading shape of %q: %w", ErrSchemaMismatch, label, err)
	}

	dtype, err := ds.Datatype()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: error reading type of %q: %w", ErrSchemaMismatch, label, err)
	}
	defer dtype.Close()

	// Empty arrays are stored as their MATLAB shape, flagged MATLAB_empty.
	if isEmpty(ds) {
		shape, err := readAs[uint64](ds, n)
		if err != nil {
			return nil, nil, fmt.Errorf("error reading %q: %w", label, err)
		}
		dims := make([]uint, len(shape))
		for i, d := range shape {
			dims[len(shape)-1-i] = uint(d)
		}
		return []float64{}, dims, nil
	}

	var v []float64
	switch {
	case dtype.Equal(hdf5.T_NATIVE_DOUBLE):
		v, err = readAs[float64](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_FLOAT):
		v, err = readAs[float32](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT8):
		v, err = readAs[int8](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT8):
		// logical arrays are stored as uint8
		v, err = readAs[uint8](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT16):
		v, err = readAs[int16](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT16):
		v, err = readAs[uint16](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT32):
		v, err = readAs[int32](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT32):
		v, err = readAs[uint32](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_INT64):
		v, err = readAs[int64](ds, n)
	case dtype.Equal(hdf5.T_NATIVE_UINT64):
		v, err = readAs[uint64](ds, n)
	default:
		return nil, nil, fmt.Errorf("%w: %q is not numeric", ErrSchemaMismatch, label)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error reading %q: %w", label, err)
	}

	return v, dims, nil
}

// readInts reads a numeric variable whose values must all be integers.
func readInts(g *hdf5.Group, name string) ([]int, error) {
	v, _, err := readVector(g, name)
	if err != nil {
		return nil, err
	}

	out := make([]int, len(v))
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %q element %d is not an integer: %v", ErrSchemaMismatch, qualified(g, name), i, f)
		}
		if math.Abs(f) > maxExactInt {
			return nil, fmt.Errorf("%w: %q element %d is out of range: %v", ErrSchemaMismatch, qualified(g, name), i, f)
		}
		out[i] = int(f)
	}
	return out, nil
}

// maxExactInt is the largest magnitude at which every integer is exactly
// representable as a float64.
const maxExactInt = 1 << 53

// isEmpty reports whether MATLAB flagged the dataset as an empty array.
func isEmpty(ds *hdf5.Dataset) bool {
	a, err := ds.OpenAttribute(attrEmpty)
	if err != nil {
		return false
	}
	defer a.Close()

	flag := make([]uint8, 1)
	if err := a.Read(&flag, hdf5.T_NATIVE_UINT8); err != nil {
		return false
	}
	return flag[0] != 0
}

type number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

func readAs[T number](ds *hdf5.Dataset, n int) ([]float64, error) {
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}

	buf := make([]T, n)
	if err := ds.Read(&buf); err != nil {
		return nil, err
	}
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out, nil
}

// variableNames lists the top level MATLAB variables, skipping the
// bookkeeping groups MATLAB adds (#refs#, #subsystem#).
func variableNames(root *hdf5.Group) ([]string, error) {
	n, err := root.NumObjects()
	if err != nil {
		return nil, err
	}

	var names []string
	for i := uint(0); i < n; i++ {
		name, err := root.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, "#") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// qualified returns a MATLAB style name for a variable, e.g. "sp.cids".
func qualified(g *hdf5.Group, name string) string {
	parent := strings.Trim(g.Name(), "/")
	if parent == "" {
		return name
	}
	return parent + "." + name
}
