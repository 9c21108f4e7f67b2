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
	"strings"

	"gonum.org/v1/hdf5"
)

// location is anything that can hold groups and datasets (a file or a group).
type location interface {
	CreateGroup(name string) (*hdf5.Group, error)
	CreateDataset(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Dataset, error)
}

// attributer is anything that can carry attributes (a group or a dataset).
type attributer interface {
	CreateAttribute(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Attribute, error)
}

// attr is a named attribute value: a string, []string, float64 or int32.
type attr struct {
	name  string
	value any
}

// fixedString returns a fixed length, NUL terminated string type wide enough
// for the longest value, together with the packed values.
func fixedString(values ...string) (*hdf5.Datatype, []byte, error) {
	width := 1
	for _, v := range values {
		if len(v)+1 > width {
			width = len(v) + 1
		}
	}

	dtype, err := hdf5.T_C_S1.Copy()
	if err != nil {
		return nil, nil, err
	}
	if err := dtype.SetSize(width); err != nil {
		_ = dtype.Close()
		return nil, nil, err
	}

	buf := make([]byte, width*len(values))
	for i, v := range values {
		copy(buf[i*width:], v)
	}
	return dtype, buf, nil
}

func writeAttrs(obj attributer, attrs ...attr) error {
	for _, a := range attrs {
		var err error
		switch v := a.value.(type) {
		case string:
			err = writeStringAttr(obj, a.name, v)
		case []string:
			err = writeStringsAttr(obj, a.name, v)
		case float64:
			err = writeScalarAttr(obj, a.name, hdf5.T_NATIVE_DOUBLE, &v)
		case int32:
			err = writeScalarAttr(obj, a.name, hdf5.T_NATIVE_INT32, &v)
		default:
			err = fmt.Errorf("unsupported attribute type %T", a.value)
		}
		if err != nil {
			return fmt.Errorf("error writing attribute %q: %w", a.name, err)
		}
	}
	return nil
}

func writeScalarAttr(obj attributer, name string, dtype *hdf5.Datatype, value any) error {
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return err
	}
	defer space.Close()

	a, err := obj.CreateAttribute(name, dtype, space)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Write(value, dtype)
}

func writeStringAttr(obj attributer, name, value string) error {
	dtype, buf, err := fixedString(value)
	if err != nil {
		return err
	}
	defer dtype.Close()

	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return err
	}
	defer space.Close()

	a, err := obj.CreateAttribute(name, dtype, space)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Write(&buf, dtype)
}

// createGroup creates a group and tags it with the given attributes.
func createGroup(loc location, name string, attrs ...attr) (*hdf5.Group, error) {
	g, err := loc.CreateGroup(name)
	if err != nil {
		return nil, fmt.Errorf("error creating group %q: %w", name, err)
	}
	if err := writeAttrs(g, attrs...); err != nil {
		_ = g.Close()
		return nil, err
	}
	return g, nil
}

// writeDataset creates a dataset, writes data into it and tags it with the
// given attributes. data must point to a slice matching dtype.
func writeDataset(loc location, name string, dtype *hdf5.Datatype, dims []uint, data any, attrs ...attr) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("error creating dataspace for %q: %w", name, err)
	}
	defer space.Close()

	ds, err := loc.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("error creating dataset %q: %w", name, err)
	}
	defer ds.Close()

	// Empty datasets have no buffer to write.
	if product(dims) > 0 {
		if err := ds.Write(data); err != nil {
			return fmt.Errorf("error writing dataset %q: %w", name, err)
		}
	}

	return writeAttrs(ds, attrs...)
}

func writeFloats(loc location, name string, data []float64, attrs ...attr) error {
	return writeDataset(loc, name, hdf5.T_NATIVE_DOUBLE, []uint{uint(len(data))}, &data, attrs...)
}

func writeInts(loc location, name string, data []int64, attrs ...attr) error {
	return writeDataset(loc, name, hdf5.T_NATIVE_INT64, []uint{uint(len(data))}, &data, attrs...)
}

func writeUints(loc location, name string, data []uint64, attrs ...attr) error {
	return writeDataset(loc, name, hdf5.T_NATIVE_UINT64, []uint{uint(len(data))}, &data, attrs...)
}

func writeStrings(loc location, name string, values []string, attrs ...attr) error {
	dtype, buf, err := fixedString(values...)
	if err != nil {
		return fmt.Errorf("error creating string type for %q: %w", name, err)
	}
	defer dtype.Close()

	return writeDataset(loc, name, dtype, []uint{uint(len(values))}, &buf, attrs...)
}

// writeString writes a scalar string dataset.
func writeString(loc location, name, value string, attrs ...attr) error {
	dtype, buf, err := fixedString(value)
	if err != nil {
		return fmt.Errorf("error creating string type for %q: %w", name, err)
	}
	defer dtype.Close()

	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return fmt.Errorf("error creating dataspace for %q: %w", name, err)
	}
	defer space.Close()

	ds, err := loc.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("error creating dataset %q: %w", name, err)
	}
	defer ds.Close()

	if err := ds.Write(&buf); err != nil {
		return fmt.Errorf("error writing dataset %q: %w", name, err)
	}

	return writeAttrs(ds, attrs...)
}

// readFloats reads a numeric dataset of any supported type as float64.
func readFloats(ds *hdf5.Dataset) ([]float64, error) {
	space := ds.Space()
	defer space.Close()
	n := space.SimpleExtentNPoints()

	dtype, err := ds.Datatype()
	if err != nil {
		return nil, err
	}
	defer dtype.Close()

	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}

	switch {
	case dtype.Equal(hdf5.T_NATIVE_DOUBLE):
		if err := ds.Read(&out); err != nil {
			return nil, err
		}
	case dtype.Equal(hdf5.T_NATIVE_INT64):
		buf := make([]int64, n)
		if err := ds.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case dtype.Equal(hdf5.T_NATIVE_UINT64):
		buf := make([]uint64, n)
		if err := ds.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported datatype for %q", ds.Name())
	}

	return out, nil
}

// readStrings reads a fixed length string dataset, scalar or 1-D.
func readStrings(ds *hdf5.Dataset) ([]string, error) {
	space := ds.Space()
	defer space.Close()
	n := space.SimpleExtentNPoints()

	dtype, err := ds.Datatype()
	if err != nil {
		return nil, err
	}
	defer dtype.Close()

	width := int(dtype.Size())
	buf := make([]byte, width*n)
	if n > 0 {
		if err := ds.Read(&buf); err != nil {
			return nil, err
		}
	}

	out := make([]string, n)
	for i := range out {
		out[i] = strings.TrimRight(string(buf[i*width:(i+1)*width]), "\x00")
	}
	return out, nil
}

func writeStringsAttr(obj attributer, name string, values []string) error {
	dtype, buf, err := fixedString(values...)
	if err != nil {
		return err
	}
	defer dtype.Close()

	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(values))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()

	a, err := obj.CreateAttribute(name, dtype, space)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Write(&buf, dtype)
}

func product(dims []uint) uint {
	p := uint(1)
	for _, d := range dims {
		p *= d
	}
	return p
}
