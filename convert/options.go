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
	"errors"
	"time"
)

var (
	// ErrIndexOutOfRange is returned when a trial, cluster or template id has
	// no corresponding entry in a per-id source array.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNonContiguousIDs is returned in strict mode when the curated cluster
	// ids are not exactly 0..n-1.
	ErrNonContiguousIDs = errors.New("cluster ids are not contiguous from zero")
)

// Metadata is the descriptive information attached to the output file.
type Metadata struct {
	SubjectID          string    // Unique id of the animal
	SubjectDateOfBirth time.Time // Birth date of the animal
	SubjectDescription string    // What distinguishes the animal from others of its species
	SubjectSex         string    // Passed through as given, e.g. "Male"
	SubjectSpecies     string    // Passed through as given, e.g. "Mus musculus"
	SubjectWeight      string    // Weight around the time of the session, with unit

	SessionID             string    // Human readable session id
	SessionDescription    string    // Free text description of the session
	SessionStartTime      time.Time // When the session started
	Experimenter          string    // Who ran the experiment
	ExperimentDescription string    // What happened during the experiment
	Institution           string    // Where the experiment was performed
	Lab                   string    // Lab the experiment was performed in

	// SessionLocation is the zone of the recording rig. Session start time
	// and birth date are expressed in it.
	SessionLocation *time.Location
	// FileCreateLocation is the zone the file creation date is expressed in.
	FileCreateLocation *time.Location
}

// Options configures one conversion run.
type Options struct {
	Input    string // MATLAB v7.3 session file
	Output   string // NWB file to create, overwritten if it exists
	Metadata Metadata

	// StrictClusterIDs rejects curated cluster ids that are not 0..n-1
	// instead of logging a warning.
	StrictClusterIDs bool

	// Now returns the file creation time. Defaults to time.Now.
	Now func() time.Time
}
