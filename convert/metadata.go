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
	"strings"
	"time"

	"github.com/OpenPSG/nwb"
	"github.com/google/uuid"
)

// NewFile creates an empty NWB file carrying the session and subject
// metadata and a freshly generated identifier. Field contents are not
// validated.
func NewFile(meta Metadata, now func() time.Time) (*nwb.File, error) {
	if now == nil {
		now = time.Now
	}

	id, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("error generating identifier: %w", err)
	}

	start := inZone(meta.SessionStartTime, meta.SessionLocation)

	return &nwb.File{
		Identifier:              strings.ReplaceAll(id.String(), "-", ""),
		SessionDescription:      meta.SessionDescription,
		SessionStartTime:        start,
		TimestampsReferenceTime: start,
		FileCreateDate:          inZone(now(), meta.FileCreateLocation),
		SessionID:               meta.SessionID,
		Experimenter:            meta.Experimenter,
		ExperimentDescription:   meta.ExperimentDescription,
		Institution:             meta.Institution,
		Lab:                     meta.Lab,
		Subject: &nwb.Subject{
			SubjectID:   meta.SubjectID,
			Description: meta.SubjectDescription,
			Species:     meta.SubjectSpecies,
			Sex:         meta.SubjectSex,
			Weight:      meta.SubjectWeight,
			DateOfBirth: inZone(meta.SubjectDateOfBirth, meta.SessionLocation),
		},
	}, nil
}

func inZone(t time.Time, loc *time.Location) time.Time {
	if loc == nil || t.IsZero() {
		return t
	}
	return t.In(loc)
}

// logParameters records every conversion parameter.
func logParameters(logger *slog.Logger, opts Options) {
	m := opts.Metadata
	logger.Info("converting session",
		"input", opts.Input,
		"output", opts.Output,
		"session_id", m.SessionID)
	logger.Debug("subject",
		"subject_id", m.SubjectID,
		"date_of_birth", m.SubjectDateOfBirth,
		"description", m.SubjectDescription,
		"sex", m.SubjectSex,
		"species", m.SubjectSpecies,
		"weight", m.SubjectWeight)
	logger.Debug("session",
		"session_start_time", m.SessionStartTime,
		"session_description", m.SessionDescription,
		"experimenter", m.Experimenter,
		"experiment_description", m.ExperimentDescription,
		"institution", m.Institution,
		"lab", m.Lab,
		"session_zone", zoneName(m.SessionLocation),
		"file_create_zone", zoneName(m.FileCreateLocation))
}

func zoneName(loc *time.Location) string {
	if loc == nil {
		return ""
	}
	return loc.String()
}
