// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package convert turns a MATLAB recording session into an NWB file.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/OpenPSG/nwb"
	"github.com/OpenPSG/nwb/internal/logging"
	"github.com/OpenPSG/nwb/mat"
)

// Convert loads the session at opts.Input, builds the NWB file in memory and
// writes it to opts.Output. Any failure aborts the conversion and no output
// file is left behind.
func Convert(ctx context.Context, opts Options, logger *slog.Logger) (*nwb.File, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	logParameters(logger, opts)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := mat.Open(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", opts.Input, err)
	}
	logger.Debug("loaded session", "variables", session.Fields)

	file, err := Build(ctx, session, opts, logger)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := Write(opts.Output, file); err != nil {
		return nil, err
	}
	logger.Info("wrote nwb file", "output", opts.Output, "identifier", file.Identifier)

	return file, nil
}

// Build assembles the complete NWB file from a loaded session.
func Build(ctx context.Context, s *mat.Session, opts Options, logger *slog.Logger) (*nwb.File, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	file, err := NewFile(opts.Metadata, opts.Now)
	if err != nil {
		return nil, err
	}
	logger.Debug("created file", "identifier", file.Identifier, "session_start_time", file.SessionStartTime)

	var group *nwb.ElectrodeGroup
	stages := []struct {
		name string
		run  func() error
	}{
		{"trials", func() error {
			trials, err := buildTrials(s)
			if err != nil {
				return err
			}
			file.Trials = trials
			logger.Info("added trials", "count", len(trials.Rows))
			return nil
		}},
		{"position", func() error {
			position, err := buildPosition(s)
			if err != nil {
				return err
			}
			file.AddAcquisition(position)
			logger.Info("added position", "samples", len(s.PositionTime))
			return nil
		}},
		{"licks", func() error {
			licks, err := buildLicks(s)
			if err != nil {
				return err
			}
			file.AddAcquisition(licks)
			logger.Info("added lick events", "count", len(s.LickT))
			return nil
		}},
		{"electrodes", func() error {
			group = addProbe(file)
			electrodes, err := buildElectrodes(s.Sorting, group)
			if err != nil {
				return err
			}
			file.Electrodes = electrodes
			logger.Info("added electrodes", "count", len(electrodes.Rows), "high_pass_filtered", s.Sorting.HighPassFiltered)
			return nil
		}},
		{"units", func() error {
			units, err := buildUnits(s.Sorting, group, opts.StrictClusterIDs, logger)
			if err != nil {
				return err
			}
			file.Units = units
			logger.Info("added units", "count", len(units.Rows))
			return nil
		}},
		{"template units", func() error {
			units, err := buildTemplateUnits(s.Sorting, group)
			if err != nil {
				return err
			}
			module := &nwb.ProcessingModule{Name: templateUnitsName, Description: templateUnitsDescription}
			module.Add(units)
			file.AddProcessingModule(module)
			logger.Info("added template units", "count", len(units.Rows))
			return nil
		}},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stage.run(); err != nil {
			return nil, fmt.Errorf("error building %s: %w", stage.name, err)
		}
	}

	return file, nil
}

// Write serializes file to path in one pass, replacing any existing file.
// The file is always closed, and removed again if anything failed.
func Write(path string, file *nwb.File) (err error) {
	w, err := nwb.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, w.Close())
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	return w.Write(file)
}
