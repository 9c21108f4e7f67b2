// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config loads the description of a conversion run from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // zones must resolve on hosts without a zoneinfo database

	"github.com/OpenPSG/nwb/convert"
	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid is returned when a configuration cannot be used.
var ErrConfigInvalid = errors.New("invalid configuration")

// Config describes one conversion run.
type Config struct {
	// Input is the MATLAB v7.3 session file.
	Input string `yaml:"input"`

	// Output is the NWB file to write. An existing file is overwritten.
	Output string `yaml:"output"`

	// FileCreateTimezone is the IANA zone the file creation date is
	// recorded in.
	FileCreateTimezone string `yaml:"file_create_timezone"`

	// StrictClusterIDs rejects curated cluster ids that are not 0..n-1.
	StrictClusterIDs bool `yaml:"strict_cluster_ids"`

	Session SessionConfig `yaml:"session"`
	Subject SubjectConfig `yaml:"subject"`
	Logging LoggingConfig `yaml:"logging"`
}

// SessionConfig describes the recording session.
type SessionConfig struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// StartTime is RFC 3339, or a local time ("2006-01-02T15:04:05" or
	// "2006-01-02") in Timezone.
	StartTime string `yaml:"start_time"`

	// Timezone is the IANA zone of the recording rig.
	Timezone string `yaml:"timezone"`

	Experimenter          string `yaml:"experimenter"`
	ExperimentDescription string `yaml:"experiment_description"`
	Institution           string `yaml:"institution"`
	Lab                   string `yaml:"lab"`
}

// SubjectConfig describes the animal.
type SubjectConfig struct {
	ID          string `yaml:"id"`
	DateOfBirth string `yaml:"date_of_birth"` // Same formats as SessionConfig.StartTime
	Description string `yaml:"description"`
	Sex         string `yaml:"sex"`
	Species     string `yaml:"species"`
	Weight      string `yaml:"weight"`
}

// LoggingConfig configures diagnostics.
type LoggingConfig struct {
	// Level is "debug", "info" (default), "warn" or "error".
	Level string `yaml:"level"`
	// Format is "text" (default) or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration of the baseline session the converter
// was written for.
func Default() *Config {
	return &Config{
		Input:              "npI5_0417_baseline_1.mat",
		Output:             "npI5_0417_baseline_1.nwb",
		FileCreateTimezone: "US/Eastern",
		Session: SessionConfig{
			ID:          "npI5_0417_baseline_1",
			Description: "demonstrate NWBFile basics",
			StartTime:   "2018-04-03T11:00:00",
			Timezone:    "US/Pacific",
		},
		Subject: SubjectConfig{
			DateOfBirth: "2019-01-01",
			Weight:      "11",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads a configuration, filling unset fields from Default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, nil
}

// Validate checks that the configuration can be turned into conversion options.
func (c *Config) Validate() error {
	_, err := c.Options()
	return err
}

// Options resolves time zones and timestamps into conversion options.
func (c *Config) Options() (convert.Options, error) {
	if c.Input == "" {
		return convert.Options{}, fmt.Errorf("%w: input is required", ErrConfigInvalid)
	}
	if c.Output == "" {
		return convert.Options{}, fmt.Errorf("%w: output is required", ErrConfigInvalid)
	}

	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return convert.Options{}, fmt.Errorf("%w: invalid log level %q (valid: debug, info, warn, error)", ErrConfigInvalid, c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return convert.Options{}, fmt.Errorf("%w: invalid log format %q (valid: text, json)", ErrConfigInvalid, c.Logging.Format)
	}

	sessionLoc, err := loadLocation("session.timezone", c.Session.Timezone)
	if err != nil {
		return convert.Options{}, err
	}
	createLoc, err := loadLocation("file_create_timezone", c.FileCreateTimezone)
	if err != nil {
		return convert.Options{}, err
	}

	start, err := ParseTime(c.Session.StartTime, sessionLoc)
	if err != nil {
		return convert.Options{}, fmt.Errorf("%w: session.start_time: %w", ErrConfigInvalid, err)
	}
	if start.IsZero() {
		return convert.Options{}, fmt.Errorf("%w: session.start_time is required", ErrConfigInvalid)
	}
	birth, err := ParseTime(c.Subject.DateOfBirth, sessionLoc)
	if err != nil {
		return convert.Options{}, fmt.Errorf("%w: subject.date_of_birth: %w", ErrConfigInvalid, err)
	}

	return convert.Options{
		Input:            c.Input,
		Output:           c.Output,
		StrictClusterIDs: c.StrictClusterIDs,
		Metadata: convert.Metadata{
			SubjectID:             c.Subject.ID,
			SubjectDateOfBirth:    birth,
			SubjectDescription:    c.Subject.Description,
			SubjectSex:            c.Subject.Sex,
			SubjectSpecies:        c.Subject.Species,
			SubjectWeight:         c.Subject.Weight,
			SessionID:             c.Session.ID,
			SessionDescription:    c.Session.Description,
			SessionStartTime:      start,
			Experimenter:          c.Session.Experimenter,
			ExperimentDescription: c.Session.ExperimentDescription,
			Institution:           c.Session.Institution,
			Lab:                   c.Session.Lab,
			SessionLocation:       sessionLoc,
			FileCreateLocation:    createLoc,
		},
	}, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an RFC 3339 timestamp, or a local timestamp which is then
// interpreted in loc. An empty string yields the zero time.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", value)
}

func loadLocation(field, name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, field, err)
	}
	return loc, nil
}
