// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes at which a file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept. 0 keeps them forever.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool

	// LocalTime stamps backups in local time instead of UTC.
	LocalTime bool
}

var defaultRotation = RotationConfig{
	MaxSizeMB:  100,
	MaxBackups: 5,
}

// newRotatingWriter returns a size-rotated file writer, creating the
// directory if needed.
func newRotatingWriter(filename string, cfg RotationConfig) *lumberjack.Logger {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultRotation.MaxSizeMB
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}
}
