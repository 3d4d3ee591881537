// Copyright 2020 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for kcounter. Each setting that can be changed from the command line must
// be added to Config, with a "flag" tag naming the flag.
package config

import (
	"fmt"
	"reflect"

	"gvisor.dev/kcounter/pkg/log"
)

// Config holds configuration that is not part of the kernel itself.
type Config struct {
	// RootDir is the runtime root directory. It holds the instance lock.
	RootDir string `flag:"root"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat LogFormat `flag:"log-format"`

	// DebugLog is the path to log debug information to, if not empty. It may
	// name a directory and contain %TIMESTAMP% and %COMMAND%.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat LogFormat `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Workers is the number of workers in the pool run at startup.
	Workers int `flag:"workers"`

	// Iterations is the number of increments each worker performs.
	Iterations int `flag:"iterations"`

	// MaxThreads bounds the number of workers running at once across all
	// pools.
	MaxThreads int64 `flag:"max-threads"`

	// MetricServer, if set, is the address the run command serves metrics on.
	MetricServer string `flag:"metric-server"`

	// ConfigFile is a TOML or YAML file whose [flags] table supplies values
	// for flags not set on the command line.
	ConfigFile string `flag:"config"`
}

func (c *Config) validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("--workers must be non-negative, got %d", c.Workers)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("--iterations must be non-negative, got %d", c.Iterations)
	}
	if c.MaxThreads <= 0 {
		return fmt.Errorf("--max-threads must be positive, got %d", c.MaxThreads)
	}
	if c.Workers > 0 && int64(c.Workers) > c.MaxThreads {
		return fmt.Errorf("--workers=%d exceeds --max-threads=%d", c.Workers, c.MaxThreads)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("Config.%s (--%s): %v", f.Name, name, obj.Field(i).Interface())
		}
	}
	log.Infof("Non-default flags: %v", c.ToFlags())
}

// LogFormat is the format of log output.
type LogFormat string

const (
	// LogFormatText is glog-style text.
	LogFormatText LogFormat = "text"

	// LogFormatJSON is one JSON object per line.
	LogFormatJSON LogFormat = "json"

	// LogFormatLogrus is logrus' logfmt-style text.
	LogFormatLogrus LogFormat = "logrus"
)

func logFormatPtr(f LogFormat) *LogFormat {
	return &f
}

// Set implements flag.Value.Set.
func (f *LogFormat) Set(v string) error {
	switch LogFormat(v) {
	case LogFormatText, LogFormatJSON, LogFormatLogrus:
		*f = LogFormat(v)
		return nil
	}
	return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", v)
}

// Get implements flag.Getter.Get.
func (f *LogFormat) Get() any {
	return *f
}

// String implements flag.Value.String.
func (f LogFormat) String() string {
	return string(f)
}
