// Copyright 2023 The gVisor Authors.
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

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// file is the layout of a configuration file:
//
//	[flags]
//	  workers = 8
//	  log-format = "json"
type file struct {
	Flags map[string]any `toml:"flags" yaml:"flags"`
}

func readFile(path string) (*file, error) {
	var f file
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension %q, must be .toml, .yaml, or .yml", ext)
	}
	return &f, nil
}

// LoadFile applies the [flags] table of the file at path to flagSet. Flags
// already set on the command line keep their value.
func LoadFile(flagSet *flag.FlagSet, path string) error {
	f, err := readFile(path)
	if err != nil {
		return err
	}

	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	names := make([]string, 0, len(f.Flags))
	for name := range f.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "config" {
			return fmt.Errorf("%s: flag %q cannot be set from a config file", path, name)
		}
		if flagSet.Lookup(name) == nil {
			return fmt.Errorf("%s: unknown flag %q", path, name)
		}
		if set[name] {
			continue
		}
		if err := flagSet.Set(name, fmt.Sprint(f.Flags[name])); err != nil {
			return fmt.Errorf("%s: flag %q: %w", path, name, err)
		}
	}
	return nil
}
