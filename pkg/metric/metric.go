// Copyright 2018 The gVisor Authors.
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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"gvisor.dev/kcounter/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInitializationDone indicates that the caller tried to create a
	// new metric after initialization.
	ErrInitializationDone = errors.New("metric cannot be created after initialization is complete")

	// ErrFieldValueContainsIllegalChar indicates that the value of a metric
	// field had an invalid character in it.
	ErrFieldValueContainsIllegalChar = errors.New("metric field value contains illegal character")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")

	// ErrInvalidName indicates that a metric name does not start with '/'.
	ErrInvalidName = errors.New("metric name must start with '/'")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper provides multi-dimensional fields to a single unique integer key.
type fieldMapper struct {
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		// Disallow fields with no possible values. Passing in a
		// no-allowed-values field is probably a mistake.
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		for _, v := range f.allowedValues {
			if strings.ContainsAny(v, "\"\\\n") {
				return fieldMapper{}, ErrFieldValueContainsIllegalChar
			}
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint16 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup looks up a key within the fieldMapper. This *must* be called with
// the correct number of allowed field values, or it will panic.
func (m fieldMapper) lookup(fieldValues ...string) int {
	if len(fieldValues) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	idx := 0
	remainingCombinationBucket := m.numFieldCombinations

IdxLookup:
	for i, val := range fieldValues {
		for valIdx, allowedVal := range m.fields[i].allowedValues {
			if val == allowedVal {
				remainingCombinationBucket /= len(m.fields[i].allowedValues)
				idx += remainingCombinationBucket * valIdx
				continue IdxLookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the reverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	fields := make([]string, len(m.fields))
	remainingCombinationBucket := m.numFieldCombinations
	for i := range m.fields {
		remainingCombinationBucket /= len(m.fields[i].allowedValues)
		fields[i] = m.fields[i].allowedValues[key/remainingCombinationBucket]
		key = key % remainingCombinationBucket
	}
	return fields
}

// metadata describes a registered metric. It is immutable.
type metadata struct {
	name        string
	description string
	cumulative  bool
	mapper      fieldMapper
}

// registeredMetric is a metric value source along with its metadata.
type registeredMetric struct {
	metadata
	value func(fieldValues ...string) uint64
}

// metricSet holds all registered metrics.
type metricSet struct {
	mu sync.Mutex

	// +checklocks:mu
	initialized bool

	// +checklocks:mu
	metrics map[string]registeredMetric
}

func makeMetricSet() *metricSet {
	return &metricSet{metrics: make(map[string]registeredMetric)}
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

// Initialize freezes the set of metrics. Metrics registered afterwards are
// rejected with ErrInitializationDone.
func Initialize() error {
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if allMetrics.initialized {
		return errors.New("metric.Initialize called after metric.Initialize")
	}
	allMetrics.initialized = true
	return nil
}

func register(md metadata, value func(...string) uint64) error {
	if !strings.HasPrefix(md.name, "/") {
		return ErrInvalidName
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if allMetrics.initialized {
		return ErrInitializationDone
	}
	if _, ok := allMetrics.metrics[md.name]; ok {
		return ErrNameInUse
	}
	allMetrics.metrics[md.name] = registeredMetric{metadata: md, value: value}
	return nil
}

// RegisterCustomUint64Metric registers a metric whose value is computed by
// value at export time.
//
// Preconditions:
//   - name must be globally unique.
//   - Initialize has not been called.
//   - value is expected to accept exactly len(fields) arguments.
func RegisterCustomUint64Metric(name string, cumulative bool, description string, value func(...string) uint64, fields ...Field) error {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return err
	}
	return register(metadata{
		name:        name,
		description: description,
		cumulative:  cumulative,
		mapper:      f,
	}, value)
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func MustRegisterCustomUint64Metric(name string, cumulative bool, description string, value func(...string) uint64, fields ...Field) {
	if err := RegisterCustomUint64Metric(name, cumulative, description, value, fields...); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored, broken down by field values.
//
// Metrics must be statically defined (i.e., at init).
type Uint64Metric struct {
	mapper fieldMapper

	// values holds one counter per field value combination.
	values []atomic.Uint64
}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
func NewUint64Metric(name string, description string, fields ...Field) (*Uint64Metric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		mapper: f,
		values: make([]atomic.Uint64, f.numFieldCombinations),
	}
	if err := register(metadata{
		name:        name,
		description: description,
		cumulative:  true,
		mapper:      f,
	}, m.Value); err != nil {
		return nil, err
	}
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.mapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.mapper.lookup(fieldValues...)].Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.mapper.lookup(fieldValues...)].Add(v)
}

// Sample is the value of a metric for one combination of field values.
type Sample struct {
	// Fields maps field names to values.
	Fields map[string]string

	// Value is the metric value.
	Value uint64
}

// Snapshot is the state of one metric at export time.
type Snapshot struct {
	Name        string
	Description string
	Cumulative  bool
	Samples     []Sample
}

// Snapshots returns the current state of all metrics, sorted by name.
func Snapshots() []Snapshot {
	allMetrics.mu.Lock()
	metrics := make([]registeredMetric, 0, len(allMetrics.metrics))
	for _, m := range allMetrics.metrics {
		metrics = append(metrics, m)
	}
	allMetrics.mu.Unlock()
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	snaps := make([]Snapshot, 0, len(metrics))
	for _, m := range metrics {
		s := Snapshot{
			Name:        m.name,
			Description: m.description,
			Cumulative:  m.cumulative,
		}
		for key := 0; key < m.mapper.numFieldCombinations; key++ {
			values := m.mapper.keyToMultiField(key)
			sample := Sample{Value: m.value(values...)}
			if len(values) > 0 {
				sample.Fields = make(map[string]string, len(values))
				for i, v := range values {
					sample.Fields[m.mapper.fields[i].name] = v
				}
			}
			s.Samples = append(s.Samples, sample)
		}
		snaps = append(snaps, s)
	}
	return snaps
}
