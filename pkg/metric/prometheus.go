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

package metric

import (
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Prefix is prepended to all exported metric names.
const Prefix = "kcounter_"

// ExportName converts a registered metric name such as "/chardev/opens" to
// its Prometheus form, "kcounter_chardev_opens".
func ExportName(name string) string {
	return Prefix + strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

func ptr[T any](v T) *T { return &v }

// NewGaugeFamily returns a single-sample gauge family. The name is used
// verbatim.
func NewGaugeFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: ptr(v)}},
		},
	}
}

// families converts snapshots to Prometheus metric families.
func families(snaps []Snapshot) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(snaps))
	for _, s := range snaps {
		mf := &dto.MetricFamily{
			Name: ptr(ExportName(s.Name)),
			Help: ptr(s.Description),
		}
		if s.Cumulative {
			mf.Type = dto.MetricType_COUNTER.Enum()
		} else {
			mf.Type = dto.MetricType_GAUGE.Enum()
		}
		for _, sample := range s.Samples {
			m := &dto.Metric{}
			names := make([]string, 0, len(sample.Fields))
			for k := range sample.Fields {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				m.Label = append(m.Label, &dto.LabelPair{Name: ptr(k), Value: ptr(sample.Fields[k])})
			}
			v := float64(sample.Value)
			if s.Cumulative {
				m.Counter = &dto.Counter{Value: ptr(v)}
			} else {
				m.Gauge = &dto.Gauge{Value: ptr(v)}
			}
			mf.Metric = append(mf.Metric, m)
		}
		out = append(out, mf)
	}
	return out
}

// WriteText writes all registered metrics, followed by extra, to w in the
// Prometheus text exposition format.
func WriteText(w io.Writer, extra ...*dto.MetricFamily) error {
	for _, mf := range append(families(Snapshots()), extra...) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
