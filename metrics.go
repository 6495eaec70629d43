package packetguard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InMemoryMetricsCollector keeps counters, gauges and histogram samples in
// process memory and can render them as Prometheus text.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string][]float64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][makeLabelKey(labels)]++
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][makeLabelKey(labels)] = value
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

// makeLabelKey renders labels as a sorted, Prometheus-style label body.
func makeLabelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

// GetCounterValue returns the current value of a counter. Exposed for tests
// and debugging.
func (m *InMemoryMetricsCollector) GetCounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if counters, exists := m.counters[name]; exists {
		return counters[makeLabelKey(labels)]
	}
	return 0
}

// GetGaugeValue returns the current value of a gauge. Exposed for tests and
// debugging.
func (m *InMemoryMetricsCollector) GetGaugeValue(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if gauges, exists := m.gauges[name]; exists {
		return gauges[makeLabelKey(labels)]
	}
	return 0
}

// HealthCheck reports whether the collector is usable.
func (m *InMemoryMetricsCollector) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_ = len(m.counters)
	_ = len(m.gauges)
	_ = len(m.histograms)
	return nil
}

// ExportPrometheus renders every metric in Prometheus text format. Output is
// sorted so successive scrapes diff cleanly.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var output strings.Builder

	for _, name := range sortedMetricNames(m.counters) {
		output.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		labelMap := m.counters[name]
		for _, labelKey := range sortedLabelKeys(labelMap) {
			output.WriteString(renderSample(name, labelKey, fmt.Sprintf("%d", labelMap[labelKey])))
		}
	}

	gaugeNames := make([]string, 0, len(m.gauges))
	for name := range m.gauges {
		gaugeNames = append(gaugeNames, name)
	}
	sort.Strings(gaugeNames)
	for _, name := range gaugeNames {
		output.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		labelMap := m.gauges[name]
		labelKeys := make([]string, 0, len(labelMap))
		for k := range labelMap {
			labelKeys = append(labelKeys, k)
		}
		sort.Strings(labelKeys)
		for _, labelKey := range labelKeys {
			output.WriteString(renderSample(name, labelKey, fmt.Sprintf("%g", labelMap[labelKey])))
		}
	}

	histNames := make([]string, 0, len(m.histograms))
	for name := range m.histograms {
		histNames = append(histNames, name)
	}
	sort.Strings(histNames)
	for _, name := range histNames {
		values := m.histograms[name]
		if len(values) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		output.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
		output.WriteString(fmt.Sprintf("%s_sum %g\n", name, sum))
		output.WriteString(fmt.Sprintf("%s_count %d\n", name, len(values)))
	}

	return output.String()
}

func sortedMetricNames(metrics map[string]map[string]int64) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedLabelKeys(labelMap map[string]int64) []string {
	keys := make([]string, 0, len(labelMap))
	for k := range labelMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderSample(name, labelKey, value string) string {
	if labelKey == "" {
		return fmt.Sprintf("%s %s\n", name, value)
	}
	return fmt.Sprintf("%s{%s} %s\n", name, labelKey, value)
}
