// Package chart renders aligned light curves and generic curve charts.
package chart

import (
	"fmt"
	"os"

	json "github.com/KevinWang15/go-json5"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// DifferenceLabel names the source1 - source2 series
const DifferenceLabel = "Source 1 - Source 2"

// DefaultInfo returns the labels used when none are configured
func DefaultInfo() types.ChartInfo {
	return types.ChartInfo{
		Title:      "Pulsar Light Curve",
		XAxisLabel: "Julian Date",
		YAxisLabel: "Magnitude",
		DataLabels: []string{"Source 1", "Source 2", DifferenceLabel},
	}
}

// WithDefaults fills empty fields of info from DefaultInfo
func WithDefaults(info types.ChartInfo) types.ChartInfo {
	def := DefaultInfo()
	if info.Title == "" {
		info.Title = def.Title
	}
	if info.XAxisLabel == "" {
		info.XAxisLabel = def.XAxisLabel
	}
	if info.YAxisLabel == "" {
		info.YAxisLabel = def.YAxisLabel
	}
	labels := make([]string, len(def.DataLabels))
	for i := range labels {
		if i < len(info.DataLabels) && info.DataLabels[i] != "" {
			labels[i] = info.DataLabels[i]
		} else {
			labels[i] = def.DataLabels[i]
		}
	}
	info.DataLabels = labels
	return info
}

// ParseInfo decodes chart labels from JSON5 text
func ParseInfo(data []byte) (types.ChartInfo, error) {
	var info types.ChartInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return types.ChartInfo{}, fmt.Errorf("parse chart info: %w", err)
	}
	return WithDefaults(info), nil
}

// LoadInfo reads chart labels from a JSON5 file
func LoadInfo(path string) (types.ChartInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ChartInfo{}, fmt.Errorf("read chart info: %w", err)
	}
	return ParseInfo(data)
}
