package contracts

import "sort"

// FeatureVector maps a feature name to its value. Booleans are 0 or 1.
type FeatureVector map[string]float64

// Names returns the feature names in sorted order
func (fv FeatureVector) Names() []string {
	names := make([]string, 0, len(fv))
	for k := range fv {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FeatureStat summarizes one feature across the training samples
type FeatureStat struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Template is the per-feature statistical profile a candidate is scored against.
// It is never mutated while a scan is running.
type Template map[string]FeatureStat

// Clone returns an independent copy
func (t Template) Clone() Template {
	out := make(Template, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
