package training

import (
	"math"
	"sort"

	"github.com/wonny/bullscan/internal/contracts"
)

// BuildTemplate summarizes every feature seen across vectors.
// Std is the population deviation; all stats are rounded to 3 decimals.
func BuildTemplate(vectors []contracts.FeatureVector) contracts.Template {
	values := make(map[string][]float64)
	for _, fv := range vectors {
		for name, v := range fv {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			values[name] = append(values[name], v)
		}
	}

	tpl := make(contracts.Template, len(values))
	for name, xs := range values {
		tpl[name] = summarize(xs)
	}
	return tpl
}

func summarize(xs []float64) contracts.FeatureStat {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)

	var sum float64
	for _, x := range sorted {
		sum += x
	}
	mean := sum / float64(n)

	var ss float64
	for _, x := range sorted {
		ss += (x - mean) * (x - mean)
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return contracts.FeatureStat{
		Mean:   contracts.Round(mean, 3),
		Median: contracts.Round(median, 3),
		Std:    contracts.Round(math.Sqrt(ss/float64(n)), 3),
		Min:    contracts.Round(sorted[0], 3),
		Max:    contracts.Round(sorted[n-1], 3),
		Count:  n,
	}
}
