package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
)

// SchemaVersion is written into every saved model
const SchemaVersion = 2

var (
	// ErrNoSamples is returned when no roster entry produced features
	ErrNoSamples = errors.New("no training samples")
	// ErrModelVersion is returned for an unsupported schema_version
	ErrModelVersion = errors.New("unsupported model schema version")
)

// SampleStock identifies one training sample in the saved model
type SampleStock struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	BuyDate   string `json:"buy_date,omitempty"`
	SurgeDate string `json:"surge_date,omitempty"`
}

// BuyFeatures holds the buy-point template
type BuyFeatures struct {
	CommonFeatures contracts.Template `json:"common_features"`
}

// Calibration records the grid point chosen by Calibrate
type Calibration struct {
	StdMultiplier   float64 `json:"std_multiplier"`
	RangeBuffer     float64 `json:"range_buffer"`
	TargetScore     float64 `json:"target_score"`
	MinSelfMatch    float64 `json:"min_self_match"`
	MeanSelfMatch   float64 `json:"mean_self_match"`
	TargetReached   bool    `json:"target_reached"`
	GridPointsTried int     `json:"grid_points_tried"`
}

// Analysis is the per-stock outcome of Analyze kept in the model
type Analysis struct {
	BuyIdx    int                    `json:"buy_idx"`
	BuyDate   time.Time              `json:"buy_date"`
	SurgeIdx  int                    `json:"surge_idx"`
	SurgeDate time.Time              `json:"surge_date"`
	Interval  *features.GainInterval `json:"interval,omitempty"`
}

// Model is the trained buy-point template and its provenance
type Model struct {
	SchemaVersion int                  `json:"schema_version"`
	TrainedAt     time.Time            `json:"trained_at"`
	RosterHash    string               `json:"roster_hash,omitempty"`
	SampleCount   int                  `json:"sample_count"`
	SampleStocks  []SampleStock        `json:"sample_stocks"`
	BuyFeatures   BuyFeatures          `json:"buy_features"`
	Calibration   *Calibration         `json:"calibration,omitempty"`
	Analysis      map[string]*Analysis `json:"analysis,omitempty"`
}

// Template returns the buy-point template
func (m *Model) Template() contracts.Template {
	if m == nil {
		return nil
	}
	return m.BuyFeatures.CommonFeatures
}

// Save writes the model as indented JSON via a temp file and rename
func (m *Model) Save(path string) error {
	m.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return writeAtomic(path, data)
}

// LoadModel reads a model file
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes a current model or translates a legacy one.
// Legacy files carry no schema_version and use Chinese stat keys.
func ParseModel(data []byte) (*Model, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode model: invalid json")
	}

	version := gjson.GetBytes(data, "schema_version")
	if !version.Exists() {
		return parseLegacyModel(data)
	}
	if version.Int() != SchemaVersion {
		return nil, fmt.Errorf("schema_version %d: %w", version.Int(), ErrModelVersion)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.BuyFeatures.CommonFeatures) == 0 {
		return nil, fmt.Errorf("model has no buy features: %w", ErrNoSamples)
	}
	return &m, nil
}

var legacyStatKeys = map[string][]string{
	"mean":   {"均值", "平均值", "mean"},
	"median": {"中位数", "median"},
	"std":    {"标准差", "std"},
	"min":    {"最小值", "min"},
	"max":    {"最大值", "max"},
	"count":  {"样本数", "count"},
}

func legacyStat(stat gjson.Result, field string) gjson.Result {
	for _, k := range legacyStatKeys[field] {
		if v := stat.Get(gjson.Escape(k)); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func parseLegacyModel(data []byte) (*Model, error) {
	root := gjson.ParseBytes(data)
	common := root.Get("buy_features.common_features")
	if !common.IsObject() {
		return nil, fmt.Errorf("legacy model without buy_features.common_features: %w", ErrModelVersion)
	}

	tpl := make(contracts.Template)
	common.ForEach(func(name, stat gjson.Result) bool {
		if !stat.IsObject() {
			return true
		}
		mean := legacyStat(stat, "mean")
		if !mean.Exists() {
			return true
		}
		fs := contracts.FeatureStat{
			Mean:   mean.Float(),
			Median: mean.Float(),
			Std:    legacyStat(stat, "std").Float(),
			Min:    legacyStat(stat, "min").Float(),
			Max:    legacyStat(stat, "max").Float(),
			Count:  int(legacyStat(stat, "count").Int()),
		}
		if med := legacyStat(stat, "median"); med.Exists() {
			fs.Median = med.Float()
		}
		tpl[features.CanonicalName(name.String())] = fs
		return true
	})
	if len(tpl) == 0 {
		return nil, fmt.Errorf("legacy model has no usable features: %w", ErrNoSamples)
	}

	m := &Model{
		SchemaVersion: SchemaVersion,
		BuyFeatures:   BuyFeatures{CommonFeatures: tpl},
	}

	trainedAt := root.Get("trained_at").String()
	if trainedAt == "" {
		trainedAt = root.Get("buy_features.trained_at").String()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, trainedAt, time.Local); err == nil {
			m.TrainedAt = t
			break
		}
	}

	root.Get("buy_features.sample_stocks").ForEach(func(_, v gjson.Result) bool {
		code := v.String()
		if v.IsObject() {
			code = v.Get("code").String()
		}
		if code != "" {
			m.SampleStocks = append(m.SampleStocks, SampleStock{Code: code})
		}
		return true
	})
	m.SampleCount = int(root.Get("buy_features.sample_count").Int())
	if m.SampleCount == 0 {
		m.SampleCount = len(m.SampleStocks)
	}

	return m, nil
}
