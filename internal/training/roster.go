package training

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wonny/bullscan/internal/contracts"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// ErrInvalidEntry is returned for a roster entry with a bad code or buy date
var ErrInvalidEntry = errors.New("invalid roster entry")

// RosterEntry is one bull stock used as a training sample
type RosterEntry struct {
	Code    string `yaml:"code" json:"code"`
	Name    string `yaml:"name" json:"name"`
	BuyDate string `yaml:"buy_date,omitempty" json:"buy_date,omitempty"`
}

// BuyTime parses BuyDate. The zero time means "search for the max-gain interval".
func (e RosterEntry) BuyTime() (time.Time, error) {
	if e.BuyDate == "" {
		return time.Time{}, nil
	}
	t, err := contracts.ParseDate(e.BuyDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("buy_date %q: %w", e.BuyDate, err)
	}
	return t, nil
}

// TrainerConfig tunes Train and Calibrate
type TrainerConfig struct {
	TargetScore    float64   `yaml:"target_score" json:"target_score"`
	StdMultipliers []float64 `yaml:"std_multipliers" json:"std_multipliers"`
	RangeBuffers   []float64 `yaml:"range_buffers" json:"range_buffers"`
	LookbackWeeks  int       `yaml:"lookback_weeks" json:"lookback_weeks"`
}

// DefaultTrainerConfig returns the calibration grid used when the roster omits one
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		TargetScore:    0.9,
		StdMultipliers: []float64{1, 1.25, 1.5, 2, 3},
		RangeBuffers:   []float64{0, 0.1, 0.25, 0.5},
		LookbackWeeks:  40,
	}
}

func (c *TrainerConfig) applyDefaults() {
	def := DefaultTrainerConfig()
	if c.TargetScore <= 0 {
		c.TargetScore = def.TargetScore
	}
	if len(c.StdMultipliers) == 0 {
		c.StdMultipliers = def.StdMultipliers
	}
	if len(c.RangeBuffers) == 0 {
		c.RangeBuffers = def.RangeBuffers
	}
	if c.LookbackWeeks <= 0 {
		c.LookbackWeeks = def.LookbackWeeks
	}
}

// Roster is the bull-stock list plus trainer settings
type Roster struct {
	Stocks  []RosterEntry `yaml:"stocks" json:"stocks"`
	Trainer TrainerConfig `yaml:"trainer" json:"trainer"`
}

// ParseRoster decodes a roster strictly; unknown keys are an error
func ParseRoster(r io.Reader) (*Roster, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var roster Roster
	if err := dec.Decode(&roster); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	roster.Trainer.applyDefaults()

	if err := roster.Validate(); err != nil {
		return nil, err
	}
	return &roster, nil
}

// LoadRoster reads a roster file
func LoadRoster(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return ParseRoster(f)
}

// Validate checks codes, dates and duplicates
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Stocks))
	for i, s := range r.Stocks {
		if !codePattern.MatchString(s.Code) {
			return fmt.Errorf("stocks[%d]: invalid code %q", i, s.Code)
		}
		if seen[s.Code] {
			return fmt.Errorf("stocks[%d]: duplicate code %s", i, s.Code)
		}
		seen[s.Code] = true
		if _, err := s.BuyTime(); err != nil {
			return fmt.Errorf("stocks[%d]: %w", i, err)
		}
	}
	if r.Trainer.TargetScore > 1 {
		return fmt.Errorf("trainer.target_score must be within (0,1], got %v", r.Trainer.TargetScore)
	}
	return nil
}

// Hash is the sha256 of the canonical JSON form
func (r *Roster) Hash() string {
	data, _ := json.Marshal(r)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes the roster as YAML via a temp file and rename
func (r *Roster) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	return writeAtomic(path, buf.Bytes())
}

// RosterStore guards a roster that the API edits at runtime
type RosterStore struct {
	mu     sync.RWMutex
	path   string
	roster *Roster
}

// NewRosterStore loads path, or starts empty when the file does not exist
func NewRosterStore(path string) (*RosterStore, error) {
	roster, err := LoadRoster(path)
	if errors.Is(err, os.ErrNotExist) {
		roster = &Roster{Trainer: DefaultTrainerConfig()}
	} else if err != nil {
		return nil, err
	}
	return &RosterStore{path: path, roster: roster}, nil
}

// Snapshot returns a copy of the current roster
func (s *RosterStore) Snapshot() *Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.roster
	cp.Stocks = append([]RosterEntry(nil), s.roster.Stocks...)
	return &cp
}

// Add inserts or replaces an entry and persists the roster
func (s *RosterStore) Add(e RosterEntry) error {
	if !codePattern.MatchString(e.Code) {
		return fmt.Errorf("code %q: %w", e.Code, ErrInvalidEntry)
	}
	if _, err := e.BuyTime(); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidEntry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.roster.Stocks {
		if s.roster.Stocks[i].Code == e.Code {
			s.roster.Stocks[i] = e
			return s.persist()
		}
	}
	s.roster.Stocks = append(s.roster.Stocks, e)
	return s.persist()
}

// Remove deletes an entry. It reports whether the code was present.
func (s *RosterStore) Remove(code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.roster.Stocks {
		if s.roster.Stocks[i].Code == code {
			s.roster.Stocks = append(s.roster.Stocks[:i], s.roster.Stocks[i+1:]...)
			return true, s.persist()
		}
	}
	return false, nil
}

// Clear removes every entry
func (s *RosterStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roster.Stocks = nil
	return s.persist()
}

func (s *RosterStore) persist() error {
	if s.path == "" {
		return nil
	}
	return s.roster.Save(s.path)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
