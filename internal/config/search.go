package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tagsearch/internal/grid"
	"github.com/banshee-data/tagsearch/internal/inference"
	"github.com/banshee-data/tagsearch/internal/serialmux"
)

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Update methods.
const (
	MethodBatch      = "batch"
	MethodSequential = "sequential"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// TagIDs lists the tag ids mounted in one grid cell. In a config file a cell
// may be written as a single string or a list of strings.
type TagIDs []string

func (t *TagIDs) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*t = TagIDs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("tag cell must be a string or list of strings: %w", err)
	}
	*t = many
	return nil
}

func (t *TagIDs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = TagIDs{value.Value}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("tag cell must be a string or list of strings: %w", err)
	}
	*t = many
	return nil
}

// GridRows is the grid layout, one entry per row. A config file may write it
// as a list of rows or as a mapping of row name to row; mapped rows keep the
// order they appear in the file.
type GridRows [][]TagIDs

func (g *GridRows) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		var rows [][]TagIDs
		if err := json.Unmarshal(data, &rows); err != nil {
			return err
		}
		*g = rows
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var rows [][]TagIDs
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return err
		}
		var row []TagIDs
		if err := dec.Decode(&row); err != nil {
			return fmt.Errorf("grid_tags row %v: %w", key, err)
		}
		rows = append(rows, row)
	}
	*g = rows
	return nil
}

func (g *GridRows) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		var rows [][]TagIDs
		if err := value.Decode(&rows); err != nil {
			return err
		}
		*g = rows
		return nil
	}
	rows := make([][]TagIDs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var row []TagIDs
		if err := value.Content[i+1].Decode(&row); err != nil {
			return fmt.Errorf("grid_tags row %q: %w", value.Content[i].Value, err)
		}
		rows = append(rows, row)
	}
	*g = rows
	return nil
}

// TagsConfig describes the grid layout and the target.
type TagsConfig struct {
	GridTags  GridRows `json:"grid_tags" yaml:"grid_tags"`
	GridSize  *int     `json:"grid_size,omitempty" yaml:"grid_size,omitempty"`
	TargetTag []string `json:"target_tag" yaml:"target_tag"`
}

// ProbabilitiesConfig holds the sensor reliability parameters.
type ProbabilitiesConfig struct {
	P1 *float64 `json:"p1" yaml:"p1"`
	P2 *float64 `json:"p2" yaml:"p2"`
}

// PortConfig is a serial device path with its line settings.
type PortConfig struct {
	Path                  string `json:"path" yaml:"path"`
	serialmux.PortOptions `yaml:",inline"`
}

// SearchConfig is the root configuration for a search run.
type SearchConfig struct {
	Tags          TagsConfig          `json:"tags" yaml:"tags"`
	SearchProfile [][]float64         `json:"search_profile" yaml:"search_profile"`
	VisionProfile [][][]int           `json:"vision_profile" yaml:"vision_profile"`
	Probabilities ProbabilitiesConfig `json:"probabilities" yaml:"probabilities"`

	Cycles           *int    `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Method           *string `json:"method,omitempty" yaml:"method,omitempty"`
	Evidence         *string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	HistoryRetention *int    `json:"history_retention,omitempty" yaml:"history_retention,omitempty"`
	SkipFailedCycles *bool   `json:"skip_failed_cycles,omitempty" yaml:"skip_failed_cycles,omitempty"`

	Actuator    *PortConfig `json:"actuator,omitempty" yaml:"actuator,omitempty"`
	Reader      *PortConfig `json:"reader,omitempty" yaml:"reader,omitempty"`
	SettleTime  *string     `json:"settle_time,omitempty" yaml:"settle_time,omitempty"`   // duration string like "2s"
	ReadWindow  *string     `json:"read_window,omitempty" yaml:"read_window,omitempty"`   // duration string like "500ms"
	ReadRepeats *int        `json:"read_repeats,omitempty" yaml:"read_repeats,omitempty"` // windows per orientation
	ReadCommand *string     `json:"read_command,omitempty" yaml:"read_command,omitempty"`
}

// LoadSearchConfig loads and validates a SearchConfig from a .json, .yaml
// or .yml file.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: config file must have .json, .yaml or .yml extension, got %q", ErrInvalidConfig, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat config file: %w", ErrInvalidConfig, err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalidConfig, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrInvalidConfig, err)
	}

	cfg := &SearchConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or malformed values. Every
// returned error wraps ErrInvalidConfig.
func (c *SearchConfig) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	g, err := c.BuildGrid()
	if err != nil {
		add("tags.grid_tags: %w", err)
	} else if c.Tags.GridSize != nil && *c.Tags.GridSize != g.Size() {
		add("tags.grid_size is %d but grid_tags has %d cells", *c.Tags.GridSize, g.Size())
	}
	if len(c.Tags.TargetTag) == 0 {
		add("tags.target_tag must list at least one id")
	}
	if g != nil {
		for _, id := range c.Tags.TargetTag {
			if _, ok := g.Lookup(id); ok {
				add("target tag %q is also a grid tag", id)
			}
		}
	}

	if len(c.SearchProfile) == 0 {
		add("search_profile must list at least one orientation")
	}
	if len(c.VisionProfile) != len(c.SearchProfile) {
		add("vision_profile has %d entries but search_profile has %d", len(c.VisionProfile), len(c.SearchProfile))
	}
	profile, err := c.Profile()
	if err != nil {
		add("vision_profile: %w", err)
	} else if g != nil {
		if err := profile.Validate(g); err != nil {
			add("vision_profile: %w", err)
		}
	}

	if c.Probabilities.P1 == nil || c.Probabilities.P2 == nil {
		add("probabilities.p1 and probabilities.p2 are required")
	} else if err := c.Params().Validate(); err != nil {
		add("probabilities: %w", err)
	}

	if c.Cycles != nil && *c.Cycles < 1 {
		add("cycles must be at least 1, got %d", *c.Cycles)
	}
	if m := c.GetMethod(); m != MethodBatch && m != MethodSequential {
		add("method must be %q or %q, got %q", MethodBatch, MethodSequential, m)
	}
	if c.Evidence != nil {
		if _, err := inference.ParseEvidenceModel(*c.Evidence); err != nil {
			add("evidence: %w", err)
		}
	}
	if c.HistoryRetention != nil && *c.HistoryRetention < 0 {
		add("history_retention must be non-negative, got %d", *c.HistoryRetention)
	}
	if c.ReadRepeats != nil && *c.ReadRepeats < 1 {
		add("read_repeats must be at least 1, got %d", *c.ReadRepeats)
	}
	for name, v := range map[string]*string{"settle_time": c.SettleTime, "read_window": c.ReadWindow} {
		if v == nil || *v == "" {
			continue
		}
		if d, err := time.ParseDuration(*v); err != nil {
			add("invalid %s '%s': %w", name, *v, err)
		} else if d < 0 {
			add("%s must be non-negative, got %s", name, d)
		}
	}
	for name, p := range map[string]*PortConfig{"actuator": c.Actuator, "reader": c.Reader} {
		if p == nil {
			continue
		}
		if p.Path == "" {
			add("%s.path is required", name)
		}
		if _, err := p.PortOptions.Normalize(); err != nil {
			add("%s: %w", name, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// BuildGrid constructs the grid described by tags.grid_tags.
func (c *SearchConfig) BuildGrid() (*grid.Grid, error) {
	rows := make([][][]string, len(c.Tags.GridTags))
	for r, row := range c.Tags.GridTags {
		rows[r] = make([][]string, len(row))
		for col, ids := range row {
			rows[r][col] = []string(ids)
		}
	}
	return grid.New(rows)
}

// Profile converts vision_profile into a VisibilityProfile.
func (c *SearchConfig) Profile() (inference.VisibilityProfile, error) {
	profile := make(inference.VisibilityProfile, len(c.VisionProfile))
	for i, coords := range c.VisionProfile {
		v := inference.NewVisibility()
		for _, pair := range coords {
			if len(pair) != 2 {
				return nil, fmt.Errorf("orientation %d: coordinate %v must be [row, col]", i, pair)
			}
			v[grid.Coord{Row: pair[0], Col: pair[1]}] = struct{}{}
		}
		profile[i] = v
	}
	return profile, nil
}

// Params returns the sensor parameters. Missing values are zero.
func (c *SearchConfig) Params() inference.SensorParams {
	var p inference.SensorParams
	if c.Probabilities.P1 != nil {
		p.P1 = *c.Probabilities.P1
	}
	if c.Probabilities.P2 != nil {
		p.P2 = *c.Probabilities.P2
	}
	return p
}

// Targets returns the target id set.
func (c *SearchConfig) Targets() inference.TargetSet {
	return inference.NewTargetSet(c.Tags.TargetTag...)
}

// Orientations returns the number of configured orientations.
func (c *SearchConfig) Orientations() int {
	return len(c.SearchProfile)
}

// GetCycles returns the cycles value or the default.
func (c *SearchConfig) GetCycles() int {
	if c.Cycles == nil {
		return 1
	}
	return *c.Cycles
}

// GetMethod returns the method value or the default.
func (c *SearchConfig) GetMethod() string {
	if c.Method == nil || *c.Method == "" {
		return MethodBatch
	}
	return *c.Method
}

// GetEvidence returns the evidence model or the default.
func (c *SearchConfig) GetEvidence() inference.EvidenceModel {
	if c.Evidence == nil {
		return inference.EvidenceScalar
	}
	m, err := inference.ParseEvidenceModel(*c.Evidence)
	if err != nil {
		return inference.EvidenceScalar
	}
	return m
}

// GetHistoryRetention returns the history_retention value or the default
// (0, unbounded).
func (c *SearchConfig) GetHistoryRetention() int {
	if c.HistoryRetention == nil {
		return 0
	}
	return *c.HistoryRetention
}

// GetSkipFailedCycles returns the skip_failed_cycles value or the default.
func (c *SearchConfig) GetSkipFailedCycles() bool {
	if c.SkipFailedCycles == nil {
		return false
	}
	return *c.SkipFailedCycles
}

// GetSettleTime parses and returns SettleTime as a time.Duration.
func (c *SearchConfig) GetSettleTime() time.Duration {
	return parseDurationOr(c.SettleTime, 2*time.Second)
}

// GetReadWindow parses and returns ReadWindow as a time.Duration.
func (c *SearchConfig) GetReadWindow() time.Duration {
	return parseDurationOr(c.ReadWindow, 500*time.Millisecond)
}

// GetReadRepeats returns the read_repeats value or the default.
func (c *SearchConfig) GetReadRepeats() int {
	if c.ReadRepeats == nil {
		return 6
	}
	return *c.ReadRepeats
}

// GetReadCommand returns the read trigger command, or "" when none is set.
func (c *SearchConfig) GetReadCommand() string {
	if c.ReadCommand == nil {
		return ""
	}
	return *c.ReadCommand
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}
