package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagsearch/internal/grid"
	"github.com/banshee-data/tagsearch/internal/inference"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalJSON = `{
  "tags": {"grid_tags": [["A", "B"], ["C", "D"]], "target_tag": ["T"]},
  "search_profile": [[0], [90]],
  "vision_profile": [[[0, 0]], [[1, 1]]],
  "probabilities": {"p1": 0.8, "p2": 0.2}
}`

func TestLoadSearchConfig_ExampleFiles(t *testing.T) {
	t.Parallel()

	t.Run("yaml", func(t *testing.T) {
		cfg, err := LoadSearchConfig("../../config/search.example.yaml")
		require.NoError(t, err)

		g, err := cfg.BuildGrid()
		require.NoError(t, err)
		assert.Equal(t, 16, g.Size())
		c, ok := g.Lookup("300833B2DDD9014000000015")
		require.True(t, ok)
		assert.Equal(t, grid.Coord{Row: 3, Col: 1}, c)

		assert.Equal(t, 4, cfg.Orientations())
		assert.Equal(t, MethodSequential, cfg.GetMethod())
		assert.Equal(t, inference.EvidencePerCell, cfg.GetEvidence())
		assert.Equal(t, 50, cfg.GetHistoryRetention())
		assert.Equal(t, 5, cfg.GetCycles())
		assert.Equal(t, 2*time.Second, cfg.GetSettleTime())
		assert.Equal(t, "READ", cfg.GetReadCommand())
		require.NotNil(t, cfg.Reader)
		assert.Equal(t, "/dev/ttyUSB1", cfg.Reader.Path)
		assert.Equal(t, 115200, cfg.Reader.BaudRate)
		assert.True(t, cfg.Targets().Has("E2801160600002084A6B4C11"))
	})

	t.Run("json", func(t *testing.T) {
		cfg, err := LoadSearchConfig("../../config/search.example.json")
		require.NoError(t, err)
		assert.Equal(t, MethodBatch, cfg.GetMethod())
		assert.Equal(t, inference.SensorParams{P1: 0.85, P2: 0.3}, cfg.Params())

		profile, err := cfg.Profile()
		require.NoError(t, err)
		require.Len(t, profile, 2)
		assert.True(t, profile[1].Has(grid.Coord{Row: 1, Col: 1}))
		assert.False(t, profile[1].Has(grid.Coord{Row: 0, Col: 0}))
	})
}

func TestLoadSearchConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadSearchConfig(writeConfig(t, "min.json", minimalJSON))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.GetCycles())
	assert.Equal(t, MethodBatch, cfg.GetMethod())
	assert.Equal(t, inference.EvidenceScalar, cfg.GetEvidence())
	assert.Equal(t, 0, cfg.GetHistoryRetention())
	assert.False(t, cfg.GetSkipFailedCycles())
	assert.Equal(t, 2*time.Second, cfg.GetSettleTime())
	assert.Equal(t, 500*time.Millisecond, cfg.GetReadWindow())
	assert.Equal(t, 6, cfg.GetReadRepeats())
	assert.Equal(t, "", cfg.GetReadCommand())
}

func TestLoadSearchConfig_FileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadSearchConfig("/some/path/config.toml")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "extension")

	_, err = LoadSearchConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadSearchConfig(writeConfig(t, "bad.json", "{not json"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	big := writeConfig(t, "big.json", `{"pad": "`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err = LoadSearchConfig(big)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "profile length mismatch",
			body:    strings.Replace(minimalJSON, `"vision_profile": [[[0, 0]], [[1, 1]]]`, `"vision_profile": [[[0, 0]]]`, 1),
			wantErr: "vision_profile has 1 entries but search_profile has 2",
		},
		{
			name:    "p1 out of range",
			body:    strings.Replace(minimalJSON, `"p1": 0.8`, `"p1": 1.5`, 1),
			wantErr: "p1 must be in (0, 1)",
		},
		{
			name:    "p2 missing",
			body:    strings.Replace(minimalJSON, `, "p2": 0.2`, ``, 1),
			wantErr: "probabilities.p1 and probabilities.p2 are required",
		},
		{
			name:    "no target",
			body:    strings.Replace(minimalJSON, `"target_tag": ["T"]`, `"target_tag": []`, 1),
			wantErr: "target_tag must list at least one id",
		},
		{
			name:    "target is a grid tag",
			body:    strings.Replace(minimalJSON, `"target_tag": ["T"]`, `"target_tag": ["B"]`, 1),
			wantErr: `target tag "B" is also a grid tag`,
		},
		{
			name:    "ragged grid",
			body:    strings.Replace(minimalJSON, `["C", "D"]`, `["C"]`, 1),
			wantErr: "grid_tags",
		},
		{
			name:    "duplicate tag",
			body:    strings.Replace(minimalJSON, `["C", "D"]`, `["C", "A"]`, 1),
			wantErr: "duplicate tag id",
		},
		{
			name:    "grid size mismatch",
			body:    strings.Replace(minimalJSON, `"target_tag"`, `"grid_size": 16, "target_tag"`, 1),
			wantErr: "grid_size is 16 but grid_tags has 4 cells",
		},
		{
			name:    "coordinate outside grid",
			body:    strings.Replace(minimalJSON, `[[1, 1]]]`, `[[2, 1]]]`, 1),
			wantErr: "outside 2x2 grid",
		},
		{
			name:    "malformed coordinate",
			body:    strings.Replace(minimalJSON, `[[1, 1]]]`, `[[1]]]`, 1),
			wantErr: "must be [row, col]",
		},
		{
			name:    "unknown method",
			body:    strings.Replace(minimalJSON, `"probabilities"`, `"method": "magic", "probabilities"`, 1),
			wantErr: `method must be`,
		},
		{
			name:    "unknown evidence",
			body:    strings.Replace(minimalJSON, `"probabilities"`, `"evidence": "magic", "probabilities"`, 1),
			wantErr: `unknown evidence model`,
		},
		{
			name:    "zero cycles",
			body:    strings.Replace(minimalJSON, `"probabilities"`, `"cycles": 0, "probabilities"`, 1),
			wantErr: "cycles must be at least 1",
		},
		{
			name:    "bad duration",
			body:    strings.Replace(minimalJSON, `"probabilities"`, `"read_window": "soon", "probabilities"`, 1),
			wantErr: "invalid read_window 'soon'",
		},
		{
			name:    "reader without path",
			body:    strings.Replace(minimalJSON, `"probabilities"`, `"reader": {"baud_rate": 9600}, "probabilities"`, 1),
			wantErr: "reader.path is required",
		},
		{
			name:    "bad parity",
			body:    strings.Replace(minimalJSON, `"probabilities"`, `"actuator": {"path": "/dev/x", "parity": "Z"}, "probabilities"`, 1),
			wantErr: "unsupported parity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSearchConfig(writeConfig(t, "cfg.json", tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTagIDs_YAMLForms(t *testing.T) {
	t.Parallel()
	body := `
tags:
  grid_tags:
    - [a, [b1, b2]]
  target_tag: [t]
search_profile: [[0]]
vision_profile: [[[0, 1]]]
probabilities: {p1: 0.7, p2: 0.3}
`
	cfg, err := LoadSearchConfig(writeConfig(t, "cfg.yml", body))
	require.NoError(t, err)
	assert.Equal(t, GridRows{{{"a"}, {"b1", "b2"}}}, cfg.Tags.GridTags)
}

func TestGridRows_MappingForm(t *testing.T) {
	t.Parallel()

	t.Run("yaml keeps file order", func(t *testing.T) {
		body := `
tags:
  grid_tags:
    top: [A, B]
    bottom: [C, [D1, D2]]
  grid_size: 4
  target_tag: [T]
search_profile: [[0], [90]]
vision_profile: [[[0, 0]], [[1, 1]]]
probabilities: {p1: 0.8, p2: 0.2}
`
		cfg, err := LoadSearchConfig(writeConfig(t, "cfg.yaml", body))
		require.NoError(t, err)
		assert.Equal(t, GridRows{{{"A"}, {"B"}}, {{"C"}, {"D1", "D2"}}}, cfg.Tags.GridTags)

		g, err := cfg.BuildGrid()
		require.NoError(t, err)
		c, ok := g.Lookup("D2")
		require.True(t, ok)
		assert.Equal(t, grid.Coord{Row: 1, Col: 1}, c)
	})

	t.Run("json keeps file order", func(t *testing.T) {
		body := `{
  "tags": {"grid_tags": {"row_b": ["A", "B"], "row_a": ["C", "D"]}, "target_tag": ["T"]},
  "search_profile": [[0]],
  "vision_profile": [[[0, 0]]],
  "probabilities": {"p1": 0.8, "p2": 0.2}
}`
		cfg, err := LoadSearchConfig(writeConfig(t, "cfg.json", body))
		require.NoError(t, err)
		assert.Equal(t, GridRows{{{"A"}, {"B"}}, {{"C"}, {"D"}}}, cfg.Tags.GridTags)
	})

	t.Run("bad row", func(t *testing.T) {
		body := `
tags:
  grid_tags:
    top: {nested: map}
  target_tag: [T]
search_profile: [[0]]
vision_profile: [[[0, 0]]]
probabilities: {p1: 0.8, p2: 0.2}
`
		_, err := LoadSearchConfig(writeConfig(t, "cfg.yaml", body))
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorContains(t, err, `grid_tags row "top"`)

		_, err = LoadSearchConfig(writeConfig(t, "cfg.json", `{"tags": {"grid_tags": {"top": 7}}}`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorContains(t, err, "grid_tags row top")
	})
}
