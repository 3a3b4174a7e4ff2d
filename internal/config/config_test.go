package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

func TestSourceValidate(t *testing.T) {
	cases := []struct {
		name string
		src  Source
		ok   bool
	}{
		{"project with id", Source{Name: "p", Type: SourceProject, ProjectID: 1}, true},
		{"project missing id", Source{Name: "p", Type: SourceProject}, false},
		{"group with paths", Source{Name: "g", Type: SourceGroup, GroupPaths: []string{"org/team"}}, true},
		{"group missing paths", Source{Name: "g", Type: SourceGroup}, false},
		{"project-group complete", Source{Name: "pg", Type: SourceProjectGroup, ProjectID: 1, GroupPaths: []string{"org"}}, true},
		{"project-group missing paths", Source{Name: "pg", Type: SourceProjectGroup, ProjectID: 1}, false},
		{"unknown type", Source{Name: "x", Type: "tenant"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.src.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			var ce *domain.ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestLoadSourcesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	doc := `
sources:
  - name: payments
    type: project
    project_id: 101
  - name: platform
    type: group
    group_paths: [org/platform, org/infra]
team:
  - username: dana
    defaultCapacity: 32
absences:
  - username: dana
    from: "2026-08-03"
    to: "2026-08-07"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	sf, err := LoadSourcesFile(path)
	require.NoError(t, err)
	require.Len(t, sf.Sources, 2)
	assert.Equal(t, SourceProject, sf.Sources[0].Type)
	assert.Equal(t, int64(101), sf.Sources[0].ProjectID)
	assert.Equal(t, []string{"org/platform", "org/infra"}, sf.Sources[1].GroupPaths)
	require.Len(t, sf.Team, 1)
	assert.Equal(t, 32.0, sf.Team[0].DefaultCapacity)
	require.Len(t, sf.Absences, 1)
	assert.Equal(t, "dana", sf.Absences[0].Username)

	t.Run("invalid source rejected", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("sources:\n  - name: p\n    type: project\n"), 0o600))
		_, err := LoadSourcesFile(bad)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSourcesFile(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestEffectiveSources(t *testing.T) {
	t.Run("explicit list wins", func(t *testing.T) {
		c := Config{Sources: []Source{{Name: "a", Type: SourceProject, ProjectID: 1}}, ProjectID: 99}
		got, err := c.EffectiveSources()
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Name)
	})

	t.Run("env fallback picks the type", func(t *testing.T) {
		c := Config{ProjectID: 7}
		got, err := c.EffectiveSources()
		require.NoError(t, err)
		assert.Equal(t, SourceProject, got[0].Type)

		c = Config{GroupPaths: []string{"org"}}
		got, err = c.EffectiveSources()
		require.NoError(t, err)
		assert.Equal(t, SourceGroup, got[0].Type)

		c = Config{ProjectID: 7, GroupPaths: []string{"org"}}
		got, err = c.EffectiveSources()
		require.NoError(t, err)
		assert.Equal(t, SourceProjectGroup, got[0].Type)
	})

	t.Run("nothing configured", func(t *testing.T) {
		var c Config
		_, err := c.EffectiveSources()
		var ce *domain.ConfigError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestLoadFailsOnBrokenSourcesFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("invalid source", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("sources:\n  - name: p\n    type: project\n"), 0o600))
		t.Setenv("SOURCES_FILE", bad)
		_, err := Load()
		var ce *domain.ConfigError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("unreadable file", func(t *testing.T) {
		t.Setenv("SOURCES_FILE", filepath.Join(dir, "nope.yaml"))
		_, err := Load()
		var ce *domain.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "SOURCES_FILE", ce.Field)
	})
}

func TestLoadReadsStoreScope(t *testing.T) {
	t.Setenv("STORE_SCOPE", "pod")
	t.Setenv("STORE_SCOPE_ID", "alpha")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pod", cfg.StoreScope)
	assert.Equal(t, "alpha", cfg.StoreScopeID)
}

func TestValidateToken(t *testing.T) {
	assert.Equal(t, "glpat-", ValidateToken("glpat-abc123"))
	assert.Equal(t, "gldt-", ValidateToken("gldt-xyz"))
	assert.Equal(t, "", ValidateToken("legacy-token"))
}
