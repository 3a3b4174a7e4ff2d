/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// SourceType selects where a source contributes issues, epics, or both.
type SourceType string

const (
	SourceProject      SourceType = "project"
	SourceGroup        SourceType = "group"
	SourceProjectGroup SourceType = "project-group"
)

// Source is one upstream project/group contributing to the aggregation.
type Source struct {
	Name       string     `yaml:"name"`
	Type       SourceType `yaml:"type"`
	ProjectID  int64      `yaml:"project_id,omitempty"`
	GroupPaths []string   `yaml:"group_paths,omitempty"`
}

// SourcesFile is the YAML document holding structured configuration that
// does not fit environment variables: the source list, the team roster, and
// planned absences.
type SourcesFile struct {
	Sources  []Source            `yaml:"sources"`
	Team     []domain.TeamMember `yaml:"team,omitempty"`
	Absences []domain.Absence    `yaml:"absences,omitempty"`
}

type Config struct {
	AppEnv   string
	TZ       string
	HTTPAddr string

	DBDSN string

	// Active persistence context: reads fall back pod > project > global,
	// writes land in the active scope only.
	StoreScope   string // global | project | pod
	StoreScopeID string

	GitLabBaseURL string
	GitLabToken   string

	// Single-source mode fallbacks when no sources file is given.
	ProjectID  int64
	GroupPaths []string

	SourcesFile string
	Sources     []Source
	Team        []domain.TeamMember
	Absences    []domain.Absence

	FilterByYear int // 0 disables the cutoff

	OpenAIKey     string
	OpenAIModel   string
	OpenAITimeout time.Duration

	HTTPTimeout       time.Duration
	MaxSourceWorkers  int
	MaxEventWorkers   int
	LabelEventCacheTTL time.Duration

	StaticHoursPerPoint float64
	WeeklyHoursDefault  float64
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" { return def }
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" { return def }
	i, err := strconv.Atoi(v)
	if err != nil { return def }
	return i
}

func atof(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" { return def }
	f, err := strconv.ParseFloat(v, 64)
	if err != nil { return def }
	return f
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" { return def }
	d, err := time.ParseDuration(v)
	if err != nil { return def }
	return d
}

func parseStrings(csv string) []string {
	if csv == "" { return nil }
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		out = append(out, p)
	}
	return out
}

// Load reads the environment and, when SOURCES_FILE is set, the YAML
// sources document. A broken sources file is a fatal configuration error,
// never a silent fallback to single-source mode.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "UTC"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBDSN: getenv("DB_DSN", ""),

		StoreScope:   getenv("STORE_SCOPE", "global"),
		StoreScopeID: getenv("STORE_SCOPE_ID", ""),

		GitLabBaseURL: getenv("GITLAB_BASE_URL", "https://gitlab.com/api/v4"),
		GitLabToken:   getenv("GITLAB_TOKEN", ""),

		ProjectID:  int64(atoi("GITLAB_PROJECT_ID", 0)),
		GroupPaths: parseStrings(getenv("GITLAB_GROUP_PATHS", "")),

		SourcesFile: getenv("SOURCES_FILE", ""),

		FilterByYear: atoi("FILTER_BY_YEAR", 2025),

		OpenAIKey:     getenv("OPENAI_API_KEY", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4.1-mini"),
		OpenAITimeout: dur("OPENAI_TIMEOUT", 20*time.Second),

		HTTPTimeout:        dur("HTTP_TIMEOUT", 15*time.Second),
		MaxSourceWorkers:   atoi("MAX_SOURCE_WORKERS", 5),
		MaxEventWorkers:    atoi("MAX_EVENT_WORKERS", 10),
		LabelEventCacheTTL: dur("LABEL_EVENT_CACHE_TTL", 5*time.Minute),

		StaticHoursPerPoint: atof("STATIC_HOURS_PER_POINT", 6),
		WeeklyHoursDefault:  atof("WEEKLY_HOURS_DEFAULT", 40),
	}

	if loc, err := time.LoadLocation(cfg.TZ); err == nil { time.Local = loc }

	if cfg.SourcesFile != "" {
		sf, err := LoadSourcesFile(cfg.SourcesFile)
		if err != nil {
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				err = &domain.ConfigError{Field: "SOURCES_FILE", Msg: err.Error()}
			}
			return cfg, err
		}
		cfg.Sources = sf.Sources
		cfg.Team = sf.Team
		cfg.Absences = sf.Absences
	}
	return cfg, nil
}

// LoadSourcesFile reads and validates the YAML sources document.
func LoadSourcesFile(path string) (*SourcesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil { return nil, err }
	var sf SourcesFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i := range sf.Sources {
		if err := sf.Sources[i].Validate(); err != nil { return nil, err }
	}
	return &sf, nil
}

// Validate checks that the source carries the fields its type requires.
func (s *Source) Validate() error {
	switch s.Type {
	case SourceProject:
		if s.ProjectID == 0 {
			return &domain.ConfigError{Field: "sources", Msg: fmt.Sprintf("source %q: project type needs project_id", s.Name)}
		}
	case SourceGroup:
		if len(s.GroupPaths) == 0 {
			return &domain.ConfigError{Field: "sources", Msg: fmt.Sprintf("source %q: group type needs group_paths", s.Name)}
		}
	case SourceProjectGroup:
		if s.ProjectID == 0 || len(s.GroupPaths) == 0 {
			return &domain.ConfigError{Field: "sources", Msg: fmt.Sprintf("source %q: project-group type needs project_id and group_paths", s.Name)}
		}
	default:
		return &domain.ConfigError{Field: "sources", Msg: fmt.Sprintf("source %q: unknown type %q", s.Name, s.Type)}
	}
	return nil
}

// EffectiveSources returns the configured source list, falling back to the
// single-source env configuration when no file was provided.
func (c *Config) EffectiveSources() ([]Source, error) {
	if len(c.Sources) > 0 { return c.Sources, nil }
	if c.ProjectID == 0 && len(c.GroupPaths) == 0 {
		return nil, &domain.ConfigError{Field: "sources", Msg: "no sources file and no GITLAB_PROJECT_ID/GITLAB_GROUP_PATHS"}
	}
	s := Source{Name: "default", ProjectID: c.ProjectID, GroupPaths: c.GroupPaths}
	switch {
	case c.ProjectID != 0 && len(c.GroupPaths) > 0:
		s.Type = SourceProjectGroup
	case c.ProjectID != 0:
		s.Type = SourceProject
	default:
		s.Type = SourceGroup
	}
	return []Source{s}, nil
}

// ValidateToken performs the informational prefix check; unknown prefixes
// are accepted (legacy tokens carry none).
func ValidateToken(token string) (prefix string) {
	for _, p := range []string{"glpat-", "glpat_", "gldt-", "glcbt-"} {
		if strings.HasPrefix(token, p) { return p }
	}
	return ""
}
