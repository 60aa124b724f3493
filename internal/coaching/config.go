package coaching

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("coaching config not found")

// Config is one named coaching configuration. Immutable after load and
// shared by reference across sessions.
type Config struct {
	ID                string  `json:"id"`
	Activity          string  `json:"activity"`
	Coach             string  `json:"coach"`
	SkillLevel        string  `json:"skill_level"`
	FeedbackFrequency float64 `json:"feedback_frequency"`
	FPS               float64 `json:"fps"`
	MaxResponseLength int     `json:"max_response_length"`
	Language          string  `json:"language"`
	Category          string  `json:"category"`
	Goal              string  `json:"goal,omitempty"`
	FocusOn           string  `json:"focus_on,omitempty"`
	Description       string  `json:"description,omitempty"`
	VoiceStyle        string  `json:"voice_style,omitempty"`
}

// Summary is the listing view of a config.
type Summary struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Coach       string `json:"coach"`
	SkillLevel  string `json:"skill_level"`
}

// Store loads coaching configurations from <dir>/<category>/<id>.json
// once at startup and serves them read-only afterwards.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Config
	ordered []*Config
}

func NewStore(dir string) (*Store, error) {
	s := &Store{byID: make(map[string]*Config)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read configs dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		category := entry.Name()
		files, err := os.ReadDir(filepath.Join(dir, category))
		if err != nil {
			return nil, fmt.Errorf("read category %s: %w", category, err)
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, category, file.Name())
			cfg, err := loadConfigFile(path)
			if err != nil {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
			cfg.ID = strings.TrimSuffix(file.Name(), ".json")
			cfg.Category = category
			if _, dup := s.byID[cfg.ID]; dup {
				return nil, fmt.Errorf("duplicate config id %q", cfg.ID)
			}
			s.byID[cfg.ID] = cfg
			s.ordered = append(s.ordered, cfg)
		}
	}

	sort.Slice(s.ordered, func(i, j int) bool {
		if s.ordered[i].Category != s.ordered[j].Category {
			return s.ordered[i].Category < s.ordered[j].Category
		}
		return s.ordered[i].Activity < s.ordered[j].Activity
	})
	return s, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Activity) == "" {
		return nil, errors.New("activity is required")
	}
	if cfg.Coach == "" {
		cfg.Coach = "professional coach"
	}
	if cfg.FeedbackFrequency <= 0 {
		cfg.FeedbackFrequency = 10
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 1
	}
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = 10
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &cfg, nil
}

// Get returns the config for id or ErrNotFound.
func (s *Store) Get(id string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg, nil
}

func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.ordered))
	for _, cfg := range s.ordered {
		out = append(out, summarize(cfg))
	}
	return out
}

func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, cfg := range s.ordered {
		if !seen[cfg.Category] {
			seen[cfg.Category] = true
			out = append(out, cfg.Category)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) ListByCategory(category string) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Summary
	for _, cfg := range s.ordered {
		if cfg.Category == category {
			out = append(out, summarize(cfg))
		}
	}
	return out
}

func summarize(cfg *Config) Summary {
	return Summary{
		ID:          cfg.ID,
		Category:    cfg.Category,
		Name:        cfg.Activity,
		Description: cfg.Description,
		Coach:       cfg.Coach,
		SkillLevel:  cfg.SkillLevel,
	}
}
