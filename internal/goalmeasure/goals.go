package goalmeasure

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Goal is a user-authored measurement definition loaded from goals/*.yaml.
type Goal struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description,omitempty"`
	Command     string `yaml:"command" json:"command"`
}

// LoadGoals reads every *.yaml file in dir and decodes it as a Goal. A
// missing directory yields no goals rather than an error: goal measurement
// is opt-in. Files that fail to parse are skipped, not fatal.
func LoadGoals(dir string) ([]Goal, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var goals []Goal
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var g Goal
		if err := yaml.Unmarshal(data, &g); err != nil {
			continue
		}
		if g.Command == "" {
			continue
		}
		if g.ID == "" {
			g.ID = name
		}
		goals = append(goals, g)
	}
	return goals, nil
}
