// Package codeindex detects project metadata (package manager, test runner,
// framework) and builds a sector-grouped index of a repository, used by the
// session controller on start.
package codeindex

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
)

// ignoredDirs are never descended into or counted as sectors.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// markerOrder is checked in this priority order so a repo with both a
// go.mod and a stray package.json (e.g. for tooling) still classifies as Go.
var markerOrder = []struct {
	file       string
	manager    string
	testRunner string
}{
	{"go.mod", "go", "go test"},
	{"Cargo.toml", "cargo", "cargo test"},
	{"pyproject.toml", "pip", "pytest"},
	{"requirements.txt", "pip", "pytest"},
	{"package.json", "npm", "npm test"},
}

// Index describes a repository's detected metadata.
type Index struct {
	Root       string   `json:"root"`
	Manager    string   `json:"manager"`
	TestRunner string   `json:"test_runner"`
	Framework  string   `json:"framework,omitempty"`
	Sectors    []Sector `json:"sectors"`
	Digest     string   `json:"digest"`
}

// Sector is a top-level directory tracked for per-sector coverage metrics
// (GLOSSARY: "a partition of the codebase, roughly a top-level module").
type Sector struct {
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
}

const maxWalkDepth = 6

// BuildCodebaseIndex walks root and classifies it.
func BuildCodebaseIndex(root string) (*Index, error) {
	idx := &Index{Root: root}

	if manager, runner, ok := detectMarker(root); ok {
		idx.Manager = manager
		idx.TestRunner = runner
	}
	idx.Framework = detectFramework(root, idx.Manager)

	sectors, err := scanSectors(root)
	if err != nil {
		return nil, err
	}
	idx.Sectors = sectors
	idx.Digest = computeDigest(idx)
	return idx, nil
}

// RefreshCodebaseIndex rebuilds the index from root and returns idx unchanged
// if nothing on disk has moved: it is the identity function when the tree
// has not changed.
func RefreshCodebaseIndex(idx *Index, root string) (*Index, error) {
	fresh, err := BuildCodebaseIndex(root)
	if err != nil {
		return nil, err
	}
	if idx != nil && fresh.Digest == idx.Digest {
		return idx, nil
	}
	return fresh, nil
}

func detectMarker(root string) (manager, testRunner string, ok bool) {
	for _, m := range markerOrder {
		if _, err := os.Stat(filepath.Join(root, m.file)); err == nil {
			if m.manager == "npm" {
				if _, err := os.Stat(filepath.Join(root, "pnpm-lock.yaml")); err == nil {
					return "pnpm", "pnpm test", true
				}
			}
			return m.manager, m.testRunner, true
		}
	}
	return "", "", false
}

// frameworkMarkers maps a marker file (existence-only, content not parsed)
// to a framework label, checked after the package manager is known.
var frameworkMarkers = map[string][]string{
	"go":  {"go.work"},
	"npm": {"next.config.js", "vite.config.ts", "angular.json"},
}

func detectFramework(root, manager string) string {
	candidates := map[string]string{
		"next.config.js": "next",
		"vite.config.ts": "vite",
		"angular.json":   "angular",
		"go.work":        "go-workspace",
	}
	for _, file := range frameworkMarkers[manager] {
		if label, ok := candidates[file]; ok {
			if _, err := os.Stat(filepath.Join(root, file)); err == nil {
				return label
			}
		}
	}
	return ""
}

func scanSectors(root string) ([]Sector, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sectors []Sector
	for _, e := range entries {
		if !e.IsDir() || ignoredDirs[e.Name()] || isHidden(e.Name()) {
			continue
		}
		count, err := countFiles(filepath.Join(root, e.Name()), 1, maxWalkDepth)
		if err != nil {
			continue
		}
		sectors = append(sectors, Sector{Name: e.Name(), FileCount: count})
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i].Name < sectors[j].Name })
	return sectors, nil
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func countFiles(dir string, depth, maxDepth int) (int, error) {
	if depth > maxDepth {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			if ignoredDirs[e.Name()] || isHidden(e.Name()) {
				continue
			}
			sub, err := countFiles(filepath.Join(dir, e.Name()), depth+1, maxDepth)
			if err != nil {
				continue
			}
			count += sub
			continue
		}
		count++
	}
	return count, nil
}

func computeDigest(idx *Index) string {
	h := sha256.New()
	h.Write([]byte(idx.Manager))
	h.Write([]byte(idx.TestRunner))
	h.Write([]byte(idx.Framework))
	for _, s := range idx.Sectors {
		h.Write([]byte(s.Name))
		h.Write([]byte{byte(s.FileCount), byte(s.FileCount >> 8)})
	}
	return hex.EncodeToString(h.Sum(nil))
}
