// Package registry maps repository names to filesystem paths, loaded from a
// YAML file and treated as a read-only lookup by the rest of the system.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Repo is one registered repository.
type Repo struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// Registry holds the registered repositories in file order.
type Registry struct {
	repos  []Repo
	byName map[string]Repo
}

type reposFile struct {
	Repos []Repo `yaml:"repos"`
}

// Load reads the registry file. Duplicate names are an error; a missing or
// unreadable repo path is not checked here, invocation time surfaces it.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repos file: %w", err)
	}

	var file reposFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse repos file: %w", err)
	}

	byName := make(map[string]Repo, len(file.Repos))
	for _, repo := range file.Repos {
		if repo.Name == "" || repo.Path == "" {
			return nil, fmt.Errorf("repo entry missing name or path: %+v", repo)
		}
		if _, dup := byName[repo.Name]; dup {
			return nil, fmt.Errorf("duplicate repo name %q", repo.Name)
		}
		byName[repo.Name] = repo
	}

	return &Registry{repos: file.Repos, byName: byName}, nil
}

// Lookup returns the repo registered under name.
func (r *Registry) Lookup(name string) (Repo, bool) {
	repo, ok := r.byName[name]
	return repo, ok
}

// List returns the repositories in file order.
func (r *Registry) List() []Repo {
	out := make([]Repo, len(r.repos))
	copy(out, r.repos)
	return out
}
