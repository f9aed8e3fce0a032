package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// groupFile accepts either a bare list of elements or {elements: [...]}.
type groupFile struct {
	Elements []string `yaml:"elements"`
}

// LoadGroup returns the elements of a named search group, looking at the
// inline [groups] table first and <GroupDir>/<name>.yaml second.
func (c Config) LoadGroup(name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if elems, ok := c.Groups[name]; ok {
		return elems, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	path := filepath.Join(c.GroupDir, name+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q (no inline group and no %s)", ErrUnknownGroup, name, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s: %w", path, err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return normalizeList(list), nil
	}
	var doc groupFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse group %s: %w", ErrInvalidConfig, path, err)
	}
	return normalizeList(doc.Elements), nil
}

// SearchTargets unions strategy.search with every configured group, keeping
// first-seen order.
func (c Config) SearchTargets() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(elems []string) {
		for _, e := range elems {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	add(normalizeList(c.Strategy.Search))
	for _, name := range c.Strategy.Groups {
		elems, err := c.LoadGroup(name)
		if err != nil {
			return nil, err
		}
		add(elems)
	}
	return out, nil
}
