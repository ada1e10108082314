package db

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/suPer8Hu/city-searcher/internal/chat"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Cities []struct {
		Name     string `yaml:"name"`
		DocsetID string `yaml:"docset_id"`
	} `yaml:"cities"`
}

// SeedCities upserts the cities listed in a YAML file of the form
//
//	cities:
//	  - name: tulsa
//	    docset_id: abc
func SeedCities(ctx context.Context, repo *chat.Repo, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	n := 0
	for i, c := range f.Cities {
		name := strings.TrimSpace(c.Name)
		docset := strings.TrimSpace(c.DocsetID)
		if name == "" || docset == "" {
			return n, fmt.Errorf("%s: city #%d needs name and docset_id", path, i+1)
		}
		if err := repo.UpsertCity(ctx, &chat.City{Name: name, DocsetID: docset}); err != nil {
			return n, fmt.Errorf("upsert city %q: %w", name, err)
		}
		n++
	}
	return n, nil
}
