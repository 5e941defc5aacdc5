package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadScene loads a scene from a JSON file.
func LoadScene(path string) (*Scene, error) {
	var s Scene
	if err := readJSON(path, &s); err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("failed to load scene: %s has no id", path)
	}
	return &s, nil
}

// LoadProject loads a project from a JSON file.
func LoadProject(path string) (*Project, error) {
	var p Project
	if err := readJSON(path, &p); err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("failed to load project: %s has no id", path)
	}
	return &p, nil
}

// LoadModels reads the collision model of every object type used by the
// scene from dir/<depascalized type>.json. Types without a model file map
// to nil.
func LoadModels(dir string, s *Scene) (map[string]Model, error) {
	models := make(map[string]Model)
	for _, typeName := range s.ObjectTypes() {
		path := filepath.Join(dir, Depascalize(typeName)+".json")

		var om ObjectModel
		err := readJSON(path, &om)
		if errors.Is(err, fs.ErrNotExist) {
			models[typeName] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load model of %s: %w", typeName, err)
		}

		m, err := om.Model()
		if err != nil {
			return nil, fmt.Errorf("invalid model of %s: %w", typeName, err)
		}
		models[typeName] = m
	}
	return models, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
