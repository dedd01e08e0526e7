package config

import (
	"log"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// Load loads the configuration from the directory.
func Load(path string) (*Configuration, error) {
	// If given the path to a config.yaml file, move back up a level.
	if filepath.Base(path) == ConfigurationName {
		path = filepath.Dir(path)
	}

	return loadFs(afero.NewBasePathFs(afero.NewOsFs(), path))
}

func loadFs(configFs afero.Fs) (*Configuration, error) {
	configContents, err := afero.ReadFile(configFs, ConfigurationName)
	if err != nil {
		return nil, err
	}
	var out Configuration
	if err := yaml.UnmarshalStrict(configContents, &out); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", ConfigurationName)
	}
	if err := out.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", ConfigurationName)
	}
	out.configFs = configFs
	return &out, nil
}

// Initialize writes the default configuration to the directory if one
// doesn't exist and loads it.
func Initialize(dir string, logger *log.Logger) (*Configuration, error) {
	if err := afero.NewOsFs().MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return initializeFs(afero.NewBasePathFs(afero.NewOsFs(), dir), logger)
}

func initializeFs(configFs afero.Fs, logger *log.Logger) (*Configuration, error) {
	exists, err := afero.Exists(configFs, ConfigurationName)
	switch {
	case err != nil:
		return nil, err
	case exists:
		logger.Printf("%s already exists, keeping it", ConfigurationName)
	default:
		logger.Printf("Writing %s", ConfigurationName)
		if err := afero.WriteFile(configFs, ConfigurationName, defaultConfigData, 0644); err != nil {
			return nil, err
		}
	}

	return loadFs(configFs)
}
