package profile

import (
	"bytes"
	"fmt"
	"os"

	appErr "coderunner/pkg/errors"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the language file schema this build understands.
const SupportedVersion = 1

// File is the on-disk language configuration.
type File struct {
	Version   int               `yaml:"version"`
	Languages []LanguageProfile `yaml:"languages"`
}

// LoadFile reads a versioned language file and builds a registry from it.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language file: %w", err)
	}
	return Load(data)
}

// Load parses a versioned language document and builds a registry from it.
func Load(data []byte) (*Registry, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "parse language file failed")
	}
	if file.Version != SupportedVersion {
		return nil, appErr.Newf(appErr.InvalidValue, "unsupported language file version %d", file.Version)
	}
	if len(file.Languages) == 0 {
		return nil, appErr.ValidationError("languages", "at least one language is required")
	}
	return NewRegistry(file.Languages)
}
