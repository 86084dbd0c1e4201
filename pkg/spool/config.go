package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ConvertJSONFileToConfig opens a file.json and converts to Seasoning.
func ConvertJSONFileToConfig(fileNamePath string) (*Seasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &Seasoning{}
	var json = jsoniter.ConfigFastest
	err = json.Unmarshal(byteValue, config)

	return config, err
}

// ConvertYAMLFileToConfig opens a file.yaml and converts to Seasoning.
func ConvertYAMLFileToConfig(fileNamePath string) (*Seasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &Seasoning{}
	err = yaml.Unmarshal(byteValue, config)

	return config, err
}

// ConvertFileToConfig picks the JSON or YAML reader from the file extension.
func ConvertFileToConfig(fileNamePath string) (*Seasoning, error) {

	switch strings.ToLower(filepath.Ext(fileNamePath)) {
	case ".json":
		return ConvertJSONFileToConfig(fileNamePath)
	case ".yaml", ".yml":
		return ConvertYAMLFileToConfig(fileNamePath)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(fileNamePath))
	}
}

// LoadCredentialEnvFile reads a KEY=VALUE file into RawOptions.
// Empty values stay empty and are dropped later by NormalizeOptions.
func LoadCredentialEnvFile(fileNamePath string) (RawOptions, error) {

	values, err := godotenv.Read(fileNamePath)
	if err != nil {
		return nil, err
	}

	options := make(RawOptions, len(values))
	for key, value := range values {
		options[key] = value
	}

	return options, nil
}
