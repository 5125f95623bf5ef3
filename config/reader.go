package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// validationPath prefixes every validation error of a top level config.
const validationPath = "copc"

// Read reads a config from the given file, substituting environment variables such as
// ${AWS_SECRET_ACCESS_KEY} first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	return process(&cfg)
}

// FromAttributes decodes a loosely typed attribute map, such as one embedded in a larger JSON
// document, using the same field names as the JSON form. Unknown attributes are an error.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from attributes")
	}
	return process(&cfg)
}

func process(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(validationPath); err != nil {
		return nil, err
	}
	return cfg, nil
}
