package rowmap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of Options:
//
//	tag: db
//	case_sensitive: false
//	capacity: 10000
//	missing_members: zero   # or fail
//	null_as_zero: false
type Config struct {
	Tag            string        `yaml:"tag"`
	CaseSensitive  bool          `yaml:"case_sensitive"`
	Capacity       int           `yaml:"capacity"`
	MissingMembers MissingPolicy `yaml:"missing_members"`
	NullAsZero     bool          `yaml:"null_as_zero"`
}

// ParseConfig decodes a YAML document. Unknown keys are rejected; an empty
// document yields the zero Config (all defaults).
func ParseConfig(b []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("rowmap: config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rowmap: config: %w", err)
	}
	return ParseConfig(b)
}

func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("rowmap: config: capacity must be >= 0, got %d", c.Capacity)
	}
	if c.MissingMembers > MissingFail {
		return fmt.Errorf("rowmap: config: unknown missing member policy %d", c.MissingMembers)
	}
	return nil
}

func (c Config) Options() Options {
	return Options{
		TagName:        c.Tag,
		CaseSensitive:  c.CaseSensitive,
		Capacity:       c.Capacity,
		MissingMembers: c.MissingMembers,
		NullAsZero:     c.NullAsZero,
	}
}
