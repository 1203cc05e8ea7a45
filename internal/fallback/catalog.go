package fallback

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tutorstack/tutorguard/internal/trigger"
)

// ErrCatalogInvalid is returned when a catalog fails to parse or validate.
var ErrCatalogInvalid = errors.New("invalid fallback catalog")

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

var validate = validator.New()

// Catalog is the on-disk layout of fallback content.
//
//	subjects:   subject -> topic -> entries
//	triggers:   trigger -> entries
//	errorCodes: error code -> entries
//	offline:    subject -> topic -> entries
type Catalog struct {
	Subjects   map[string]map[string][]Content `yaml:"subjects" validate:"dive,dive,dive"`
	Triggers   map[string][]Content            `yaml:"triggers" validate:"dive,dive"`
	ErrorCodes map[string][]Content            `yaml:"errorCodes" validate:"dive,dive"`
	Offline    map[string]map[string][]Content `yaml:"offline" validate:"dive,dive,dive"`
}

// CatalogCounts summarizes a catalog.
type CatalogCounts struct {
	Subjects   int
	Topics     int
	Entries    int
	Triggers   int
	ErrorCodes int
	Offline    int
	ByTier     map[Tier]int
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decoding yaml: %v", ErrCatalogInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalogFile reads and validates the catalog at path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// Validate checks every entry and every trigger name.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogInvalid, err)
	}
	for name := range c.Triggers {
		if _, ok := trigger.Parse(name); !ok {
			return fmt.Errorf("%w: unknown trigger %q", ErrCatalogInvalid, name)
		}
	}
	return nil
}

// Counts summarizes the catalog.
func (c *Catalog) Counts() CatalogCounts {
	counts := CatalogCounts{
		Subjects:   len(c.Subjects),
		Triggers:   len(c.Triggers),
		ErrorCodes: len(c.ErrorCodes),
		ByTier:     make(map[Tier]int),
	}

	add := func(entries []Content) {
		for _, e := range entries {
			counts.Entries++
			counts.ByTier[e.Tier]++
		}
	}

	for _, topics := range c.Subjects {
		counts.Topics += len(topics)
		for _, entries := range topics {
			add(entries)
		}
	}
	for _, entries := range c.Triggers {
		add(entries)
	}
	for _, entries := range c.ErrorCodes {
		add(entries)
	}
	for _, topics := range c.Offline {
		for _, entries := range topics {
			counts.Offline += len(entries)
			add(entries)
		}
	}
	return counts
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
