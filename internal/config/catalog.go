package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ternmaps/tern/internal/domain"
)

// Catalog maps layer ids to their download definitions. It is loaded from
// a YAML file separate from the service config so chart definitions can be
// updated without touching tuning parameters.
type Catalog struct {
	Layers []domain.Layer `yaml:"layers"`

	byID map[string]*domain.Layer
}

// LoadCatalog reads and indexes a layer catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading layer catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing layer catalog: %w", err)
	}

	if err := cat.index(); err != nil {
		return nil, err
	}

	return &cat, nil
}

// index validates entries and builds the id lookup.
func (c *Catalog) index() error {
	c.byID = make(map[string]*domain.Layer, len(c.Layers))

	for i := range c.Layers {
		l := &c.Layers[i]
		if l.ID == "" {
			return fmt.Errorf("layer %d: missing id", i)
		}
		if _, dup := c.byID[l.ID]; dup {
			return fmt.Errorf("layer %s: duplicate id", l.ID)
		}
		if len(l.SubLayers) == 0 {
			return fmt.Errorf("layer %s: no sublayers", l.ID)
		}
		if len(l.ZoomLevels) == 0 {
			return fmt.Errorf("layer %s: no zoom levels", l.ID)
		}
		if !l.Region.IsValid() {
			return fmt.Errorf("layer %s: invalid region", l.ID)
		}
		if l.Kind == "" {
			l.Kind = domain.KindChart
		}
		c.byID[l.ID] = l
	}

	return nil
}

// Layer returns the definition for an id.
func (c *Catalog) Layer(id string) (*domain.Layer, bool) {
	l, ok := c.byID[id]
	return l, ok
}

// IDs returns all known layer ids.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for _, l := range c.Layers {
		ids = append(ids, l.ID)
	}
	return ids
}
