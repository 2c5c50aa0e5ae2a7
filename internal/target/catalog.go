// Package target holds the catalog of chips the tool can attach to.
//
// Entries are embedded from targets.yaml and matched case-insensitively,
// first by exact name or alias, then by the longest family key that
// prefixes the requested chip name ("STM32F407VG" resolves to "stm32f4").
package target

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed targets.yaml
var targetsYAML []byte

// Target describes how to attach to one chip family.
type Target struct {
	// Name is the family key, e.g. "stm32f4"
	Name string `yaml:"name"`

	// Aliases are extra exact names for the entry
	Aliases []string `yaml:"aliases"`

	Description string `yaml:"description"`

	// Config is the OpenOCD target script
	Config string `yaml:"config"`

	// MassErase is the flash driver command erasing a bank; "{bank}" is
	// replaced by the bank index. Empty means erase sector by sector.
	MassErase string `yaml:"mass_erase"`

	// Cores is the number of debuggable cores the config exposes
	Cores int `yaml:"cores"`

	// Protected means a full-chip erase needs explicit permission
	Protected bool `yaml:"protected"`
}

// MassEraseCommand renders the mass erase command for bank.
func (t *Target) MassEraseCommand(bank int) string {
	if t.MassErase == "" {
		return ""
	}
	return strings.ReplaceAll(t.MassErase, "{bank}", fmt.Sprint(bank))
}

// UnknownTargetError is returned when no catalog entry matches a name.
type UnknownTargetError struct {
	Name  string
	Known []string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q (supported families: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Catalog is an indexed set of targets.
type Catalog struct {
	Targets []*Target

	index map[string]*Target
}

type catalogContainer struct {
	Targets []*Target `yaml:"targets"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
	defaultCatalogErr  error
)

// Load returns the embedded catalog. The YAML is parsed once.
func Load() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = Parse(targetsYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var container catalogContainer
	if err := yaml.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to parse target catalog: %w", err)
	}

	c := &Catalog{
		Targets: container.Targets,
		index:   make(map[string]*Target),
	}
	for _, t := range c.Targets {
		if t.Name == "" || t.Config == "" {
			return nil, fmt.Errorf("target catalog entry %q is missing name or config", t.Name)
		}
		if t.Cores <= 0 {
			t.Cores = 1
		}
		for _, key := range append([]string{t.Name}, t.Aliases...) {
			key = strings.ToLower(key)
			if _, dup := c.index[key]; dup {
				return nil, fmt.Errorf("duplicate target name %q in catalog", key)
			}
			c.index[key] = t
		}
	}
	return c, nil
}

// Lookup resolves a chip or family name.
func (c *Catalog) Lookup(name string) (*Target, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, &UnknownTargetError{Name: name, Known: c.Names()}
	}
	if t, ok := c.index[key]; ok {
		return t, nil
	}

	var best string
	for k := range c.index {
		if strings.HasPrefix(key, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return nil, &UnknownTargetError{Name: name, Known: c.Names()}
	}
	return c.index[best], nil
}

// Names returns the family keys in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
