// Package catalog holds the product list the shop sells. It is loaded once at
// startup and never modified afterwards.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/openbuilders/loyalty-checkout/internal/errors"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Entry struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Catalog struct {
	entries []Entry
	index   map[string]int
}

type fileFormat struct {
	Products []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Price string `yaml:"price"`
	} `yaml:"products"`
}

// Default returns the embedded bakery catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalog from path, or the embedded one if path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.ServiceError{
			Code:    errors.CodeValidation,
			Message: "malformed catalog",
			Err:     err,
		}
	}

	entries := make([]Entry, 0, len(f.Products))
	for _, p := range f.Products {
		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil {
			return nil, errors.Validation(fmt.Sprintf("invalid price %q for %q", p.Price, p.ID))
		}
		entries = append(entries, Entry{ID: p.ID, Name: p.Name, Price: price})
	}

	return New(entries)
}

// New builds a catalog from entries, rejecting empty or duplicate ids and
// negative prices.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		if e.ID == "" {
			return nil, errors.Validation("catalog entry without id")
		}
		if _, dup := c.index[e.ID]; dup {
			return nil, errors.Validation(fmt.Sprintf("duplicate catalog id %q", e.ID))
		}
		if e.Price.IsNegative() {
			return nil, errors.Validation(fmt.Sprintf("negative price for %q", e.ID))
		}
		c.index[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}

	return c, nil
}

func (c *Catalog) Lookup(id string) (Entry, bool) {
	i, ok := c.index[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns a copy of the catalog in file order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Len() int {
	return len(c.entries)
}
