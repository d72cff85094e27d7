package catalog

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	domainerrors "bookshelf/internal/errors"
)

// Category is a top-level classification with its allowed subcategories
type Category struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Subcategories []string `yaml:"subcategories" json:"subcategories"`
}

// Taxonomy is the fixed classification table books are checked against
type Taxonomy struct {
	Categories []Category `yaml:"categories" json:"categories"`
	Genres     []string   `yaml:"genres" json:"genres"`
}

// LoadTaxonomy reads the taxonomy from path, or the embedded default when path is empty
func LoadTaxonomy(path string) (*Taxonomy, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = defaults.ReadFile("data/taxonomy.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes a YAML taxonomy
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}
	seen := make(map[string]bool, len(t.Categories))
	for _, c := range t.Categories {
		if c.ID == "" {
			return nil, fmt.Errorf("taxonomy category %q has no id", c.Name)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate taxonomy category %q", c.ID)
		}
		seen[c.ID] = true
	}
	return &t, nil
}

// Category looks up a category by id
func (t *Taxonomy) Category(id string) (Category, bool) {
	for _, c := range t.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Check verifies that the classification of a book exists in the table.
// Empty fields are allowed; a subcategory needs its category.
func (t *Taxonomy) Check(category, subcategory, genre string) error {
	fields := make(map[string]string)

	if category != "" {
		c, ok := t.Category(category)
		if !ok {
			fields["category"] = "is not a known category"
		} else if subcategory != "" && !slices.Contains(c.Subcategories, subcategory) {
			fields["subcategory"] = "does not belong to category " + category
		}
	} else if subcategory != "" {
		fields["subcategory"] = "requires a category"
	}

	if genre != "" && !slices.Contains(t.Genres, genre) {
		fields["genre"] = "is not a known genre"
	}

	if len(fields) > 0 {
		return domainerrors.ValidationWithDetails("invalid classification", fields)
	}
	return nil
}
