// Package catalog loads the read-only suggested-book catalog and the
// classification taxonomy. Both ship embedded and can be replaced by files.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"bookshelf/internal/models"
)

//go:embed data/books.json data/taxonomy.yaml
var defaults embed.FS

// Metadata describes a catalog feed
type Metadata struct {
	TotalBooks      int `json:"totalBooks"`
	TotalCategories int `json:"totalCategories"`
}

type feed struct {
	Metadata Metadata              `json:"metadata"`
	Books    []models.CatalogEntry `json:"books"`
}

// Catalog is an immutable list of suggested books
type Catalog struct {
	metadata   Metadata
	entries    []models.CatalogEntry
	byID       map[int]int
	authors    []string
	categories []string
}

// Load reads the catalog from path, or the embedded default when path is empty
func Load(path string) (*Catalog, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = defaults.ReadFile("data/books.json")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog feed. Entry ids must be unique.
func Parse(data []byte) (*Catalog, error) {
	var f feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c := &Catalog{
		metadata: f.Metadata,
		entries:  f.Books,
		byID:     make(map[int]int, len(f.Books)),
	}
	seenAuthor := make(map[string]bool)
	seenCategory := make(map[string]bool)
	for i, entry := range f.Books {
		if _, dup := c.byID[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %d", entry.ID)
		}
		c.byID[entry.ID] = i

		if entry.Author != "" && !seenAuthor[entry.Author] {
			seenAuthor[entry.Author] = true
			c.authors = append(c.authors, entry.Author)
		}
		if entry.Category != "" && !seenCategory[entry.Category] {
			seenCategory[entry.Category] = true
			c.categories = append(c.categories, entry.Category)
		}
	}
	if c.metadata.TotalBooks == 0 {
		c.metadata.TotalBooks = len(c.entries)
	}
	if c.metadata.TotalCategories == 0 {
		c.metadata.TotalCategories = len(c.categories)
	}
	return c, nil
}

// Entries returns a copy of all entries in feed order
func (c *Catalog) Entries() []models.CatalogEntry {
	out := make([]models.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Entry looks up an entry by id
func (c *Catalog) Entry(id int) (models.CatalogEntry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Authors lists distinct authors in order of first appearance
func (c *Catalog) Authors() []string {
	return append([]string(nil), c.authors...)
}

// Categories lists distinct categories in order of first appearance
func (c *Catalog) Categories() []string {
	return append([]string(nil), c.categories...)
}

// Metadata returns the feed metadata
func (c *Catalog) Metadata() Metadata {
	return c.metadata
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	return len(c.entries)
}
