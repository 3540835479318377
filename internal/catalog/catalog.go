// Package catalog is the in-process catalog, cart and checkout service the
// agent's tools call into.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound    = errors.New("item not found")
	ErrCartEmpty       = errors.New("cart empty")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrOutOfStock      = errors.New("item out of stock")
	ErrInvalidItem     = errors.New("invalid item")
)

type Product struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Category       string            `json:"category"`
	Price          float64           `json:"price"`
	Description    string            `json:"description"`
	InStock        bool              `json:"in_stock"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

// Summary drops the specifications for list views.
func (p Product) Summary() Product {
	p.Specifications = nil
	return p
}

// Catalog is an in-memory product store. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]Product
	order    []string
}

// New returns a catalog seeded with products.
func New(products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product)}
	for _, p := range products {
		c.put(p)
	}
	return c
}

// NewDefault returns a catalog seeded with SeedProducts.
func NewDefault() *Catalog {
	return New(SeedProducts...)
}

func (c *Catalog) put(p Product) {
	if _, exists := c.products[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.products[p.ID] = p
}

// Search returns products whose name, category or description contain every
// word of query, optionally restricted to category. Results keep catalog
// order and are cut at limit when limit > 0.
func (c *Catalog) Search(query, category string, limit int) []Product {
	terms := searchTerms(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Product
	for _, id := range c.order {
		p := c.products[id]
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		haystack := strings.ToLower(p.Name + " " + p.Category + " " + p.Description)
		if !containsAll(haystack, terms) {
			continue
		}
		out = append(out, p.Summary())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func searchTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		// "cables" should match "cable".
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		terms = append(terms, f)
	}
	return terms
}

func containsAll(haystack string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

// Get returns the product with id.
func (c *Catalog) Get(id string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return p, nil
}

// RegisterInput describes a new catalog item.
type RegisterInput struct {
	Name           string
	Category       string
	Price          float64
	Description    string
	InStock        bool
	Specifications map[string]string
}

// Register adds a new item and returns it with its generated id.
func (c *Catalog) Register(in RegisterInput) (Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if in.Price <= 0 {
		return Product{}, fmt.Errorf("%w: price must be positive", ErrInvalidItem)
	}
	p := Product{
		ID:             "item-" + uuid.NewString()[:8],
		Name:           name,
		Category:       strings.ToLower(strings.TrimSpace(in.Category)),
		Price:          in.Price,
		Description:    strings.TrimSpace(in.Description),
		InStock:        in.InStock,
		Specifications: in.Specifications,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(p)
	return p, nil
}

// Categories lists the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, p := range c.products {
		seen[p.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
