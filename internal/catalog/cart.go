package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxLineQuantity bounds a single cart line.
const MaxLineQuantity = 1000

type CartLine struct {
	ItemID    string  `json:"item_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

type Cart struct {
	ID    string     `json:"cart_id"`
	Lines []CartLine `json:"lines"`
	Total float64    `json:"total"`
}

type Order struct {
	ID       string     `json:"order_id"`
	CartID   string     `json:"cart_id"`
	Lines    []CartLine `json:"lines"`
	Total    float64    `json:"total"`
	PlacedAt time.Time  `json:"placed_at"`
}

// Carts keeps one cart per buyer session and turns carts into orders.
type Carts struct {
	catalog *Catalog

	mu     sync.Mutex
	carts  map[string][]CartLine
	orders map[string]Order
	now    func() time.Time
}

func NewCarts(c *Catalog) *Carts {
	return &Carts{
		catalog: c,
		carts:   make(map[string][]CartLine),
		orders:  make(map[string]Order),
		now:     time.Now,
	}
}

// Add puts quantity units of itemID into the cart, merging with an existing
// line for the same item.
func (s *Carts) Add(cartID, itemID string, quantity int) (Cart, error) {
	if quantity < 1 || quantity > MaxLineQuantity {
		return Cart{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	p, err := s.catalog.Get(itemID)
	if err != nil {
		return Cart{}, err
	}
	if !p.InStock {
		return Cart{}, fmt.Errorf("%w: %s", ErrOutOfStock, p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[cartID]
	merged := false
	for i := range lines {
		if lines[i].ItemID == itemID {
			if lines[i].Quantity+quantity > MaxLineQuantity {
				return Cart{}, fmt.Errorf("%w: line would exceed %d", ErrInvalidQuantity, MaxLineQuantity)
			}
			lines[i].Quantity += quantity
			lines[i].Subtotal = float64(lines[i].Quantity) * lines[i].UnitPrice
			merged = true
			break
		}
	}
	if !merged {
		lines = append(lines, CartLine{
			ItemID:    p.ID,
			Name:      p.Name,
			Quantity:  quantity,
			UnitPrice: p.Price,
			Subtotal:  float64(quantity) * p.Price,
		})
	}
	s.carts[cartID] = lines
	return snapshot(cartID, lines), nil
}

// View returns the cart; an unknown id is an empty cart.
func (s *Carts) View(cartID string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(cartID, s.carts[cartID])
}

// Checkout turns the cart into an order and empties it.
func (s *Carts) Checkout(cartID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[cartID]
	if len(lines) == 0 {
		return Order{}, ErrCartEmpty
	}
	cart := snapshot(cartID, lines)
	order := Order{
		ID:       "ord-" + uuid.NewString(),
		CartID:   cartID,
		Lines:    cart.Lines,
		Total:    cart.Total,
		PlacedAt: s.now().UTC(),
	}
	s.orders[order.ID] = order
	delete(s.carts, cartID)
	return order, nil
}

// Order returns a placed order.
func (s *Carts) Order(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func snapshot(cartID string, lines []CartLine) Cart {
	c := Cart{ID: cartID, Lines: make([]CartLine, len(lines))}
	copy(c.Lines, lines)
	for _, l := range lines {
		c.Total += l.Subtotal
	}
	return c
}
