package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/temcen/hybridrec/pkg/models"
)

// MemoryStore is an in-process store used by tests and the demo seed. Products
// keep insertion order.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]models.Customer
	products  map[string]models.Product
	order     []string
	purchases []models.Purchase
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[string]models.Customer),
		products:  make(map[string]models.Product),
	}
}

// Import adds customers, products and purchases. Purchases must reference
// customers and products that exist or are part of the batch; a batch that
// fails validation leaves the store unchanged.
func (s *MemoryStore) Import(ctx context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customers := make(map[string]struct{}, len(batch.Customers))
	for _, c := range batch.Customers {
		customers[c.ID] = struct{}{}
	}
	products := make(map[string]struct{}, len(batch.Products))
	for _, p := range batch.Products {
		products[p.ID] = struct{}{}
	}

	for _, p := range batch.Purchases {
		if _, ok := customers[p.CustomerID]; !ok {
			if _, ok := s.customers[p.CustomerID]; !ok {
				return fmt.Errorf("purchase references customer %s: %w", p.CustomerID, models.ErrNotFound)
			}
		}
		if _, ok := products[p.ProductID]; !ok {
			if _, ok := s.products[p.ProductID]; !ok {
				return fmt.Errorf("purchase references product %s: %w", p.ProductID, models.ErrNotFound)
			}
		}
	}

	for _, c := range batch.Customers {
		s.customers[c.ID] = c
	}
	for _, p := range batch.Products {
		s.upsertLocked(p)
	}
	for _, p := range batch.Purchases {
		p.Category = ""
		s.purchases = append(s.purchases, p)
	}
	return nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customerID, models.ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) GetCustomerPurchases(ctx context.Context, customerID string, since time.Time) ([]models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Purchase
	for _, p := range s.purchases {
		if p.CustomerID != customerID || p.Date.Before(since) {
			continue
		}
		out = append(out, s.joinLocked(p))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		wanted[c] = struct{}{}
	}

	shared := make(map[string]map[string]struct{})
	for _, p := range s.purchases {
		if p.CustomerID == customerID {
			continue
		}
		category := s.products[p.ProductID].Category
		if _, ok := wanted[category]; !ok {
			continue
		}
		if shared[p.CustomerID] == nil {
			shared[p.CustomerID] = make(map[string]struct{})
		}
		shared[p.CustomerID][category] = struct{}{}
	}

	out := make([]models.CustomerOverlap, 0, len(shared))
	for id, cats := range shared {
		out = append(out, models.CustomerOverlap{CustomerID: id, OverlappingCategories: len(cats)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (s *MemoryStore) ListCatalog(ctx context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.products[id])
	}
	return out, nil
}

func (s *MemoryStore) GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cohort := make(map[string]struct{}, len(customerIDs))
	for _, id := range customerIDs {
		cohort[id] = struct{}{}
	}

	var out []models.Purchase
	for _, p := range s.purchases {
		if _, ok := cohort[p.CustomerID]; !ok || p.Date.Before(since) {
			continue
		}
		out = append(out, s.joinLocked(p))
	}
	return out, nil
}

func (s *MemoryStore) GetCategoryPopularity(ctx context.Context, category string) ([]models.ProductPopularity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, p := range s.purchases {
		counts[p.ProductID]++
	}

	var out []models.ProductPopularity
	for _, id := range s.order {
		p := s.products[id]
		if p.Category != category {
			continue
		}
		out = append(out, models.ProductPopularity{Product: p, PurchaseCount: counts[id]})
	}
	return out, nil
}

func (s *MemoryStore) UpdateProductPrice(ctx context.Context, productID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	p.Price = price
	p.UpdatedAt = time.Now()
	s.products[productID] = p
	return nil
}

func (s *MemoryStore) UpsertProducts(ctx context.Context, products []models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		s.upsertLocked(p)
	}
	return nil
}

func (s *MemoryStore) upsertLocked(p models.Product) {
	if _, ok := s.products[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.products[p.ID] = p
}

func (s *MemoryStore) joinLocked(p models.Purchase) models.Purchase {
	p.Category = s.products[p.ProductID].Category
	return p
}
