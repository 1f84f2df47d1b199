package cache

import (
	"context"

	"github.com/marcus/posync/internal/models"
)

func cached[T any](ctx context.Context, c *Cache, key models.CollectionKey) ([]T, error) {
	snap, err := c.GetCached(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decode[T](snap)
}

// Products returns the cached product catalog
func (c *Cache) Products(ctx context.Context) ([]models.Product, error) {
	return cached[models.Product](ctx, c, models.ProductsKey)
}

// Clients returns the cached client list
func (c *Cache) Clients(ctx context.Context) ([]models.Client, error) {
	return cached[models.Client](ctx, c, models.ClientsKey)
}

// Categories returns the cached categories
func (c *Cache) Categories(ctx context.Context) ([]models.Category, error) {
	return cached[models.Category](ctx, c, models.CategoriesKey)
}

// InventorySession returns the cached copy of one session. ok is false when
// the session was never fetched.
func (c *Cache) InventorySession(ctx context.Context, id string) (session models.InventorySession, ok bool, err error) {
	sessions, err := cached[models.InventorySession](ctx, c, models.InventorySessionKey(id))
	if err != nil || len(sessions) == 0 {
		return models.InventorySession{}, false, err
	}
	return sessions[0], true, nil
}
