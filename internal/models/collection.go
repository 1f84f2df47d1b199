package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType names a server collection that is cached locally
type EntityType string

const (
	EntityProducts          EntityType = "products"
	EntityClients           EntityType = "clients"
	EntityCategories        EntityType = "categories"
	EntityInventorySessions EntityType = "inventory_sessions"
)

// AllEntityTypes lists every cacheable entity type
var AllEntityTypes = []EntityType{EntityProducts, EntityClients, EntityCategories, EntityInventorySessions}

// Valid reports whether e is a known entity type
func (e EntityType) Valid() bool {
	switch e {
	case EntityProducts, EntityClients, EntityCategories, EntityInventorySessions:
		return true
	}
	return false
}

// CollectionKey identifies one cached snapshot. Scope separates snapshots of
// the same entity type; inventory sessions are cached one session per key.
type CollectionKey struct {
	Entity EntityType
	Scope  string
}

// Key shortcuts for the global catalogs
var (
	ProductsKey   = CollectionKey{Entity: EntityProducts}
	ClientsKey    = CollectionKey{Entity: EntityClients}
	CategoriesKey = CollectionKey{Entity: EntityCategories}
)

// InventorySessionKey returns the key of one inventory session snapshot
func InventorySessionKey(sessionID string) CollectionKey {
	return CollectionKey{Entity: EntityInventorySessions, Scope: sessionID}
}

func (k CollectionKey) String() string {
	if k.Scope == "" {
		return string(k.Entity)
	}
	return string(k.Entity) + "/" + k.Scope
}

// Validate checks that the key names a known entity with the right scoping
func (k CollectionKey) Validate() error {
	if !k.Entity.Valid() {
		return fmt.Errorf("unknown collection %q", k.Entity)
	}
	if k.Entity == EntityInventorySessions && k.Scope == "" {
		return fmt.Errorf("collection %s requires a session id", k.Entity)
	}
	if k.Entity != EntityInventorySessions && k.Scope != "" {
		return fmt.Errorf("collection %s is not scoped", k.Entity)
	}
	return nil
}

// ParseCollectionKey parses "products" or "inventory_sessions/<id>".
// "sessions" is accepted as an alias of inventory_sessions.
func ParseCollectionKey(s string) (CollectionKey, error) {
	name, scope, _ := strings.Cut(strings.TrimSpace(s), "/")
	if name == "sessions" {
		name = string(EntityInventorySessions)
	}
	k := CollectionKey{Entity: EntityType(name), Scope: scope}
	if err := k.Validate(); err != nil {
		return CollectionKey{}, err
	}
	return k, nil
}

// Record is one entry of a snapshot, kept as the server's JSON
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Snapshot is a complete copy of one server collection
type Snapshot struct {
	Key         CollectionKey
	Records     []Record
	RefreshedAt time.Time // zero when never refreshed
	Hash        uint64
}

// Empty reports whether the snapshot has never been written
func (s Snapshot) Empty() bool {
	return s.RefreshedAt.IsZero()
}
