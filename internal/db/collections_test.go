package db

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/marcus/posync/internal/models"
)

func records(ids ...string) []models.Record {
	out := make([]models.Record, len(ids))
	for i, id := range ids {
		data, _ := json.Marshal(map[string]string{"id": id, "name": "item " + id})
		out[i] = models.Record{ID: id, Data: data}
	}
	return out
}

func TestReadCollectionNeverWritten(t *testing.T) {
	db := openTestDB(t)

	snap, err := db.ReadCollection(context.Background(), models.ProductsKey)
	if err != nil {
		t.Fatalf("ReadCollection: %v", err)
	}
	if !snap.Empty() {
		t.Error("expected empty snapshot")
	}
	if snap.Records == nil || len(snap.Records) != 0 {
		t.Errorf("Records = %#v, want empty non-nil slice", snap.Records)
	}
}

func TestWriteCollectionReplaces(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.WriteCollection(ctx, models.ProductsKey, records("a", "b", "c"), 11); err != nil {
		t.Fatalf("first write: %v", err)
	}
	refreshed, err := db.WriteCollection(ctx, models.ProductsKey, records("c", "d"), 22)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if !refreshed.Equal(testNow) {
		t.Errorf("refreshed = %v, want %v", refreshed, testNow)
	}

	snap, err := db.ReadCollection(ctx, models.ProductsKey)
	if err != nil {
		t.Fatalf("ReadCollection: %v", err)
	}
	if len(snap.Records) != 2 || snap.Records[0].ID != "c" || snap.Records[1].ID != "d" {
		t.Fatalf("Records = %+v, want [c d]", snap.Records)
	}
	if snap.Hash != 22 {
		t.Errorf("Hash = %d, want 22", snap.Hash)
	}
	if !snap.RefreshedAt.Equal(testNow) {
		t.Errorf("RefreshedAt = %v, want %v", snap.RefreshedAt, testNow)
	}
}

func TestWriteCollectionEmptyIsNotNeverWritten(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.WriteCollection(ctx, models.ClientsKey, nil, 0); err != nil {
		t.Fatalf("WriteCollection: %v", err)
	}
	snap, err := db.ReadCollection(ctx, models.ClientsKey)
	if err != nil {
		t.Fatalf("ReadCollection: %v", err)
	}
	if snap.Empty() {
		t.Error("a written empty collection should carry its refresh time")
	}
	if len(snap.Records) != 0 {
		t.Errorf("Records = %d, want 0", len(snap.Records))
	}
}

func TestWriteCollectionScopesAreIndependent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s1 := models.InventorySessionKey("s-1")
	s2 := models.InventorySessionKey("s-2")
	if _, err := db.WriteCollection(ctx, s1, records("s-1"), 1); err != nil {
		t.Fatalf("write s-1: %v", err)
	}
	if _, err := db.WriteCollection(ctx, s2, records("s-2"), 2); err != nil {
		t.Fatalf("write s-2: %v", err)
	}

	snap, err := db.ReadCollection(ctx, s1)
	if err != nil {
		t.Fatalf("ReadCollection: %v", err)
	}
	if len(snap.Records) != 1 || snap.Records[0].ID != "s-1" {
		t.Errorf("s-1 records = %+v", snap.Records)
	}

	infos, err := db.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("ListCollections = %d entries, want 2", len(infos))
	}
	if infos[0].Key != s1 || infos[1].Key != s2 {
		t.Errorf("ListCollections keys = %v, %v", infos[0].Key, infos[1].Key)
	}
}

func TestCollectionKeyValidated(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	bad := models.CollectionKey{Entity: models.EntityInventorySessions}
	if _, err := db.ReadCollection(ctx, bad); err == nil {
		t.Error("expected error for unscoped session key")
	}
	if _, err := db.WriteCollection(ctx, models.CollectionKey{Entity: "invoices"}, nil, 0); err == nil {
		t.Error("expected error for unknown entity")
	}
}
