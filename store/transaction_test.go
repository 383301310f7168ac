package store_test

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/store"
)

func taskItem(id, name string) store.Item {
	return store.Item{
		"id":   &types.AttributeValueMemberS{Value: id},
		"name": &types.AttributeValueMemberS{Value: name},
	}
}

func nameOf(item store.Item) string {
	if v, ok := item["name"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func must(t *testing.T) func(*store.Transaction, error) *store.Transaction {
	return func(tx *store.Transaction, err error) *store.Transaction {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return tx
	}
}

func TestOfflineGet_UnknownItem(t *testing.T) {
	tx := store.NewTransaction()
	_, err := tx.Get("tasks", store.StringKey("id", "t1"))
	if !errors.Is(err, store.ErrItemNotYetFetched) {
		t.Errorf("expected ErrItemNotYetFetched, got %v", err)
	}
}

func TestPresume_ThenGet(t *testing.T) {
	key := store.StringKey("id", "t1")
	tx := must(t)(store.NewTransaction().Presume("tasks", key, taskItem("t1", "plant tree")))

	item, err := tx.Get("tasks", key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nameOf(item) != "plant tree" {
		t.Errorf("expected 'plant tree', got %q", nameOf(item))
	}

	// Mutating a returned item must not change the snapshot.
	item["name"] = &types.AttributeValueMemberS{Value: "changed"}
	again, _ := tx.Get("tasks", key)
	if nameOf(again) != "plant tree" {
		t.Errorf("expected snapshot to be unchanged, got %q", nameOf(again))
	}
}

func TestPresume_Absence(t *testing.T) {
	key := store.StringKey("id", "t1")
	tx := must(t)(store.NewTransaction().Presume("tasks", key, nil))

	item, err := tx.Get("tasks", key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil item, got %v", item)
	}

	_, err = tx.Require("tasks", key)
	var nf *store.ItemNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ItemNotFoundError, got %v", err)
	}
	if nf.Table != "tasks" {
		t.Errorf("expected table 'tasks', got %q", nf.Table)
	}
	if !errors.Is(err, store.ErrItemNotFound) {
		t.Error("expected error to match ErrItemNotFound")
	}
}

func TestPresume_NoOpWhenAlreadyObserved(t *testing.T) {
	key := store.StringKey("id", "t1")
	tx := must(t)(store.NewTransaction().Presume("tasks", key, taskItem("t1", "first")))
	tx = must(t)(tx.Presume("tasks", key, taskItem("t1", "second")))

	item, _ := tx.Get("tasks", key)
	if nameOf(item) != "first" {
		t.Errorf("expected first presumption to stick, got %q", nameOf(item))
	}
}

func TestPresume_ItemMustCarryKey(t *testing.T) {
	_, err := store.NewTransaction().Presume("tasks", store.StringKey("id", "t1"), taskItem("t2", "x"))
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestPut_IsImmutable(t *testing.T) {
	key := store.StringKey("id", "t1")
	base := must(t)(store.NewTransaction().Presume("tasks", key, nil))
	next := must(t)(base.Put("tasks", taskItem("t1", "plant tree")))

	if item, _ := base.Get("tasks", key); item != nil {
		t.Errorf("expected original snapshot to still see absence, got %v", item)
	}
	if item, _ := next.Get("tasks", key); nameOf(item) != "plant tree" {
		t.Errorf("expected derived snapshot to see the put, got %v", item)
	}
}

func TestPut_LastWriteWins(t *testing.T) {
	tx := store.NewTransaction().Define("tasks", "id")
	tx = must(t)(tx.Put("tasks", taskItem("t1", "one")))
	tx = must(t)(tx.Put("tasks", taskItem("t1", "two")))

	item, err := tx.Get("tasks", store.StringKey("id", "t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nameOf(item) != "two" {
		t.Errorf("expected 'two', got %q", nameOf(item))
	}
}

func TestPut_UnknownSchemaOffline(t *testing.T) {
	_, err := store.NewTransaction().Put("tasks", taskItem("t1", "x"))
	if !errors.Is(err, store.ErrTableSchemaUnknown) {
		t.Errorf("expected ErrTableSchemaUnknown, got %v", err)
	}
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected schema error to be a validation error, got %v", err)
	}
}

func TestPut_SchemaFromKnownKey(t *testing.T) {
	tx := must(t)(store.NewTransaction().Presume("tasks", store.StringKey("id", "a"), nil))
	if _, err := tx.Put("tasks", taskItem("b", "x")); err != nil {
		t.Errorf("expected key attributes to be taken from a seen key, got %v", err)
	}
}

func TestPut_MissingKeyAttribute(t *testing.T) {
	tx := store.NewTransaction().Define("tasks", "id")
	_, err := tx.Put("tasks", store.Item{"name": &types.AttributeValueMemberS{Value: "x"}})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestPut_NilItem(t *testing.T) {
	_, err := store.NewTransaction().Define("tasks", "id").Put("tasks", nil)
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDelete_ThenGet(t *testing.T) {
	key := store.StringKey("id", "t1")
	tx := must(t)(store.NewTransaction().Presume("tasks", key, taskItem("t1", "x")))
	tx = must(t)(tx.Delete("tasks", key))

	item, err := tx.Get("tasks", key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Errorf("expected deleted item to read as absent, got %v", item)
	}
}

func TestMalformedKeys(t *testing.T) {
	tx := store.NewTransaction().Define("events", "pk", "sk")
	tests := []struct {
		name string
		key  store.Key
	}{
		{"empty", store.Key{}},
		{"non-scalar", store.Key{
			"pk": &types.AttributeValueMemberBOOL{Value: true},
			"sk": &types.AttributeValueMemberS{Value: "x"},
		}},
		{"missing range key", store.Key{"pk": &types.AttributeValueMemberS{Value: "a"}}},
		{"extra attribute", store.Key{
			"pk":    &types.AttributeValueMemberS{Value: "a"},
			"sk":    &types.AttributeValueMemberS{Value: "b"},
			"other": &types.AttributeValueMemberS{Value: "c"},
		}},
	}

	for _, tt := range tests {
		if _, err := tx.Get("events", tt.key); !errors.Is(err, store.ErrValidation) {
			t.Errorf("%s: expected ErrValidation from Get, got %v", tt.name, err)
		}
		if _, err := tx.Delete("events", tt.key); !errors.Is(err, store.ErrValidation) {
			t.Errorf("%s: expected ErrValidation from Delete, got %v", tt.name, err)
		}
	}
}

func TestKeyNumbersAreCanonical(t *testing.T) {
	tx := must(t)(store.NewTransaction().Presume("counters", store.Key{
		"id": &types.AttributeValueMemberN{Value: "7.0"},
	}, store.Item{
		"id":    &types.AttributeValueMemberN{Value: "7"},
		"count": &types.AttributeValueMemberN{Value: "1"},
	}))

	item, err := tx.Get("counters", store.NumberKey("id", 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item == nil {
		t.Error("expected 7.0 and 7 to address the same item")
	}
}
