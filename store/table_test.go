package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/internal/ddbtest"
	"github.com/jacentio/versioned/store"
)

type project struct {
	ID      string `dynamodbav:"id"`
	Name    string `dynamodbav:"name"`
	Tasks   int    `dynamodbav:"tasks"`
	Version int64  `dynamodbav:"item_version,omitempty"`
}

var projects = store.MarshaledTable[project]("projects", store.WithLabel("project"), store.WithKeyAttributes("id"))

func TestTypedTable_Label(t *testing.T) {
	if got := projects.Label(); got != "project" {
		t.Errorf("expected 'project', got %q", got)
	}
	if got := store.ItemTable("things").Label(); got != "things" {
		t.Errorf("expected label to default to the table name, got %q", got)
	}
	if got := projects.Name(); got != "projects" {
		t.Errorf("expected 'projects', got %q", got)
	}
}

func TestMarshaledTable_Offline(t *testing.T) {
	key := store.StringKey("id", "p1")
	tx, err := projects.Presume(store.NewTransaction(), key, &project{ID: "p1", Name: "garden"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok, err := projects.Get(tx, key)
	if err != nil || !ok {
		t.Fatalf("expected project, got ok=%v err=%v", ok, err)
	}
	if p.Name != "garden" {
		t.Errorf("expected 'garden', got %q", p.Name)
	}

	p.Tasks = 3
	tx, err = projects.Put(tx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := projects.Require(tx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Tasks != 3 {
		t.Errorf("expected 3 tasks, got %d", again.Tasks)
	}
}

func TestMarshaledTable_PresumeAbsence(t *testing.T) {
	key := store.StringKey("id", "p1")
	tx, err := projects.Presume(store.NewTransaction(), key, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := projects.Get(tx, key); ok || err != nil {
		t.Errorf("expected absence, got ok=%v err=%v", ok, err)
	}

	_, err = projects.Require(tx, key)
	var nf *store.ItemNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ItemNotFoundError, got %v", err)
	}
	if nf.Label != "project" {
		t.Errorf("expected label 'project', got %q", nf.Label)
	}
}

func TestTypedTable_DeserializeError(t *testing.T) {
	broken := store.NewTypedTable("tasks",
		func(store.Item) (string, error) { return "", errors.New("cannot decode") },
		func(string) (store.Item, error) { return nil, errors.New("cannot encode") },
		store.WithKeyAttributes("id"),
	)
	key := store.StringKey("id", "a")
	tx := must(t)(store.NewTransaction().Presume("tasks", key, taskItem("a", "x")))

	if _, _, err := broken.Get(tx, key); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation from Get, got %v", err)
	}
	if _, err := broken.Put(tx, "x"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation from Put, got %v", err)
	}
}

func TestWithVersionAttribute(t *testing.T) {
	db := ddbtest.New()
	db.CreateTable("counters", "name")
	s := store.New(db, store.Config{DisableLastWritten: true})

	counters := store.ItemTable("counters", store.WithVersionAttribute("rev"))
	key := store.StringKey("name", "hits")
	bump := store.CreateOrUpdate(counters, func(current *store.Item) (store.Item, error) {
		if current == nil {
			return store.Item{
				"name":  &types.AttributeValueMemberS{Value: "hits"},
				"count": &types.AttributeValueMemberN{Value: "1"},
			}, nil
		}
		return increment(*current)
	}, key)

	for i := 0; i < 2; i++ {
		if _, err := s.Transact(context.Background(), bump); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	stored := db.Item("counters", key)
	if rev, _ := stored["rev"].(*types.AttributeValueMemberN); rev == nil || rev.Value != "2" {
		t.Errorf("expected rev 2, got %v", stored["rev"])
	}
	if _, ok := stored["item_version"]; ok {
		t.Error("expected the default version attribute to be unused")
	}
	if _, ok := stored["last_written_at"]; ok {
		t.Error("expected no last_written_at stamp")
	}
	if got := counterOf(stored); got != 2 {
		t.Errorf("expected count 2, got %d", got)
	}
}

func TestMarshaledTable_Transact(t *testing.T) {
	db, s := newTestStore(t)
	seed(t, db, "projects", versioned(store.Item{
		"id":    &types.AttributeValueMemberS{Value: "p1"},
		"name":  &types.AttributeValueMemberS{Value: "garden"},
		"tasks": &types.AttributeValueMemberN{Value: "0"},
	}, 1))

	addTask := store.UpdateIfExists(projects, func(p project) (project, error) {
		p.Tasks++
		return p, nil
	}, store.StringKey("id", "p1"))

	committed, err := s.Transact(context.Background(), func(tx *store.Transaction) (*store.Transaction, error) {
		tx, err := addTask(tx)
		if err != nil {
			return nil, err
		}
		return tasks.Put(tx, taskItem("t1", "dig"))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := projects.Require(committed, store.StringKey("id", "p1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tasks != 1 || p.Version != 2 {
		t.Errorf("expected 1 task at version 2, got %d at version %d", p.Tasks, p.Version)
	}
	if db.Calls(ddbtest.OpTransactWriteItems) != 1 {
		t.Errorf("expected both tables in one transaction, got %d", db.Calls(ddbtest.OpTransactWriteItems))
	}
	if db.Calls(ddbtest.OpDescribeTable) != 1 {
		t.Errorf("expected one schema lookup for the untyped table, got %d", db.Calls(ddbtest.OpDescribeTable))
	}
}
