package store_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/internal/ddbtest"
	"github.com/jacentio/versioned/store"
)

func Example() {
	db := ddbtest.New()
	db.CreateTable("tasks", "id")

	cfg := store.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.New(db, cfg)

	tasks := store.ItemTable("tasks", store.WithLabel("task"), store.WithKeyAttributes("id"))
	key := store.StringKey("id", "task1")

	create := store.CreateOrUpdate(tasks, func(current *store.Item) (store.Item, error) {
		if current != nil {
			return *current, nil
		}
		return store.Item{
			"id":   &types.AttributeValueMemberS{Value: "task1"},
			"name": &types.AttributeValueMemberS{Value: "plant tree"},
		}, nil
	}, key)

	for i := 0; i < 2; i++ {
		if _, err := s.Transact(context.Background(), create); err != nil {
			fmt.Println("error:", err)
			return
		}
	}

	stored := db.Item("tasks", key)
	fmt.Println(stored["item_version"].(*types.AttributeValueMemberN).Value, db.Writes())
	// Output: 1 1
}

func ExampleTransaction_Presume() {
	tasks := store.ItemTable("tasks", store.WithLabel("task"))
	key := store.StringKey("id", "task1")

	markDone := func(tx *store.Transaction) (*store.Transaction, error) {
		task, err := tasks.Require(tx, key)
		if err != nil {
			return nil, err
		}
		task["done"] = &types.AttributeValueMemberBOOL{Value: true}
		return tasks.Put(tx, task)
	}

	tx, _ := store.NewTransaction().Presume("tasks", key, nil)
	_, err := markDone(tx)
	fmt.Println(err)
	// Output: versioned: task (tasks) item {id="task1"} not found
}
