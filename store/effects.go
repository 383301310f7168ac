package store

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/internal/av"
)

type effectKind int

const (
	effectPut effectKind = iota
	effectDelete
	effectCheck
)

func (k effectKind) String() string {
	switch k {
	case effectPut:
		return "Put"
	case effectDelete:
		return "Delete"
	default:
		return "ConditionCheck"
	}
}

// effect is one conditional write. When exists is false the condition is
// that the item does not exist; otherwise that it exists at version.
type effect struct {
	kind        effectKind
	table       string
	ck          string
	key         Key
	item        Item
	exists      bool
	version     int64
	versionAttr string
	hashAttr    string
}

func (e effect) ref() ItemRef {
	return ItemRef{Table: e.table, Key: cloneKey(e.key)}
}

func (e effect) condition() (expression.Expression, error) {
	var cond expression.ConditionBuilder
	switch {
	case !e.exists:
		cond = expression.AttributeNotExists(expression.Name(e.hashAttr))
	case e.version == 0:
		// Items written before versioning carry no version attribute.
		cond = expression.Name(e.versionAttr).Equal(expression.Value(0)).Or(
			expression.AttributeNotExists(expression.Name(e.versionAttr)).And(
				expression.AttributeExists(expression.Name(e.hashAttr)),
			),
		)
	default:
		cond = expression.Name(e.versionAttr).Equal(expression.Value(e.version))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return expression.Expression{}, &ValidationError{Table: e.table, Reason: "build condition", Err: err}
	}
	return expr, nil
}

func (e effect) putInput() (*dynamodb.PutItemInput, error) {
	expr, err := e.condition()
	if err != nil {
		return nil, err
	}
	return &dynamodb.PutItemInput{
		TableName:                 aws.String(e.table),
		Item:                      e.item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func (e effect) deleteInput() (*dynamodb.DeleteItemInput, error) {
	expr, err := e.condition()
	if err != nil {
		return nil, err
	}
	return &dynamodb.DeleteItemInput{
		TableName:                 aws.String(e.table),
		Key:                       e.key,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func (e effect) transactItem() (types.TransactWriteItem, error) {
	expr, err := e.condition()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	switch e.kind {
	case effectPut:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(e.table),
			Item:                      e.item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	case effectDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(e.table),
			Key:                       e.key,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	default:
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(e.table),
			Key:                       e.key,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	}
}

// plan is the compiled form of a transaction.
type plan struct {
	// effects are in submission order. They include condition checks only
	// when the plan is submitted as a batch.
	effects []effect
	// single means effects holds one Put or Delete to submit directly.
	single bool
	writes int
}

// itemVersion reads the version attribute of item. A missing attribute is
// version 0.
func itemVersion(table, versionAttr string, item Item) (int64, error) {
	v, ok := item[versionAttr]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, &ValidationError{
			Table:  table,
			Reason: fmt.Sprintf("version attribute %q is %T, not a number", versionAttr, v),
		}
	}
	version, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, &ValidationError{
			Table:  table,
			Reason: fmt.Sprintf("version attribute %q is not an integer", versionAttr),
			Err:    err,
		}
	}
	return version, nil
}

// compile diffs what tx observed against what it intends and produces the
// writes needed to get from one to the other.
func (s *Store) compile(tx *Transaction, now time.Time) (*plan, error) {
	obs := tx.observations()
	tables := tx.tableNames()
	sort.Strings(tables)

	var all []effect
	writes := 0
	for _, table := range tables {
		spec := tx.spec(table, tableSpec{})
		versionAttr := spec.versionAttr
		if versionAttr == "" {
			versionAttr = s.config.VersionAttribute
		}
		ignore := []string{versionAttr}
		if !s.config.DisableLastWritten {
			ignore = append(ignore, s.config.LastWrittenAttribute)
		}

		ts := tx.tables[table]
		var intents map[string]intent
		if ts != nil {
			intents = ts.intents
		}
		cks := make([]string, 0, len(obs[table])+len(intents))
		for ck := range obs[table] {
			cks = append(cks, ck)
		}
		for ck := range intents {
			if _, ok := obs[table][ck]; !ok {
				cks = append(cks, ck)
			}
		}
		sort.Strings(cks)

		for _, ck := range cks {
			o, observed := obs[table][ck]
			present := observed && o.item != nil
			in, hasIntent := intents[ck]

			key := o.key
			if ts != nil && ts.keys[ck] != nil {
				key = ts.keys[ck]
			}
			hashAttrs := spec.keyAttrs
			if len(hashAttrs) == 0 {
				hashAttrs = keyAttributesOf(key)
			}
			e := effect{
				table:       table,
				ck:          ck,
				key:         key,
				versionAttr: versionAttr,
				hashAttr:    hashAttrs[0],
			}
			if present {
				version, err := itemVersion(table, versionAttr, o.item)
				if err != nil {
					return nil, err
				}
				e.exists, e.version = true, version
			}

			switch {
			case !hasIntent:
				// Observed items, present or absent, must still be as seen.
				e.kind = effectCheck
			case in.delete && !observed:
				// Only offline snapshots get here: nothing is known to delete.
				continue
			case in.delete && !present:
				// Deleting what is not there changes nothing, but the
				// absence was read and is asserted like any other read.
				e.kind = effectCheck
			case in.delete:
				e.kind = effectDelete
				writes++
			case present && av.EqualItems(o.item, in.item, ignore...):
				e.kind = effectCheck
			default:
				item := Item(av.CloneItem(in.item))
				item[versionAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(e.version+1, 10)}
				if !s.config.DisableLastWritten {
					item[s.config.LastWrittenAttribute] = &types.AttributeValueMemberS{
						Value: now.UTC().Format(time.RFC3339),
					}
				}
				e.kind, e.item = effectPut, item
				writes++
			}
			all = append(all, e)
		}
	}

	p := &plan{writes: writes}
	switch {
	case writes == 0:
	case writes == 1 && len(all) == 1:
		p.effects, p.single = all, true
	default:
		if len(all) > s.config.MaxTransactItems {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("transaction spans %d items, more than the limit of %d", len(all), s.config.MaxTransactItems),
			}
		}
		p.effects = all
	}
	return p, nil
}

// tableOf returns the table of the i-th effect, or of the only effect when
// i is out of range.
func (p *plan) tableOf(i int) string {
	if i >= 0 && i < len(p.effects) {
		return p.effects[i].table
	}
	if len(p.effects) == 1 {
		return p.effects[0].table
	}
	return ""
}

// commit returns the snapshot of tx after p has been applied.
func (p *plan) commit(tx *Transaction) *Transaction {
	out := tx.detach()
	for _, e := range p.effects {
		var after Item
		switch e.kind {
		case effectPut:
			after = e.item
		case effectDelete:
			after = nil
		default:
			continue
		}
		ts := out.tables[e.table].clone()
		ts.keys[e.ck] = e.key
		ts.observed[e.ck] = after
		out.tables[e.table] = ts
	}
	return out
}
