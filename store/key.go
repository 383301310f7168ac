package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/internal/av"
)

// Item is a DynamoDB item in its native attribute-value form.
type Item map[string]types.AttributeValue

// Key is the primary key of an item: its hash attribute and, for tables
// with a sort key, its range attribute.
type Key map[string]types.AttributeValue

// StringKey returns a Key with a single string attribute.
func StringKey(attr, value string) Key {
	return Key{attr: &types.AttributeValueMemberS{Value: value}}
}

// NumberKey returns a Key with a single number attribute.
func NumberKey(attr string, value int64) Key {
	return Key{attr: &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)}}
}

// canonicalKey validates key and returns its canonical string form.
// When keyAttrs is known the key must carry exactly those attributes.
func canonicalKey(table string, keyAttrs []string, key Key) (string, error) {
	if len(keyAttrs) > 0 {
		if len(key) != len(keyAttrs) {
			return "", &ValidationError{
				Table:  table,
				Reason: fmt.Sprintf("key %s does not match key attributes %v", formatKey(key), keyAttrs),
			}
		}
		for _, attr := range keyAttrs {
			if _, ok := key[attr]; !ok {
				return "", &ValidationError{
					Table:  table,
					Reason: fmt.Sprintf("key %s is missing key attribute %q", formatKey(key), attr),
				}
			}
		}
	}
	ck, err := av.KeyString(key)
	if err != nil {
		return "", &ValidationError{Table: table, Reason: "malformed key", Err: err}
	}
	return ck, nil
}

// keyFromItem extracts the key attributes from item.
func keyFromItem(table string, keyAttrs []string, item Item) (Key, error) {
	key := make(Key, len(keyAttrs))
	for _, attr := range keyAttrs {
		v, ok := item[attr]
		if !ok {
			return nil, &ValidationError{
				Table:  table,
				Reason: fmt.Sprintf("item is missing key attribute %q", attr),
			}
		}
		key[attr] = av.Clone(v)
	}
	return key, nil
}

// keyAttributesOf returns the sorted attribute names of key.
func keyAttributesOf(key Key) []string {
	return av.Names(key)
}

func cloneKey(key Key) Key {
	return Key(av.CloneItem(key))
}

// formatKey renders a key for error messages, e.g. {id="task1"}.
func formatKey(key Key) string {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		switch v := key[name].(type) {
		case *types.AttributeValueMemberS:
			b.WriteString(strconv.Quote(v.Value))
		case *types.AttributeValueMemberN:
			b.WriteString(v.Value)
		case *types.AttributeValueMemberB:
			fmt.Fprintf(&b, "0x%x", v.Value)
		default:
			fmt.Fprintf(&b, "%T", v)
		}
	}
	b.WriteByte('}')
	return b.String()
}
