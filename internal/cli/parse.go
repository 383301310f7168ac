package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/store"
)

// ParseKey parses attr=value pairs into a key. Values are strings unless
// prefixed with N: for numbers or S: to keep a literal prefix.
func ParseKey(pairs []string) (store.Key, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one key attribute is required")
	}
	key := make(store.Key, len(pairs))
	for _, pair := range pairs {
		name, v, err := parsePair(pair)
		if err != nil {
			return nil, err
		}
		switch v.(type) {
		case *types.AttributeValueMemberS, *types.AttributeValueMemberN:
		default:
			return nil, fmt.Errorf("%q: key attributes must be strings or numbers", pair)
		}
		if _, dup := key[name]; dup {
			return nil, fmt.Errorf("%q: attribute given twice", name)
		}
		key[name] = v
	}
	return key, nil
}

// ParseAttributes parses attr=value pairs into attribute values. Besides
// the N: and S: prefixes of ParseKey it accepts BOOL:true, BOOL:false and
// NULL.
func ParseAttributes(pairs []string) (store.Item, error) {
	item := make(store.Item, len(pairs))
	for _, pair := range pairs {
		name, v, err := parsePair(pair)
		if err != nil {
			return nil, err
		}
		item[name] = v
	}
	return item, nil
}

func parsePair(pair string) (string, types.AttributeValue, error) {
	name, raw, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("%q: expected attr=value", pair)
	}

	switch {
	case strings.HasPrefix(raw, "N:"):
		n := strings.TrimPrefix(raw, "N:")
		if _, err := strconv.ParseFloat(n, 64); err != nil {
			return "", nil, fmt.Errorf("%q: not a number", pair)
		}
		return name, &types.AttributeValueMemberN{Value: n}, nil
	case strings.HasPrefix(raw, "S:"):
		return name, &types.AttributeValueMemberS{Value: strings.TrimPrefix(raw, "S:")}, nil
	case strings.HasPrefix(raw, "BOOL:"):
		b, err := strconv.ParseBool(strings.TrimPrefix(raw, "BOOL:"))
		if err != nil {
			return "", nil, fmt.Errorf("%q: not a boolean", pair)
		}
		return name, &types.AttributeValueMemberBOOL{Value: b}, nil
	case raw == "NULL":
		return name, &types.AttributeValueMemberNULL{Value: true}, nil
	}
	return name, &types.AttributeValueMemberS{Value: raw}, nil
}
