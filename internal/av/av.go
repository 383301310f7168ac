// Package av provides canonical forms for DynamoDB attribute values.
//
// DynamoDB collapses several representational differences on write: numbers
// lose leading and trailing zeros, and sets are unordered and deduplicated.
// Comparing what a caller intends to write against what the table returned
// therefore has to happen on normalized values.
package av

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrEmptyKey is returned when a key has no attributes.
	ErrEmptyKey = errors.New("av: key has no attributes")

	// ErrNonScalarKey is returned when a key attribute is not a string, number or binary.
	ErrNonScalarKey = errors.New("av: key attribute is not a scalar")

	// ErrBadNumber is returned when a number attribute does not parse.
	ErrBadNumber = errors.New("av: malformed number")
)

// DynamoDB numbers are zero or have a magnitude between 1e-130 and 1e126,
// with at most 38 significant digits.
const (
	minExponent = -130
	maxExponent = 125
	maxDigits   = 38
)

// CanonicalNumber returns the shortest decimal rendering of a DynamoDB number.
// "1.50", "015" and "1.5e0" become "1.5", "15" and "1.5".
func CanonicalNumber(s string) (string, error) {
	s = strings.TrimSpace(s)
	zero, err := checkNumber(s)
	if err != nil {
		return "", err
	}
	if zero {
		return "0", nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}
	return r.FloatString(decimalPlaces(r.Denom())), nil
}

// checkNumber accepts plain decimal notation with an optional exponent and
// rejects values outside the range DynamoDB can store. It reports whether s
// is zero.
func checkNumber(s string) (bool, error) {
	mantissa, exp := s, 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa = s[:i]
		e, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return false, fmt.Errorf("%w: %q", ErrBadNumber, s)
		}
		exp = e
	}
	if mantissa != "" && (mantissa[0] == '+' || mantissa[0] == '-') {
		mantissa = mantissa[1:]
	}
	whole, frac, _ := strings.Cut(mantissa, ".")
	if whole+frac == "" || strings.Trim(whole+frac, "0123456789") != "" {
		return false, fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	if len(strings.Trim(whole+frac, "0")) > maxDigits {
		return false, fmt.Errorf("%w: %q has more than %d significant digits", ErrBadNumber, s, maxDigits)
	}

	// Position of the leading significant digit relative to the point.
	var lead int
	switch w := strings.TrimLeft(whole, "0"); {
	case w != "":
		lead = len(w) - 1
	default:
		f := strings.TrimLeft(frac, "0")
		if f == "" {
			return true, nil
		}
		lead = -(len(frac) - len(f) + 1)
	}
	if mag := lead + exp; mag < minExponent || mag > maxExponent {
		return false, fmt.Errorf("%w: %q is out of range", ErrBadNumber, s)
	}
	return false, nil
}

// decimalPlaces returns how many digits after the point render 1/d exactly.
// d is a power of two times a power of five for any decimal input.
func decimalPlaces(d *big.Int) int {
	twos := int(d.TrailingZeroBits())
	rest := new(big.Int).Rsh(d, uint(twos))
	fives := 0
	five, q, m := big.NewInt(5), new(big.Int), new(big.Int)
	for rest.BitLen() > 1 {
		q.QuoRem(rest, five, m)
		if m.Sign() != 0 {
			break
		}
		rest.Set(q)
		fives++
	}
	return max(twos, fives)
}

// Normalize returns a deep copy of v in the form DynamoDB would store it.
func Normalize(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: tv.Value}
	case *types.AttributeValueMemberN:
		n, err := CanonicalNumber(tv.Value)
		if err != nil {
			n = tv.Value
		}
		return &types.AttributeValueMemberN{Value: n}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: bytes.Clone(tv.Value)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: tv.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: tv.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: uniqueSorted(tv.Value)}
	case *types.AttributeValueMemberNS:
		nums := make([]string, len(tv.Value))
		for i, s := range tv.Value {
			n, err := CanonicalNumber(s)
			if err != nil {
				n = s
			}
			nums[i] = n
		}
		return &types.AttributeValueMemberNS{Value: uniqueSorted(nums)}
	case *types.AttributeValueMemberBS:
		seen := make(map[string]bool, len(tv.Value))
		out := make([][]byte, 0, len(tv.Value))
		for _, b := range tv.Value {
			if seen[string(b)] {
				continue
			}
			seen[string(b)] = true
			out = append(out, bytes.Clone(b))
		}
		sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
		return &types.AttributeValueMemberBS{Value: out}
	case *types.AttributeValueMemberL:
		out := make([]types.AttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			out[i] = Normalize(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: NormalizeItem(tv.Value)}
	default:
		return v
	}
}

// NormalizeItem normalizes every attribute of item. A nil item stays nil.
func NormalizeItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = Normalize(v)
	}
	return out
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of v without normalizing it.
func Clone(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: tv.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: tv.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: bytes.Clone(tv.Value)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: tv.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: tv.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberBS:
		out := make([][]byte, len(tv.Value))
		for i, b := range tv.Value {
			out[i] = bytes.Clone(b)
		}
		return &types.AttributeValueMemberBS{Value: out}
	case *types.AttributeValueMemberL:
		out := make([]types.AttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			out[i] = Clone(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: CloneItem(tv.Value)}
	default:
		return v
	}
}

// CloneItem deep-copies item. A nil item stays nil.
func CloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports whether a and b are the same value once normalized.
func Equal(a, b types.AttributeValue) bool {
	return equal(Normalize(a), Normalize(b))
}

// EqualItems reports whether two items hold the same normalized attributes,
// ignoring the named attributes.
func EqualItems(a, b map[string]types.AttributeValue, ignore ...string) bool {
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}
	count := func(item map[string]types.AttributeValue) int {
		n := 0
		for k := range item {
			if !skip[k] {
				n++
			}
		}
		return n
	}
	if count(a) != count(b) {
		return false
	}
	for k, va := range a {
		if skip[k] {
			continue
		}
		vb, ok := b[k]
		if !ok || !Equal(va, vb) {
			return false
		}
	}
	return true
}

// equal compares two already normalized values.
func equal(a, b types.AttributeValue) bool {
	switch ta := a.(type) {
	case *types.AttributeValueMemberS:
		tb, ok := b.(*types.AttributeValueMemberS)
		return ok && ta.Value == tb.Value
	case *types.AttributeValueMemberN:
		tb, ok := b.(*types.AttributeValueMemberN)
		return ok && ta.Value == tb.Value
	case *types.AttributeValueMemberB:
		tb, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(ta.Value, tb.Value)
	case *types.AttributeValueMemberBOOL:
		tb, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && ta.Value == tb.Value
	case *types.AttributeValueMemberNULL:
		tb, ok := b.(*types.AttributeValueMemberNULL)
		return ok && ta.Value == tb.Value
	case *types.AttributeValueMemberSS:
		tb, ok := b.(*types.AttributeValueMemberSS)
		return ok && equalStrings(ta.Value, tb.Value)
	case *types.AttributeValueMemberNS:
		tb, ok := b.(*types.AttributeValueMemberNS)
		return ok && equalStrings(ta.Value, tb.Value)
	case *types.AttributeValueMemberBS:
		tb, ok := b.(*types.AttributeValueMemberBS)
		if !ok || len(ta.Value) != len(tb.Value) {
			return false
		}
		for i := range ta.Value {
			if !bytes.Equal(ta.Value[i], tb.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		tb, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(ta.Value) != len(tb.Value) {
			return false
		}
		for i := range ta.Value {
			if !equal(ta.Value[i], tb.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		tb, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(ta.Value) != len(tb.Value) {
			return false
		}
		for k, v := range ta.Value {
			w, ok := tb.Value[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Names returns the attribute names of item in sorted order.
func Names(item map[string]types.AttributeValue) []string {
	names := make([]string, 0, len(item))
	for k := range item {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// KeyString renders a primary key as a canonical string, usable as a map key.
// Two keys that DynamoDB treats as the same item render identically.
func KeyString(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", ErrEmptyKey
	}
	var b strings.Builder
	for i, name := range Names(key) {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Quote(name))
		b.WriteByte('=')
		switch v := key[name].(type) {
		case *types.AttributeValueMemberS:
			b.WriteString("S:")
			b.WriteString(strconv.Quote(v.Value))
		case *types.AttributeValueMemberN:
			n, err := CanonicalNumber(v.Value)
			if err != nil {
				return "", fmt.Errorf("attribute %q: %w", name, err)
			}
			b.WriteString("N:")
			b.WriteString(n)
		case *types.AttributeValueMemberB:
			b.WriteString("B:")
			b.WriteString(base64.StdEncoding.EncodeToString(v.Value))
		default:
			return "", fmt.Errorf("%w: attribute %q has type %T", ErrNonScalarKey, name, v)
		}
	}
	return b.String(), nil
}
