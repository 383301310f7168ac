package av

import (
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestCanonicalNumber(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"0", "0"},
		{"-0", "0"},
		{"015", "15"},
		{"1.50", "1.5"},
		{"1.5e0", "1.5"},
		{"1e3", "1000"},
		{"-2.250", "-2.25"},
		{"0.001", "0.001"},
		{"12345678901234567890123456789012345678", "12345678901234567890123456789012345678"},
	}

	for _, tt := range tests {
		result, err := CanonicalNumber(tt.in)
		if err != nil {
			t.Errorf("CanonicalNumber(%q) returned error: %v", tt.in, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("CanonicalNumber(%q) = %q, want %q", tt.in, result, tt.expected)
		}
	}
}

func TestCanonicalNumber_Malformed(t *testing.T) {
	for _, in := range []string{"twelve", "", "1/3", "--1", "1.2.3", "1e", "0x10", "Inf"} {
		if _, err := CanonicalNumber(in); !errors.Is(err, ErrBadNumber) {
			t.Errorf("CanonicalNumber(%q): expected ErrBadNumber, got %v", in, err)
		}
	}
}

func TestCanonicalNumber_Range(t *testing.T) {
	for _, in := range []string{"1e-130", "-9.99e125", "0e999999999", "0.0001e-126", "1.25e2"} {
		if _, err := CanonicalNumber(in); err != nil {
			t.Errorf("CanonicalNumber(%q) returned error: %v", in, err)
		}
	}
	for _, in := range []string{"1e126", "1e-131", "0.5e-1000000000", "1e99999999999999999999", "1.000000000000000000000000000000000000001"} {
		if _, err := CanonicalNumber(in); !errors.Is(err, ErrBadNumber) {
			t.Errorf("CanonicalNumber(%q): expected ErrBadNumber, got %v", in, err)
		}
	}
	if got, _ := CanonicalNumber("1.25e2"); got != "125" {
		t.Errorf("expected 125, got %q", got)
	}
	if got, _ := CanonicalNumber("1.5e-3"); got != "0.0015" {
		t.Errorf("expected 0.0015, got %q", got)
	}
}

func TestEqual_NumbersAcrossRepresentations(t *testing.T) {
	a := &types.AttributeValueMemberN{Value: "1.0"}
	b := &types.AttributeValueMemberN{Value: "1"}
	if !Equal(a, b) {
		t.Error("expected 1.0 and 1 to be equal")
	}
}

func TestEqual_SetsIgnoreOrderAndDuplicates(t *testing.T) {
	a := &types.AttributeValueMemberSS{Value: []string{"b", "a", "a"}}
	b := &types.AttributeValueMemberSS{Value: []string{"a", "b"}}
	if !Equal(a, b) {
		t.Error("expected string sets to be equal")
	}

	ns1 := &types.AttributeValueMemberNS{Value: []string{"2.0", "1"}}
	ns2 := &types.AttributeValueMemberNS{Value: []string{"1", "2"}}
	if !Equal(ns1, ns2) {
		t.Error("expected number sets to be equal")
	}
}

func TestEqual_TypeMismatch(t *testing.T) {
	a := &types.AttributeValueMemberS{Value: "1"}
	b := &types.AttributeValueMemberN{Value: "1"}
	if Equal(a, b) {
		t.Error("expected string and number to differ")
	}
}

func TestEqual_Nested(t *testing.T) {
	a := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberN{Value: "3.10"},
			&types.AttributeValueMemberBOOL{Value: true},
		}},
	}}
	b := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberN{Value: "3.1"},
			&types.AttributeValueMemberBOOL{Value: true},
		}},
	}}
	if !Equal(a, b) {
		t.Error("expected nested values to be equal")
	}

	b.Value["extra"] = &types.AttributeValueMemberNULL{Value: true}
	if Equal(a, b) {
		t.Error("expected maps with different keys to differ")
	}
}

func TestEqualItems_Ignore(t *testing.T) {
	a := map[string]types.AttributeValue{
		"id":           &types.AttributeValueMemberS{Value: "x"},
		"item_version": &types.AttributeValueMemberN{Value: "3"},
	}
	b := map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "x"},
	}
	if EqualItems(a, b) {
		t.Error("expected items to differ when version is compared")
	}
	if !EqualItems(a, b, "item_version") {
		t.Error("expected items to match when version is ignored")
	}
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	orig := &types.AttributeValueMemberB{Value: []byte("abc")}
	n := Normalize(orig).(*types.AttributeValueMemberB)
	n.Value[0] = 'z'
	if string(orig.Value) != "abc" {
		t.Errorf("expected original to be untouched, got %q", orig.Value)
	}
}

func TestCloneItem_Nil(t *testing.T) {
	if CloneItem(nil) != nil {
		t.Error("expected nil clone of nil item")
	}
	if NormalizeItem(nil) != nil {
		t.Error("expected nil normalization of nil item")
	}
}

func TestKeyString_Deterministic(t *testing.T) {
	k1 := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "a"},
		"sk": &types.AttributeValueMemberN{Value: "10.0"},
	}
	k2 := map[string]types.AttributeValue{
		"sk": &types.AttributeValueMemberN{Value: "10"},
		"pk": &types.AttributeValueMemberS{Value: "a"},
	}

	s1, err := KeyString(k1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := KeyString(k2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 != s2 {
		t.Errorf("expected identical key strings, got %q and %q", s1, s2)
	}
}

func TestKeyString_NoCollisionOnSeparators(t *testing.T) {
	k1 := map[string]types.AttributeValue{"a": &types.AttributeValueMemberS{Value: `x"|"b"=S:"y`}}
	k2 := map[string]types.AttributeValue{
		"a": &types.AttributeValueMemberS{Value: "x"},
		"b": &types.AttributeValueMemberS{Value: "y"},
	}
	s1, _ := KeyString(k1)
	s2, _ := KeyString(k2)
	if s1 == s2 {
		t.Errorf("expected distinct key strings, both were %q", s1)
	}
}

func TestKeyString_Errors(t *testing.T) {
	if _, err := KeyString(nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}

	_, err := KeyString(map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberBOOL{Value: true},
	})
	if !errors.Is(err, ErrNonScalarKey) {
		t.Errorf("expected ErrNonScalarKey, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), `"id"`) {
		t.Errorf("expected error to name the attribute, got %q", err)
	}

	_, err = KeyString(map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: "nope"},
	})
	if !errors.Is(err, ErrBadNumber) {
		t.Errorf("expected ErrBadNumber, got %v", err)
	}
}
