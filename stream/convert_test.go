package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestConvert_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		in    events.DynamoDBAttributeValue
		check func(types.AttributeValue) bool
	}{
		{"string", events.NewStringAttribute("日本語テスト"), func(v types.AttributeValue) bool {
			s, ok := v.(*types.AttributeValueMemberS)
			return ok && s.Value == "日本語テスト"
		}},
		{"empty string", events.NewStringAttribute(""), func(v types.AttributeValue) bool {
			s, ok := v.(*types.AttributeValueMemberS)
			return ok && s.Value == ""
		}},
		{"large number", events.NewNumberAttribute("9999999999999999999"), func(v types.AttributeValue) bool {
			n, ok := v.(*types.AttributeValueMemberN)
			return ok && n.Value == "9999999999999999999"
		}},
		{"decimal", events.NewNumberAttribute("-19.99"), func(v types.AttributeValue) bool {
			n, ok := v.(*types.AttributeValueMemberN)
			return ok && n.Value == "-19.99"
		}},
		{"binary", events.NewBinaryAttribute([]byte{0x01, 0x02}), func(v types.AttributeValue) bool {
			b, ok := v.(*types.AttributeValueMemberB)
			return ok && len(b.Value) == 2 && b.Value[1] == 0x02
		}},
		{"bool", events.NewBooleanAttribute(true), func(v types.AttributeValue) bool {
			b, ok := v.(*types.AttributeValueMemberBOOL)
			return ok && b.Value
		}},
		{"null", events.NewNullAttribute(), func(v types.AttributeValue) bool {
			n, ok := v.(*types.AttributeValueMemberNULL)
			return ok && n.Value
		}},
		{"string set", events.NewStringSetAttribute([]string{"a", "b"}), func(v types.AttributeValue) bool {
			s, ok := v.(*types.AttributeValueMemberSS)
			return ok && len(s.Value) == 2
		}},
		{"number set", events.NewNumberSetAttribute([]string{"1"}), func(v types.AttributeValue) bool {
			s, ok := v.(*types.AttributeValueMemberNS)
			return ok && len(s.Value) == 1 && s.Value[0] == "1"
		}},
		{"binary set", events.NewBinarySetAttribute([][]byte{{0x01}}), func(v types.AttributeValue) bool {
			s, ok := v.(*types.AttributeValueMemberBS)
			return ok && len(s.Value) == 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convert(tt.in)
			if !tt.check(got) {
				t.Errorf("unexpected conversion: %#v", got)
			}
		})
	}
}

func TestConvert_Nested(t *testing.T) {
	in := events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
		"tags": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("x"),
			events.NewNumberAttribute("2"),
		}),
		"owner": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"name": events.NewStringAttribute("ana"),
		}),
	})

	m, ok := convert(in).(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("expected map, got %T", convert(in))
	}
	list, ok := m.Value["tags"].(*types.AttributeValueMemberL)
	if !ok || len(list.Value) != 2 {
		t.Fatalf("expected list of 2, got %#v", m.Value["tags"])
	}
	if n, ok := list.Value[1].(*types.AttributeValueMemberN); !ok || n.Value != "2" {
		t.Errorf("expected number 2, got %#v", list.Value[1])
	}
	owner, ok := m.Value["owner"].(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("expected nested map, got %#v", m.Value["owner"])
	}
	if s, ok := owner.Value["name"].(*types.AttributeValueMemberS); !ok || s.Value != "ana" {
		t.Errorf("expected name 'ana', got %#v", owner.Value["name"])
	}
}

func TestConvertStreamKey_Nil(t *testing.T) {
	key := ConvertStreamKey(nil)
	if key == nil {
		t.Fatal("expected non-nil key for nil input")
	}
	if len(key) != 0 {
		t.Errorf("expected empty key, got %d attributes", len(key))
	}
}

func TestConvertStreamKey_CompositeKey(t *testing.T) {
	key := ConvertStreamKey(map[string]events.DynamoDBAttributeValue{
		"pk": events.NewStringAttribute("parent#123"),
		"sk": events.NewNumberAttribute("456"),
	})

	if v, ok := key["pk"].(*types.AttributeValueMemberS); !ok || v.Value != "parent#123" {
		t.Error("expected pk to be 'parent#123'")
	}
	if v, ok := key["sk"].(*types.AttributeValueMemberN); !ok || v.Value != "456" {
		t.Error("expected sk to be 456")
	}
}

func TestTableFromARN(t *testing.T) {
	tests := []struct {
		arn     string
		want    string
		wantErr bool
	}{
		{"arn:aws:dynamodb:us-east-1:123456789012:table/tasks/stream/2024-01-01T00:00:00.000", "tasks", false},
		{"arn:aws:dynamodb:eu-west-1:123456789012:table/my-table", "my-table", false},
		{"arn:aws:sqs:us-east-1:123456789012:queue", "", true},
		{"arn:aws:dynamodb:us-east-1:123456789012:table/", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := TableFromARN(tt.arn)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: expected error %v, got %v", tt.arn, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.arn, tt.want, got)
		}
	}
}

func TestConvertRecord_RemoveHasNoNewImage(t *testing.T) {
	c, err := ConvertRecord(events.DynamoDBEventRecord{
		EventName:      EventRemove,
		EventSourceArn: "arn:aws:dynamodb:us-east-1:1:table/tasks/stream/x",
		Change: events.DynamoDBStreamRecord{
			Keys:     map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("a")},
			OldImage: map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("a")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Table != "tasks" {
		t.Errorf("expected table 'tasks', got %q", c.Table)
	}
	if c.New != nil {
		t.Errorf("expected no new image, got %v", c.New)
	}
	if c.Old == nil {
		t.Error("expected old image")
	}
}
