package schema_test

import (
	"testing"

	"github.com/gembridge/gembridge/internal/schema"
)

func ticketSchema(t *testing.T) *schema.Descriptor {
	t.Helper()
	one, five := 1.0, 5.0
	address, err := schema.New("address",
		schema.Field{Name: "city", Type: schema.TypeString, Required: true},
		schema.Field{Name: "zip", Type: schema.TypeString},
	)
	if err != nil {
		t.Fatalf("New(address) error = %v", err)
	}
	d, err := schema.New("ticket",
		schema.Field{Name: "title", Type: schema.TypeString, Required: true},
		schema.Field{Name: "priority", Type: schema.TypeInteger, Required: true, Minimum: &one, Maximum: &five},
		schema.Field{Name: "status", Type: schema.TypeEnum, Enum: []string{"open", "closed"}},
		schema.Field{Name: "resolved", Type: schema.TypeBoolean},
		schema.Field{Name: "address", Type: schema.TypeObject, Object: address},
		schema.Field{Name: "tags", Type: schema.TypeList, Items: &schema.Field{Type: schema.TypeString}},
	)
	if err != nil {
		t.Fatalf("New(ticket) error = %v", err)
	}
	return d
}

func TestValidateWellFormed(t *testing.T) {
	raw := `{"title":"broken login","priority":3,"status":"open","tags":["auth","ui"]}`
	value, verr := schema.Validate(raw, ticketSchema(t))
	if verr != nil {
		t.Fatalf("Validate() error = %v", verr)
	}
	if value["title"] != "broken login" {
		t.Errorf("title = %v", value["title"])
	}
	if value["priority"] != float64(3) {
		t.Errorf("priority = %v", value["priority"])
	}
}

func TestValidateFencedPayload(t *testing.T) {
	raw := "Here is the result you asked for:\n```json\n{\"title\":\"x\",\"priority\":2}\n```\nLet me know if you need anything else."
	if _, verr := schema.Validate(raw, ticketSchema(t)); verr != nil {
		t.Fatalf("Validate() error = %v", verr)
	}
}

func TestValidateProseWrappedPayload(t *testing.T) {
	raw := `Sure! The ticket is {"title":"x","priority":1} as requested.`
	if _, verr := schema.Validate(raw, ticketSchema(t)); verr != nil {
		t.Fatalf("Validate() error = %v", verr)
	}
}

func TestValidateUnparseable(t *testing.T) {
	_, verr := schema.Validate("I cannot help with that.", ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted prose with no payload")
	}
	if verr.Path != schema.RootPath {
		t.Errorf("Path = %q, want %q", verr.Path, schema.RootPath)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	_, verr := schema.Validate(`{"title":"x"}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted payload missing required field")
	}
	if verr.Path != "priority" {
		t.Errorf("Path = %q, want %q", verr.Path, "priority")
	}
}

func TestValidateWrongType(t *testing.T) {
	_, verr := schema.Validate(`{"title":42,"priority":1}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted wrong-typed field")
	}
	if verr.Path != "title" {
		t.Errorf("Path = %q, want %q", verr.Path, "title")
	}
}

func TestValidateNonIntegerNumber(t *testing.T) {
	_, verr := schema.Validate(`{"title":"x","priority":2.5}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted fractional value for integer field")
	}
	if verr.Path != "priority" {
		t.Errorf("Path = %q, want %q", verr.Path, "priority")
	}
}

func TestValidateBounds(t *testing.T) {
	_, verr := schema.Validate(`{"title":"x","priority":9}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted out-of-bounds integer")
	}
	if verr.Path != "priority" {
		t.Errorf("Path = %q, want %q", verr.Path, "priority")
	}
}

func TestValidateEnumViolation(t *testing.T) {
	_, verr := schema.Validate(`{"title":"x","priority":1,"status":"pending"}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted value outside enum set")
	}
	if verr.Path != "status" {
		t.Errorf("Path = %q, want %q", verr.Path, "status")
	}
}

func TestValidateNestedFieldPath(t *testing.T) {
	_, verr := schema.Validate(`{"title":"x","priority":1,"address":{"zip":"10001"}}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted nested object missing required field")
	}
	if verr.Path != "address.city" {
		t.Errorf("Path = %q, want %q", verr.Path, "address.city")
	}
}

func TestValidateListElementPath(t *testing.T) {
	_, verr := schema.Validate(`{"title":"x","priority":1,"tags":["ok",7]}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted wrong-typed list element")
	}
	if verr.Path != "tags[1]" {
		t.Errorf("Path = %q, want %q", verr.Path, "tags[1]")
	}
}

func TestValidateIgnoresUnknownFields(t *testing.T) {
	raw := `{"title":"x","priority":1,"reporter":"someone","extra":{"deep":true}}`
	if _, verr := schema.Validate(raw, ticketSchema(t)); verr != nil {
		t.Fatalf("Validate() rejected unknown extra fields: %v", verr)
	}
}

func TestValidateNullRequired(t *testing.T) {
	_, verr := schema.Validate(`{"title":null,"priority":1}`, ticketSchema(t))
	if verr == nil {
		t.Fatal("Validate() accepted null for required field")
	}
	if verr.Path != "title" {
		t.Errorf("Path = %q, want %q", verr.Path, "title")
	}
}

func TestExtractPayloadPrefersFence(t *testing.T) {
	raw := "notes {\"stray\": true}\n```json\n{\"fenced\": true}\n```"
	payload, ok := schema.ExtractPayload(raw)
	if !ok {
		t.Fatal("ExtractPayload() found nothing")
	}
	if payload != `{"fenced": true}` {
		t.Errorf("payload = %q", payload)
	}
}

func TestExtractPayloadBracesInStrings(t *testing.T) {
	raw := `result: {"text":"a { tricky } value","ok":true} trailing`
	payload, ok := schema.ExtractPayload(raw)
	if !ok {
		t.Fatal("ExtractPayload() found nothing")
	}
	if payload != `{"text":"a { tricky } value","ok":true}` {
		t.Errorf("payload = %q", payload)
	}
}
