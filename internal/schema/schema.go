// Package schema declares the expected shape of structured model output and
// validates raw responses against it.
//
// A Descriptor is an ordered set of typed fields. It is rendered into the
// prompt as a JSON Schema so the model knows the contract, and the same
// descriptor drives response validation, so prompt and check can never
// drift apart.
package schema

import (
	"encoding/json"
	"fmt"
)

// Type enumerates the field types a descriptor may declare.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeEnum    Type = "enum"
	TypeObject  Type = "object"
	TypeList    Type = "list"
)

// Field declares one named, typed slot in a descriptor.
type Field struct {
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`

	// Enum holds the allowed values when Type is TypeEnum.
	Enum []string `json:"enum,omitempty"`

	// Minimum/Maximum bound TypeInteger and TypeNumber values when set.
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Object is the nested descriptor when Type is TypeObject.
	Object *Descriptor `json:"object,omitempty"`

	// Items declares the element shape when Type is TypeList.
	// Its Name is ignored.
	Items *Field `json:"items,omitempty"`
}

// Descriptor is an ordered field list describing one structured output shape.
// Build descriptors with New so the invariants (unique field names, no
// self-referential nesting) hold; a descriptor decoded from JSON is checked
// the same way.
type Descriptor struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// New builds a Descriptor and verifies its invariants.
func New(name string, fields ...Field) (*Descriptor, error) {
	d := &Descriptor{Name: name, Fields: fields}
	if err := d.check(); err != nil {
		return nil, err
	}
	return d, nil
}

// UnmarshalJSON decodes and then enforces the construction invariants, so a
// descriptor arriving over the wire is as trustworthy as one built in code.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type plain Descriptor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = Descriptor(p)
	return d.check()
}

func (d *Descriptor) check() error {
	if d.Name == "" {
		return fmt.Errorf("schema: descriptor name is required")
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("schema %s: at least one field is required", d.Name)
	}
	return d.checkNested(map[*Descriptor]bool{d: true})
}

// checkNested verifies field well-formedness and rejects descriptor cycles.
// onPath tracks the descriptors on the current nesting chain; revisiting one
// means unbounded recursion.
func (d *Descriptor) checkNested(onPath map[*Descriptor]bool) error {
	seen := make(map[string]bool, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("schema %s: field %d has no name", d.Name, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %q", d.Name, f.Name)
		}
		seen[f.Name] = true
		if err := d.checkField(f, onPath); err != nil {
			return err
		}
	}
	return nil
}

func (d *Descriptor) checkField(f *Field, onPath map[*Descriptor]bool) error {
	switch f.Type {
	case TypeString, TypeBoolean:
	case TypeInteger, TypeNumber:
		if f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum {
			return fmt.Errorf("schema %s: field %q: minimum %v exceeds maximum %v", d.Name, f.Name, *f.Minimum, *f.Maximum)
		}
	case TypeEnum:
		if len(f.Enum) == 0 {
			return fmt.Errorf("schema %s: enum field %q has no values", d.Name, f.Name)
		}
	case TypeObject:
		if f.Object == nil {
			return fmt.Errorf("schema %s: object field %q has no nested schema", d.Name, f.Name)
		}
		if onPath[f.Object] {
			return fmt.Errorf("schema %s: field %q nests schema %s into itself", d.Name, f.Name, f.Object.Name)
		}
		onPath[f.Object] = true
		err := f.Object.checkNested(onPath)
		delete(onPath, f.Object)
		if err != nil {
			return err
		}
	case TypeList:
		if f.Items == nil {
			return fmt.Errorf("schema %s: list field %q has no item schema", d.Name, f.Name)
		}
		item := *f.Items
		item.Name = f.Name
		return d.checkField(&item, onPath)
	default:
		return fmt.Errorf("schema %s: field %q has unknown type %q", d.Name, f.Name, f.Type)
	}
	return nil
}

// PromptJSON renders the descriptor as an indented JSON Schema document for
// inclusion in a generation prompt.
func (d *Descriptor) PromptJSON() string {
	out, err := json.MarshalIndent(d.jsonSchema(), "", "  ")
	if err != nil {
		// The schema tree contains only maps, strings, and numbers;
		// marshal cannot fail on a checked descriptor.
		return "{}"
	}
	return string(out)
}

func (d *Descriptor) jsonSchema() map[string]any {
	props := make(map[string]any, len(d.Fields))
	var required []string
	for i := range d.Fields {
		f := &d.Fields[i]
		props[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	node := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		node["required"] = required
	}
	return node
}

func fieldSchema(f *Field) map[string]any {
	node := map[string]any{}
	switch f.Type {
	case TypeEnum:
		node["type"] = "string"
		node["enum"] = f.Enum
	case TypeObject:
		return withDescription(f.Object.jsonSchema(), f.Description)
	case TypeList:
		node["type"] = "array"
		node["items"] = fieldSchema(f.Items)
	case TypeInteger, TypeNumber:
		node["type"] = string(f.Type)
		if f.Minimum != nil {
			node["minimum"] = *f.Minimum
		}
		if f.Maximum != nil {
			node["maximum"] = *f.Maximum
		}
	default:
		node["type"] = string(f.Type)
	}
	return withDescription(node, f.Description)
}

func withDescription(node map[string]any, desc string) map[string]any {
	if desc != "" {
		node["description"] = desc
	}
	return node
}
