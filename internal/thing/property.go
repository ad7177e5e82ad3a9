package thing

import (
	"fmt"
	"sync/atomic"
	"weak"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Property binds a Value to its descriptive metadata and enforces the
// read-only flag and constraints on client writes.
//
// Driver-sourced updates go through the underlying Value's
// NotifyOfExternalUpdate and bypass these checks.
type Property struct {
	name     string
	cell     cell
	meta     Metadata
	schema   *jsonschema.Schema
	readOnly bool

	// owner is set when the property is added to a Thing and cleared when
	// it is removed. Readers do not hold the thing's lock.
	owner atomic.Pointer[weak.Pointer[Thing]]
}

// NewProperty creates a property named name over value.
//
// Parameters:
//   - name: Property name, unique within the owning thing
//   - value: The observable cell holding the current reading
//   - meta: Type, constraints and annotations; may be nil
//
// Returns:
//   - *Property: The property, not yet attached to a thing
//   - error: ErrInvalidMetadata if meta is not a valid constraint schema
func NewProperty[T any](name string, value *Value[T], meta Metadata) (*Property, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: property name is required", ErrInvalidMetadata)
	}
	if value == nil {
		return nil, fmt.Errorf("%w: property %q has no value", ErrInvalidMetadata, name)
	}

	meta = meta.Clone()
	schema, err := compileSchema("properties/"+name, meta)
	if err != nil {
		return nil, err
	}

	return &Property{
		name:     name,
		cell:     value,
		meta:     meta,
		schema:   schema,
		readOnly: meta.ReadOnly(),
	}, nil
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// Value returns the current value.
func (p *Property) Value() any { return p.cell.load() }

// Metadata returns a copy of the property metadata.
func (p *Property) Metadata() Metadata { return p.meta.Clone() }

// ReadOnly reports whether client writes are rejected.
func (p *Property) ReadOnly() bool { return p.readOnly }

// Thing returns the owning thing, or nil if the property is detached or the
// thing has been collected.
func (p *Property) Thing() *Thing {
	if wp := p.owner.Load(); wp != nil {
		return wp.Value()
	}
	return nil
}

// attach claims p for the thing behind self. It fails if p belongs to
// another live thing.
func (p *Property) attach(self weak.Pointer[Thing]) bool {
	old := p.owner.Load()
	if old != nil && old.Value() != nil {
		return false
	}
	return p.owner.CompareAndSwap(old, &self)
}

func (p *Property) detach() { p.owner.Store(nil) }

// Set performs a client-driven write.
//
// Checks run in order: read-only flag (ErrReadOnly), constraint schema
// (ErrConstraint), Go type conversion (ErrConstraint), then the forwarding
// hook (ErrHookRejected). On any failure the current value is unchanged.
func (p *Property) Set(v any) error {
	if p.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, p.name)
	}
	if err := validateAgainst(p.schema, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConstraint, p.name, err)
	}
	return p.cell.store(v)
}

// Subscribe registers fn for every accepted change of the property value.
func (p *Property) Subscribe(fn func(any)) Subscription {
	return p.cell.watch(fn)
}

// Unsubscribe removes a listener registered with Subscribe.
func (p *Property) Unsubscribe(id Subscription) bool {
	return p.cell.unwatch(id)
}

// Href returns the property's path relative to the server root.
func (p *Property) Href() string {
	prefix := ""
	if t := p.Thing(); t != nil {
		prefix = t.Href()
	}
	return prefix + "/properties/" + p.name
}

// AsDescription returns the metadata plus a link to the property resource.
func (p *Property) AsDescription() Metadata {
	return p.meta.with(Metadata{
		"links": []any{
			map[string]any{"rel": "property", "href": p.Href()},
		},
	})
}
