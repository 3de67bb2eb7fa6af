package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fmzchao/studio/engine/wferrors"
)

// Contract is a named, reusable schema. Credential contracts are masked the
// same way secret ports are.
type Contract struct {
	Name       string
	Credential bool
	compiled   *jsonschema.Schema
}

// Validate checks value against the contract's JSON schema
func (c *Contract) Validate(value interface{}) error {
	if c.compiled == nil {
		return nil
	}
	return c.compiled.Validate(normalizeJSON(value))
}

var (
	contractsMu sync.RWMutex
	contracts   = make(map[string]*Contract)
)

// RegisterContract compiles doc as a JSON schema and registers it under name.
// Registration happens once per process at startup.
func RegisterContract(name string, doc map[string]interface{}, credential bool) error {
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, normalizeJSON(doc)); err != nil {
		return fmt.Errorf("add contract resource %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile contract %s: %w", name, err)
	}

	contractsMu.Lock()
	defer contractsMu.Unlock()
	contracts[name] = &Contract{Name: name, Credential: credential, compiled: compiled}
	return nil
}

// LookupContract returns a registered contract by name
func LookupContract(name string) (*Contract, bool) {
	contractsMu.RLock()
	defer contractsMu.RUnlock()
	c, ok := contracts[name]
	return c, ok
}

// Object is a parseable input or output schema: declared ports, required
// port ids, and an optional JSON schema applied after coercion
type Object struct {
	ports    map[string]Port
	order    []string
	required []string
	secret   bool
	compiled *jsonschema.Schema
}

// NewObject creates an object schema from declared ports
func NewObject(ports ...Port) *Object {
	o := &Object{ports: make(map[string]Port, len(ports))}
	for _, p := range ports {
		if _, exists := o.ports[p.ID]; !exists {
			o.order = append(o.order, p.ID)
		}
		o.ports[p.ID] = p
	}
	return o
}

// Require marks port ids as required; Parse fails when they are absent
func (o *Object) Require(ids ...string) *Object {
	o.required = append(o.required, ids...)
	return o
}

// MarkSecret masks the entire value, not just individual secret ports
func (o *Object) MarkSecret() *Object {
	o.secret = true
	return o
}

// WithJSONSchema attaches a compiled JSON schema validated after coercion
func (o *Object) WithJSONSchema(doc map[string]interface{}) (*Object, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("object.json", normalizeJSON(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("object.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	o.compiled = compiled
	return o, nil
}

// Port returns the declared port for id
func (o *Object) Port(id string) (Port, bool) {
	p, ok := o.ports[id]
	return p, ok
}

// PortIDs returns port ids in declaration order
func (o *Object) PortIDs() []string {
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	return ids
}

// SecretPorts returns the ids of ports whose values must be masked
func (o *Object) SecretPorts() []string {
	var ids []string
	for _, id := range o.order {
		if o.ports[id].Type.IsSecret() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Secret reports whether the entire value is masked
func (o *Object) Secret() bool {
	return o.secret
}

// Parse validates and coerces value against the schema. Unknown keys pass
// through untouched so components can carry sentinel fields. Failures are
// reported as a ValidationError with per-field detail.
func (o *Object) Parse(value map[string]interface{}) (map[string]interface{}, error) {
	if o == nil {
		return value, nil
	}
	out := make(map[string]interface{}, len(value))
	for k, v := range value {
		out[k] = v
	}

	fieldErrors := make(map[string]string)
	for _, id := range o.required {
		if v, ok := out[id]; !ok || v == nil {
			fieldErrors[id] = "required value is missing"
		}
	}
	for _, id := range o.order {
		v, ok := out[id]
		if !ok || v == nil {
			continue
		}
		coerced, err := Coerce(v, o.ports[id].Type)
		if err != nil {
			fieldErrors[id] = err.Error()
			continue
		}
		out[id] = coerced
	}
	if len(fieldErrors) > 0 {
		return nil, wferrors.NewValidationError("schema validation failed", fieldErrors)
	}

	if o.compiled != nil {
		if err := o.compiled.Validate(normalizeJSON(out)); err != nil {
			return nil, wferrors.NewValidationError(fmt.Sprintf("schema validation failed: %v", err), nil)
		}
	}
	return out, nil
}

// MaskedValue replaces secret material in recorded payloads
const MaskedValue = "***"

// Mask returns a copy of values safe for traces and node-I/O records: ports
// with a secret or credential type are replaced with the mask literal. When
// the whole schema is marked secret the entire value collapses to the mask.
func (o *Object) Mask(values map[string]interface{}) interface{} {
	if o == nil {
		return values
	}
	if o.secret {
		return MaskedValue
	}
	secretPorts := o.SecretPorts()
	if len(secretPorts) == 0 {
		return values
	}
	masked := make(map[string]interface{}, len(values))
	for k, v := range values {
		masked[k] = v
	}
	for _, id := range secretPorts {
		if _, ok := masked[id]; ok {
			masked[id] = MaskedValue
		}
	}
	return masked
}

// normalizeJSON round-trips a value through encoding/json so the validator
// sees the plain any-tree it expects regardless of the Go types components
// put in their outputs
func normalizeJSON(value interface{}) interface{} {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var normalized interface{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return value
	}
	return normalized
}
