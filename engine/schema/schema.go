// Package schema defines the port type system shared by components and the
// input resolver: connection types, value priorities, and parseable
// input/output object schemas.
package schema

import "strings"

// Kind is the base shape of a connection type
type Kind string

const (
	KindText     Kind = "text"
	KindNumber   Kind = "number"
	KindBoolean  Kind = "boolean"
	KindFile     Kind = "file"
	KindJSON     Kind = "json"
	KindSecret   Kind = "secret"
	KindAny      Kind = "any"
	KindList     Kind = "list"
	KindMap      Kind = "map"
	KindContract Kind = "contract"
)

// ConnectionType is a recursive port shape: a primitive, a list or map of an
// element type, or a reference to a named contract
type ConnectionType struct {
	Kind     Kind            `json:"kind"`
	Element  *ConnectionType `json:"element,omitempty"`
	Contract string          `json:"contract,omitempty"`
}

func Text() ConnectionType    { return ConnectionType{Kind: KindText} }
func Number() ConnectionType  { return ConnectionType{Kind: KindNumber} }
func Boolean() ConnectionType { return ConnectionType{Kind: KindBoolean} }
func File() ConnectionType    { return ConnectionType{Kind: KindFile} }
func JSON() ConnectionType    { return ConnectionType{Kind: KindJSON} }
func Secret() ConnectionType  { return ConnectionType{Kind: KindSecret} }
func Any() ConnectionType     { return ConnectionType{Kind: KindAny} }

// List is a homogeneous list of element
func List(element ConnectionType) ConnectionType {
	return ConnectionType{Kind: KindList, Element: &element}
}

// Map is a string-keyed map with values of element
func Map(element ConnectionType) ConnectionType {
	return ConnectionType{Kind: KindMap, Element: &element}
}

// ContractRef references a named contract registered via RegisterContract
func ContractRef(name string) ConnectionType {
	return ConnectionType{Kind: KindContract, Contract: name}
}

// IsSecret reports whether values of this type must be masked in traces,
// node-I/O records, and warnings. Secret primitives and credential contracts
// are masked; everything else passes through.
func (ct ConnectionType) IsSecret() bool {
	switch ct.Kind {
	case KindSecret:
		return true
	case KindContract:
		if c, ok := LookupContract(ct.Contract); ok {
			return c.Credential
		}
		return strings.HasPrefix(ct.Contract, "credential")
	default:
		return false
	}
}

// ValuePriority decides whether a manual override beats a connected value
type ValuePriority string

const (
	ManualFirst     ValuePriority = "manual-first"
	ConnectionFirst ValuePriority = "connection-first"
)

// Port is one declared input or output of a component
type Port struct {
	ID          string         `json:"id"`
	Type        ConnectionType `json:"connectionType"`
	Priority    ValuePriority  `json:"valuePriority,omitempty"`
	Description string         `json:"description,omitempty"`
}

// NewPort creates a port with connection-first priority
func NewPort(id string, ct ConnectionType) Port {
	return Port{ID: id, Type: ct, Priority: ConnectionFirst}
}

// ManualPort creates a port whose manual override wins over connections
func ManualPort(id string, ct ConnectionType) Port {
	return Port{ID: id, Type: ct, Priority: ManualFirst}
}
