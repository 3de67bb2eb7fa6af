package schema

import (
	"errors"
	"testing"

	"github.com/fmzchao/studio/engine/wferrors"
)

// TestObjectParse_RequiredAndCoercion verifies required checks and port
// coercion happen together with per-field detail
func TestObjectParse_RequiredAndCoercion(t *testing.T) {
	obj := NewObject(
		NewPort("name", Text()),
		NewPort("count", Number()),
	).Require("name")

	out, err := obj.Parse(map[string]interface{}{
		"name":  "job",
		"count": "5",
		"extra": "kept",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if out["name"] != "job" {
		t.Errorf("expected name kept, got %v", out["name"])
	}
	if out["count"] != float64(5) {
		t.Errorf("expected count coerced to 5, got %v", out["count"])
	}
	if out["extra"] != "kept" {
		t.Errorf("expected unknown key to pass through, got %v", out["extra"])
	}

	_, err = obj.Parse(map[string]interface{}{"count": 1})
	if err == nil {
		t.Fatal("expected required-field error")
	}
	var validation *wferrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if validation.FieldErrors["name"] == "" {
		t.Errorf("expected a field error for name, got %v", validation.FieldErrors)
	}
}

// TestObjectParse_CollectsAllFieldErrors verifies one failed parse reports
// every broken field, not just the first
func TestObjectParse_CollectsAllFieldErrors(t *testing.T) {
	obj := NewObject(
		NewPort("a", Number()),
		NewPort("b", Boolean()),
	)
	_, err := obj.Parse(map[string]interface{}{"a": "x", "b": "maybe"})
	var validation *wferrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validation.FieldErrors) != 2 {
		t.Errorf("expected 2 field errors, got %v", validation.FieldErrors)
	}
}

// TestObjectParse_NilObject verifies a nil schema is a pass-through
func TestObjectParse_NilObject(t *testing.T) {
	var obj *Object
	in := map[string]interface{}{"anything": 1}
	out, err := obj.Parse(in)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if out["anything"] != 1 {
		t.Errorf("expected pass-through, got %v", out)
	}
}

// TestObjectParse_JSONSchema verifies the attached JSON schema runs after
// coercion
func TestObjectParse_JSONSchema(t *testing.T) {
	obj, err := NewObject(NewPort("count", Number())).WithJSONSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "number", "minimum": 10},
		},
	})
	if err != nil {
		t.Fatalf("WithJSONSchema failed: %v", err)
	}

	if _, err := obj.Parse(map[string]interface{}{"count": "12"}); err != nil {
		t.Errorf("expected coerced value to satisfy schema, got %v", err)
	}
	if _, err := obj.Parse(map[string]interface{}{"count": 3}); err == nil {
		t.Error("expected schema minimum violation")
	}
}

// TestObjectMask_SecretPorts verifies secret and credential ports mask
// while the rest pass through
func TestObjectMask_SecretPorts(t *testing.T) {
	if err := RegisterContract("credentialMaskTest", map[string]interface{}{
		"type": "object",
	}, true); err != nil {
		t.Fatalf("RegisterContract failed: %v", err)
	}

	obj := NewObject(
		NewPort("apiKey", Secret()),
		NewPort("cred", ContractRef("credentialMaskTest")),
		NewPort("plain", Text()),
	)

	masked := obj.Mask(map[string]interface{}{
		"apiKey": "s3cret",
		"cred":   map[string]interface{}{"token": "t"},
		"plain":  "visible",
	})
	m, ok := masked.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", masked)
	}
	if m["apiKey"] != MaskedValue {
		t.Errorf("expected apiKey masked, got %v", m["apiKey"])
	}
	if m["cred"] != MaskedValue {
		t.Errorf("expected credential contract masked, got %v", m["cred"])
	}
	if m["plain"] != "visible" {
		t.Errorf("expected plain value kept, got %v", m["plain"])
	}
}

// TestObjectMask_WholeObject verifies MarkSecret collapses the entire value
func TestObjectMask_WholeObject(t *testing.T) {
	obj := NewObject(NewPort("anything", Text())).MarkSecret()
	masked := obj.Mask(map[string]interface{}{"anything": "x"})
	if masked != MaskedValue {
		t.Errorf("expected whole-value mask, got %v", masked)
	}
}

// TestObjectMask_NoSecretPorts verifies masking is the identity when
// nothing is secret
func TestObjectMask_NoSecretPorts(t *testing.T) {
	obj := NewObject(NewPort("plain", Text()))
	values := map[string]interface{}{"plain": "x"}
	masked := obj.Mask(values)
	m, ok := masked.(map[string]interface{})
	if !ok || m["plain"] != "x" {
		t.Errorf("expected identity mask, got %v", masked)
	}
}

// TestConnectionType_IsSecret verifies the masking classification across
// kinds
func TestConnectionType_IsSecret(t *testing.T) {
	if !Secret().IsSecret() {
		t.Error("secret kind should be secret")
	}
	if Text().IsSecret() || JSON().IsSecret() {
		t.Error("plain kinds should not be secret")
	}
	// Unregistered contracts fall back to the credential name prefix
	if !ContractRef("credentialSlack").IsSecret() {
		t.Error("credential-prefixed contract should be secret")
	}
	if ContractRef("plainConfig").IsSecret() {
		t.Error("non-credential contract should not be secret")
	}
}

// TestObject_PortOrder verifies declaration order survives and duplicate
// ids collapse
func TestObject_PortOrder(t *testing.T) {
	obj := NewObject(
		NewPort("b", Text()),
		NewPort("a", Text()),
		NewPort("b", Number()),
	)
	ids := obj.PortIDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Errorf("expected [b a], got %v", ids)
	}
	// The later declaration wins
	p, ok := obj.Port("b")
	if !ok || p.Type.Kind != KindNumber {
		t.Errorf("expected redeclared port type, got %+v", p)
	}
}
