package rpc

import (
	"encoding/json"
	"testing"

	"stationd/native/station"

	"github.com/google/uuid"
)

func rawFields(t *testing.T, m map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", k, err)
		}
		out[k] = b
	}
	return out
}

func TestDecodeInputConvertsUUIDFields(t *testing.T) {
	id := uuid.New()
	raw := rawFields(t, map[string]any{"account_id": id.String()})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out["account_id"].(uuid.UUID)
	if !ok || got != id {
		t.Fatalf("expected account_id to decode to the uuid, got %#v", out["account_id"])
	}
}

func TestDecodeInputConvertsUUIDList(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	raw := rawFields(t, map[string]any{"target_ids": []string{a.String(), b.String()}})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out["target_ids"].([]uuid.UUID)
	if !ok || len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("expected target_ids to decode in order, got %#v", out["target_ids"])
	}
}

func TestDecodeInputConvertsRuleTree(t *testing.T) {
	u := uuid.New()
	raw := rawFields(t, map[string]any{
		"rule": map[string]any{
			"kind": "quorum",
			"specifier": map[string]any{
				"kind":  "id",
				"users": []string{u.String()},
			},
			"min_approved": 2,
		},
	})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rule, ok := out["rule"].(station.RequestPolicyRule)
	if !ok {
		t.Fatalf("expected rule to decode to RequestPolicyRule, got %#v", out["rule"])
	}
	if rule.Kind != station.RuleQuorum || rule.MinApproved != 2 {
		t.Fatalf("unexpected decoded rule: %+v", rule)
	}
	if len(rule.Specifier.Users) != 1 || rule.Specifier.Users[0] != u {
		t.Fatalf("expected nested specifier to decode its users, got %+v", rule.Specifier)
	}
}

func TestDecodeInputRejectsUnknownRuleKind(t *testing.T) {
	raw := rawFields(t, map[string]any{"rule": map[string]any{"kind": "not_a_rule"}})
	if _, err := decodeInput(raw); err == nil {
		t.Fatalf("expected an unknown rule kind to be rejected")
	}
}

func TestDecodeInputConvertsIdentitiesToStringList(t *testing.T) {
	raw := rawFields(t, map[string]any{"identities": []string{"principal-a", "principal-b"}})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out["identities"].([]string)
	if !ok || len(got) != 2 || got[0] != "principal-a" || got[1] != "principal-b" {
		t.Fatalf("expected identities to decode to []string, got %#v", out["identities"])
	}
}

func TestDecodeInputConvertsLabelsAndStandardsToStringList(t *testing.T) {
	raw := rawFields(t, map[string]any{
		"labels":    []string{"hot-wallet"},
		"standards": []string{"icrc1", "icrc2"},
	})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	labels, ok := out["labels"].([]string)
	if !ok || len(labels) != 1 || labels[0] != "hot-wallet" {
		t.Fatalf("expected labels to decode to []string, got %#v", out["labels"])
	}
	standards, ok := out["standards"].([]string)
	if !ok || len(standards) != 2 {
		t.Fatalf("expected standards to decode to []string, got %#v", out["standards"])
	}
}

func TestDecodeInputConvertsMetadataEntries(t *testing.T) {
	raw := rawFields(t, map[string]any{
		"metadata": []map[string]any{{"key": "purpose", "value": "operations"}},
	})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	entries, ok := out["metadata"].([]station.MetadataEntry)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected metadata to decode to []station.MetadataEntry, got %#v", out["metadata"])
	}
	if entries[0].Key != "purpose" || entries[0].Value != "operations" {
		t.Fatalf("unexpected decoded metadata entry: %+v", entries[0])
	}
}

func TestDecodeInputConvertsDecimalsToUint32(t *testing.T) {
	raw := rawFields(t, map[string]any{"decimals": 8})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out["decimals"].(uint32)
	if !ok || got != 8 {
		t.Fatalf("expected decimals to decode to uint32, got %#v", out["decimals"])
	}
}

func TestDecodeInputConvertsPermissionAllow(t *testing.T) {
	u := uuid.New()
	raw := rawFields(t, map[string]any{
		"allow": map[string]any{"scope": "restricted", "users": []string{u.String()}},
	})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	allow, ok := out["allow"].(station.PermissionAllow)
	if !ok {
		t.Fatalf("expected allow to decode to PermissionAllow, got %#v", out["allow"])
	}
	if allow.Scope != station.ScopeRestricted {
		t.Fatalf("expected restricted scope, got %v", allow.Scope)
	}
	if _, ok := allow.Users[u]; !ok {
		t.Fatalf("expected user to be present in the allow-list")
	}
}

func TestDecodeInputConvertsWasmAndArgFromBase64(t *testing.T) {
	raw := rawFields(t, map[string]any{"wasm_module": "aGVsbG8=", "arg": "d29ybGQ="})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out["wasm_module"].([]byte)) != "hello" {
		t.Fatalf("expected wasm_module to base64-decode, got %#v", out["wasm_module"])
	}
	if string(out["arg"].([]byte)) != "world" {
		t.Fatalf("expected arg to base64-decode, got %#v", out["arg"])
	}
}

func TestDecodeInputPassesThroughUnrecognizedFields(t *testing.T) {
	raw := rawFields(t, map[string]any{"name": "someone", "enabled": true})
	out, err := decodeInput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["name"] != "someone" {
		t.Fatalf("expected plain string field to pass through unchanged, got %#v", out["name"])
	}
	if out["enabled"] != true {
		t.Fatalf("expected plain bool field to pass through unchanged, got %#v", out["enabled"])
	}
}

func TestSpecifierWireResolvesOperationAndIDs(t *testing.T) {
	acct := uuid.New()
	w := specifierWire{Operation: "edit_account", Kind: "operation_ids", IDs: []string{acct.String()}}
	spec, err := w.toSpecifier()
	if err != nil {
		t.Fatalf("to specifier: %v", err)
	}
	if spec.Operation != station.OpEditAccount || spec.Kind != station.SpecifierOperationIDs {
		t.Fatalf("unexpected specifier: %+v", spec)
	}
	if len(spec.IDs) != 1 || spec.IDs[0] != acct {
		t.Fatalf("expected ids to round trip, got %+v", spec.IDs)
	}
}

func TestSpecifierWireRejectsUnknownOperation(t *testing.T) {
	w := specifierWire{Operation: "not_an_operation", Kind: "operation_kind"}
	if _, err := w.toSpecifier(); err == nil {
		t.Fatalf("expected an unknown operation name to be rejected")
	}
}

func TestResourceWireDefaultsToAnyIDWhenMissing(t *testing.T) {
	w := resourceWire{Kind: "user", Action: "list"}
	res := w.toResource()
	if !res.ID.Any {
		t.Fatalf("expected an empty id to resolve to AnyID")
	}
	if res.Kind != station.ResourceUser || res.Action != station.ActionList {
		t.Fatalf("unexpected resource: %+v", res)
	}
}
