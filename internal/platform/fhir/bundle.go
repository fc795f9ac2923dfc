package fhir

import (
	"encoding/json"
	"fmt"
)

// Bundle is a FHIR bundle as received for validation. Entry resources are
// kept as raw JSON until they are indexed into a Record.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry is a single entry in a bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// ResourceInstance is one decoded resource within a record, positioned by
// document order. Index counts instances of the same resource type, so the
// first Observation in a bundle is Observation[0] even when a Patient
// precedes it.
type ResourceInstance struct {
	ResourceType string
	Index        int
	EntryIndex   int
	FullURL      string
	Resource     map[string]interface{}
}

// Location renders the instance address, e.g. "Patient[0]".
func (ri ResourceInstance) Location() string {
	return fmt.Sprintf("%s[%d]", ri.ResourceType, ri.Index)
}

// ID returns the resource id, or "" when absent.
func (ri ResourceInstance) ID() string {
	id, _ := ri.Resource["id"].(string)
	return id
}

// Record is a parsed bundle indexed for validation. It is immutable after
// construction and safe for concurrent readers.
type Record struct {
	bundle *Bundle
	all    []ResourceInstance
	byType map[string][]ResourceInstance
}

// ParseBundle decodes bundle JSON. It fails on malformed JSON or when the
// document is not a Bundle.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("parse bundle: expected resourceType Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

// NewRecord decodes every entry resource and indexes instances by resource
// type, preserving document order.
func NewRecord(b *Bundle) (*Record, error) {
	rec := &Record{
		bundle: b,
		byType: make(map[string][]ResourceInstance),
	}
	for i, entry := range b.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		var resource map[string]interface{}
		if err := json.Unmarshal(entry.Resource, &resource); err != nil {
			return nil, fmt.Errorf("decode entry[%d] resource: %w", i, err)
		}
		rt, _ := resource["resourceType"].(string)
		if rt == "" {
			return nil, fmt.Errorf("entry[%d] resource is missing resourceType", i)
		}
		inst := ResourceInstance{
			ResourceType: rt,
			Index:        len(rec.byType[rt]),
			EntryIndex:   i,
			FullURL:      entry.FullURL,
			Resource:     resource,
		}
		rec.all = append(rec.all, inst)
		rec.byType[rt] = append(rec.byType[rt], inst)
	}
	return rec, nil
}

// ParseRecord combines ParseBundle and NewRecord.
func ParseRecord(data []byte) (*Record, error) {
	b, err := ParseBundle(data)
	if err != nil {
		return nil, err
	}
	return NewRecord(b)
}

// Bundle returns the underlying bundle.
func (r *Record) Bundle() *Bundle { return r.bundle }

// All returns every instance in document order.
func (r *Record) All() []ResourceInstance { return r.all }

// InstancesOf returns the instances of one resource type in document order.
// A type absent from the record yields an empty slice.
func (r *Record) InstancesOf(resourceType string) []ResourceInstance {
	return r.byType[resourceType]
}

// ResourceTypes returns the distinct resource types present, in order of
// first appearance.
func (r *Record) ResourceTypes() []string {
	seen := make(map[string]bool, len(r.byType))
	var types []string
	for _, inst := range r.all {
		if !seen[inst.ResourceType] {
			seen[inst.ResourceType] = true
			types = append(types, inst.ResourceType)
		}
	}
	return types
}
