package fhir

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaNode is one element in a resource schema tree. Path is relative to
// the resource root ("identifier.system"), Name is the final segment.
type SchemaNode struct {
	Path        string        `json:"path"`
	Name        string        `json:"name"`
	Type        string        `json:"type,omitempty"`
	Min         int           `json:"min"`
	Max         string        `json:"max,omitempty"` // "1" or "*"
	Children    []*SchemaNode `json:"children,omitempty"`
	Repeating   bool          `json:"repeating,omitempty"`
	Recommended bool          `json:"recommended,omitempty"`
}

// ElementDef is the flat element form a StructureDefinition snapshot
// provides: a dotted path plus type and cardinality.
type ElementDef struct {
	Path        string
	Type        string
	Min         int
	Max         string
	Recommended bool
}

// SchemaTree is the schema for one resource type.
type SchemaTree struct {
	ResourceType string
	Root         *SchemaNode
}

// BuildSchemaTree assembles a tree from flat element definitions. Element
// paths must be relative to the resource root and are inserted in the order
// given; a child whose parent element was never declared gets implicit
// intermediate nodes.
func BuildSchemaTree(resourceType string, elements []ElementDef) (*SchemaTree, error) {
	if resourceType == "" {
		return nil, fmt.Errorf("build schema tree: resource type is required")
	}
	root := &SchemaNode{Path: "", Name: resourceType}
	index := map[string]*SchemaNode{"": root}

	for _, el := range elements {
		if el.Path == "" {
			return nil, fmt.Errorf("build schema tree: empty element path")
		}
		segments := strings.Split(el.Path, ".")
		parentPath := ""
		for i := 0; i < len(segments)-1; i++ {
			childPath := strings.Join(segments[:i+1], ".")
			if _, ok := index[childPath]; !ok {
				node := &SchemaNode{Path: childPath, Name: segments[i], Type: "BackboneElement"}
				parent := index[parentPath]
				parent.Children = append(parent.Children, node)
				index[childPath] = node
			}
			parentPath = childPath
		}
		if existing, ok := index[el.Path]; ok {
			existing.Type = el.Type
			existing.Min = el.Min
			existing.Max = el.Max
			existing.Repeating = el.Max == "*"
			existing.Recommended = el.Recommended
			continue
		}
		node := &SchemaNode{
			Path:        el.Path,
			Name:        segments[len(segments)-1],
			Type:        el.Type,
			Min:         el.Min,
			Max:         el.Max,
			Repeating:   el.Max == "*",
			Recommended: el.Recommended,
		}
		parent := index[parentPath]
		parent.Children = append(parent.Children, node)
		index[el.Path] = node
	}
	return &SchemaTree{ResourceType: resourceType, Root: root}, nil
}

// FlattenPaths returns every element path in the tree in preorder.
func (t *SchemaTree) FlattenPaths() []string {
	var paths []string
	var walk func(n *SchemaNode)
	walk = func(n *SchemaNode) {
		if n.Path != "" {
			paths = append(paths, n.Path)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return paths
}

// SchemaRegistry holds schema trees by resource type.
type SchemaRegistry struct {
	trees map[string]*SchemaTree
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{trees: make(map[string]*SchemaTree)}
}

// Register adds or replaces the schema for a resource type.
func (r *SchemaRegistry) Register(t *SchemaTree) {
	r.trees[t.ResourceType] = t
}

// SchemaFor returns the schema for a resource type.
func (r *SchemaRegistry) SchemaFor(resourceType string) (*SchemaTree, bool) {
	t, ok := r.trees[resourceType]
	return t, ok
}

// ResourceTypes lists registered types in lexical order.
func (r *SchemaRegistry) ResourceTypes() []string {
	types := make([]string, 0, len(r.trees))
	for rt := range r.trees {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// DefaultSchemas returns a registry seeded with the core resource schemas
// shipped with the server. Projects targeting other types load their own
// StructureDefinition snapshots.
func DefaultSchemas() *SchemaRegistry {
	reg := NewSchemaRegistry()

	patient, _ := BuildSchemaTree("Patient", []ElementDef{
		{Path: "identifier", Type: "Identifier", Max: "*"},
		{Path: "identifier.system", Type: "uri", Max: "1"},
		{Path: "identifier.value", Type: "string", Max: "1"},
		{Path: "active", Type: "boolean", Max: "1"},
		{Path: "name", Type: "HumanName", Max: "*", Recommended: true},
		{Path: "name.family", Type: "string", Max: "1"},
		{Path: "name.given", Type: "string", Max: "*"},
		{Path: "telecom", Type: "ContactPoint", Max: "*"},
		{Path: "telecom.system", Type: "code", Max: "1"},
		{Path: "telecom.value", Type: "string", Max: "1"},
		{Path: "gender", Type: "code", Max: "1", Recommended: true},
		{Path: "birthDate", Type: "date", Max: "1", Recommended: true},
		{Path: "address", Type: "Address", Max: "*"},
		{Path: "address.city", Type: "string", Max: "1"},
		{Path: "address.postalCode", Type: "string", Max: "1"},
		{Path: "address.country", Type: "string", Max: "1"},
	})
	reg.Register(patient)

	observation, _ := BuildSchemaTree("Observation", []ElementDef{
		{Path: "status", Type: "code", Min: 1, Max: "1"},
		{Path: "category", Type: "CodeableConcept", Max: "*"},
		{Path: "code", Type: "CodeableConcept", Min: 1, Max: "1"},
		{Path: "code.coding", Type: "Coding", Max: "*"},
		{Path: "code.coding.system", Type: "uri", Max: "1"},
		{Path: "code.coding.code", Type: "code", Max: "1"},
		{Path: "code.coding.display", Type: "string", Max: "1", Recommended: true},
		{Path: "subject", Type: "Reference", Max: "1", Recommended: true},
		{Path: "effectiveDateTime", Type: "dateTime", Max: "1"},
		{Path: "valueQuantity", Type: "Quantity", Max: "1"},
		{Path: "valueQuantity.value", Type: "decimal", Max: "1"},
		{Path: "valueQuantity.unit", Type: "string", Max: "1"},
		{Path: "valueString", Type: "string", Max: "1"},
	})
	reg.Register(observation)

	questionnaireResponse, _ := BuildSchemaTree("QuestionnaireResponse", []ElementDef{
		{Path: "questionnaire", Type: "canonical", Max: "1"},
		{Path: "status", Type: "code", Min: 1, Max: "1"},
		{Path: "subject", Type: "Reference", Max: "1"},
		{Path: "item", Type: "BackboneElement", Max: "*"},
		{Path: "item.linkId", Type: "string", Min: 1, Max: "1"},
		{Path: "item.answer", Type: "BackboneElement", Max: "*"},
		{Path: "item.answer.valueString", Type: "string", Max: "1"},
		{Path: "item.answer.valueDecimal", Type: "decimal", Max: "1"},
		{Path: "item.answer.valueCoding", Type: "Coding", Max: "1"},
	})
	reg.Register(questionnaireResponse)

	return reg
}
