// Package manifest provides the in-memory schema of datasets, models and properties
package manifest

import (
	"strings"
)

// Kind tags the variant of a property type
type Kind string

// Property kinds
const (
	KindString   Kind = "string"
	KindInteger  Kind = "integer"
	KindNumber   Kind = "number"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDatetime Kind = "datetime"
	KindTime     Kind = "time"
	KindBinary   Kind = "binary"
	KindText     Kind = "text"
	KindGeometry Kind = "geometry"
	KindFile     Kind = "file"
	KindURL      Kind = "url"
	KindURI      Kind = "uri"
	KindRef      Kind = "ref"
	KindBackref  Kind = "backref"
	KindArray    Kind = "array"
	KindObject   Kind = "object"
	KindEnum     Kind = "enum"
)

// Access controls whether a property leaves the source
type Access string

// Access levels, ordered from most to least restrictive
const (
	AccessPrivate   Access = "private"
	AccessProtected Access = "protected"
	AccessPublic    Access = "public"
	AccessOpen      Access = "open"
)

// Ref levels
const (
	// LevelNaturalKey materializes a ref by the referenced model's primary key components
	LevelNaturalKey = 3
	// LevelIdentifier materializes a ref by the referenced surrogate _id
	LevelIdentifier = 4
)

// Manifest holds every dataset and model loaded for a run
type Manifest struct {
	datasets     map[string]*Dataset
	datasetOrder []string
	models       map[string]*Model
	modelOrder   []string
}

// Dataset is a named namespace of resources and models
type Dataset struct {
	Name        string
	Title       string
	Description string
	Resources   []*Resource
	Models      []*Model
}

// Resource describes where a dataset's rows come from
type Resource struct {
	Name       string
	Type       string
	Connection string
	Prepare    string
	Dataset    *Dataset
}

// Base links a model to a parent model sharing its identity
type Base struct {
	Name  string
	Model *Model
}

// Model is a named record type inside a dataset
type Model struct {
	Name           string
	Dataset        *Dataset
	Resource       *Resource
	Base           *Base
	PrimaryKey     []string
	Properties     *Properties
	ExternalSource string
	Prepare        string
	Level          int
	Access         Access
	URI            string
	Title          string
	Description    string

	order int
}

// Property is the shared header of every property variant
type Property struct {
	Name     string
	Kind     Kind
	Required bool
	Unique   bool
	Access   Access
	Level    int
	Source   string
	Prepare  string
	Model    *Model

	// Variant data, set according to Kind
	Ref      *Ref
	Geometry *Geometry
	Text     *Text
	Enum     *Enum
	Items    *Property

	// Denorm is set for <ref>.<inner> properties stored inline on the declaring model
	Denorm *Denorm
}

// Ref is the variant data of ref and backref properties
type Ref struct {
	ModelName string
	Model     *Model
	// Keys are the referenced model properties the source value matches
	Keys  []string
	Level int
}

// Geometry is the variant data of geometry properties
type Geometry struct {
	Shape string
	SRID  int
}

// Text is the variant data of language-tagged text properties
type Text struct {
	Langs []string
}

// EnumItem maps a source value to the canonical stored value
type EnumItem struct {
	Source   string
	Prepared any
}

// Enum is an ordered set of enum items
type Enum struct {
	Items []EnumItem
}

// Denorm links a denormalized property to the ref it follows
type Denorm struct {
	Ref    *Property
	Inner  string
	Target *Property
}

// Properties is an ordered map of properties preserving manifest order
type Properties struct {
	list   []*Property
	byName map[string]*Property
}

// NewProperties creates an empty ordered property map
func NewProperties() *Properties {
	return &Properties{byName: make(map[string]*Property)}
}

// Add appends a property, replacing a same-named one in place
func (p *Properties) Add(prop *Property) {
	if _, exists := p.byName[prop.Name]; exists {
		for i, existing := range p.list {
			if existing.Name == prop.Name {
				p.list[i] = prop
			}
		}
	} else {
		p.list = append(p.list, prop)
	}

	p.byName[prop.Name] = prop
}

// Get returns a property by exact name
func (p *Properties) Get(name string) (*Property, bool) {
	prop, ok := p.byName[name]

	return prop, ok
}

// List returns properties in manifest order
func (p *Properties) List() []*Property {
	return p.list
}

// Len returns the number of properties
func (p *Properties) Len() int {
	return len(p.list)
}

// IsRef reports whether the property references another model
func (p *Property) IsRef() bool {
	return p.Kind == KindRef && p.Ref != nil
}

// ByIdentifier reports whether a ref is materialized by _id
func (p *Property) ByIdentifier() bool {
	return p.IsRef() && p.Ref.Level >= LevelIdentifier
}

// Exported reports whether the property's value leaves the source
func (p *Property) Exported() bool {
	return p.Access != AccessPrivate
}

// Nested reports whether the property is part of an object or a denorm
func (p *Property) Nested() bool {
	return strings.Contains(p.Name, ".")
}

// Namespace returns the dataset part of a qualified model name
func (m *Model) Namespace() string {
	if m.Dataset != nil {
		return m.Dataset.Name
	}

	idx := strings.LastIndex(m.Name, "/")
	if idx < 0 {
		return ""
	}

	return m.Name[:idx]
}

// Basename returns the unqualified model name
func (m *Model) Basename() string {
	idx := strings.LastIndex(m.Name, "/")

	return m.Name[idx+1:]
}

// IdentityModel returns the model whose keymap assigns this model's _id
func (m *Model) IdentityModel() *Model {
	current := m
	for i := 0; i < maxBaseDepth && current.Base != nil && current.Base.Model != nil; i++ {
		current = current.Base.Model
	}

	return current
}

// KeyProperties returns the properties forming the natural key.
// Models without a primary key use their own top-level properties.
func (m *Model) KeyProperties() []string {
	if len(m.PrimaryKey) > 0 {
		return m.PrimaryKey
	}

	keys := make([]string, 0, m.Properties.Len())
	for _, prop := range m.Properties.List() {
		if prop.Nested() || prop.Kind == KindBackref {
			continue
		}

		keys = append(keys, prop.Name)
	}

	return keys
}

// Sourced reports whether the replicator can read the model's rows
func (m *Model) Sourced() bool {
	return m.Resource != nil && m.ExternalSource != ""
}

// Model looks up a model by qualified name
func (m *Manifest) Model(name string) (*Model, bool) {
	model, ok := m.models[name]

	return model, ok
}

// Models returns every model in manifest order
func (m *Manifest) Models() []*Model {
	out := make([]*Model, 0, len(m.modelOrder))
	for _, name := range m.modelOrder {
		out = append(out, m.models[name])
	}

	return out
}

// Dataset looks up a dataset by name
func (m *Manifest) Dataset(name string) (*Dataset, bool) {
	ds, ok := m.datasets[name]

	return ds, ok
}

// Datasets returns every dataset in manifest order
func (m *Manifest) Datasets() []*Dataset {
	out := make([]*Dataset, 0, len(m.datasetOrder))
	for _, name := range m.datasetOrder {
		out = append(out, m.datasets[name])
	}

	return out
}

const maxBaseDepth = 16
