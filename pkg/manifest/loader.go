package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"gopkg.in/yaml.v3"
)

// Resource types the source reader knows how to open
const (
	ResourceSQL    = "sql"
	ResourceCSV    = "csv"
	ResourceMemory = "memory"
)

// Row is one normalized manifest descriptor row
type Row struct {
	Dataset     string `yaml:"dataset" csv:"dataset"`
	Resource    string `yaml:"resource" csv:"resource"`
	Base        string `yaml:"base" csv:"base"`
	Model       string `yaml:"model" csv:"model"`
	Property    string `yaml:"property" csv:"property"`
	Type        string `yaml:"type" csv:"type"`
	Ref         string `yaml:"ref" csv:"ref"`
	Source      string `yaml:"source" csv:"source"`
	Prepare     string `yaml:"prepare" csv:"prepare"`
	Level       string `yaml:"level" csv:"level"`
	Access      string `yaml:"access" csv:"access"`
	URI         string `yaml:"uri" csv:"uri"`
	Title       string `yaml:"title" csv:"title"`
	Description string `yaml:"description" csv:"description"`
}

// descriptor is the yaml document form of a manifest
type descriptor struct {
	Rows []Row `yaml:"rows"`
}

// LoadFile loads a manifest from a yaml or csv descriptor file
func LoadFile(path string) (*Manifest, error) {
	return LoadFiles(path)
}

// LoadFiles loads one manifest from the rows of every file in order
func LoadFiles(paths ...string) (*Manifest, error) {
	var rows []Row

	for _, path := range paths {
		fileRows, err := readFile(path)
		if err != nil {
			return nil, err
		}

		rows = append(rows, fileRows...)
	}

	return Load(rows)
}

func readFile(path string) ([]Row, error) {
	f, err := os.Open(path) //nolint:gosec // Operator-provided manifest path
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	var rows []Row

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = ReadCSV(f)
	case ".yaml", ".yml":
		rows, err = ReadYAML(f)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", filepath.Ext(path))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	return rows, nil
}

// ReadYAML decodes descriptor rows from a yaml document with a top-level rows list
func ReadYAML(r io.Reader) ([]Row, error) {
	var doc descriptor
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		return nil, err
	}

	return doc.Rows, nil
}

// ReadCSV decodes descriptor rows from a csv file whose header names the columns
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}

	get := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}

		return strings.TrimSpace(record[i])
	}

	var rows []Row

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		rows = append(rows, Row{
			Dataset:     get(record, "dataset"),
			Resource:    get(record, "resource"),
			Base:        get(record, "base"),
			Model:       get(record, "model"),
			Property:    get(record, "property"),
			Type:        get(record, "type"),
			Ref:         get(record, "ref"),
			Source:      get(record, "source"),
			Prepare:     get(record, "prepare"),
			Level:       get(record, "level"),
			Access:      get(record, "access"),
			URI:         get(record, "uri"),
			Title:       get(record, "title"),
			Description: get(record, "description"),
		})
	}

	return rows, nil
}

type loader struct {
	manifest *Manifest
	dataset  *Dataset
	resource *Resource
	base     string
	model    *Model
	prop     *Property
	enum     *Property
}

// Load builds a manifest from normalized descriptor rows
func Load(rows []Row) (*Manifest, error) {
	l := &loader{
		manifest: &Manifest{
			datasets: make(map[string]*Dataset),
			models:   make(map[string]*Model),
		},
	}

	for i, row := range rows {
		if err := l.row(row); err != nil {
			return nil, fmt.Errorf("manifest row %d: %w", i+1, err)
		}
	}

	if err := l.link(); err != nil {
		return nil, err
	}

	return l.manifest, nil
}

func (l *loader) row(row Row) error {
	switch {
	case row.Dataset != "":
		return l.openDataset(row)
	case row.Resource != "":
		return l.openResource(row)
	case row.Base != "":
		l.base = row.Base
		return nil
	case row.Model != "":
		return l.openModel(row)
	case row.Property != "":
		return l.addProperty(row)
	case strings.EqualFold(row.Type, string(KindEnum)):
		if l.prop == nil {
			return ErrPropertyOutsideModel
		}

		if l.prop.Enum == nil {
			l.prop.Enum = &Enum{}
		}

		l.enum = l.prop
		return nil
	case row.Source != "" || row.Prepare != "":
		if l.enum == nil {
			return nil
		}

		l.enum.Enum.Items = append(l.enum.Enum.Items, EnumItem{
			Source:   row.Source,
			Prepared: parsePrepared(row.Prepare, row.Source),
		})
		return nil
	}

	return nil
}

func (l *loader) openDataset(row Row) error {
	name := strings.Trim(row.Dataset, "/")

	ds, ok := l.manifest.datasets[name]
	if !ok {
		ds = &Dataset{Name: name, Title: row.Title, Description: row.Description}
		l.manifest.datasets[name] = ds
		l.manifest.datasetOrder = append(l.manifest.datasetOrder, name)
	}

	l.dataset = ds
	l.resource = nil
	l.base = ""
	l.model = nil
	l.prop = nil
	l.enum = nil

	return nil
}

func (l *loader) openResource(row Row) error {
	typ := strings.ToLower(strings.TrimSpace(row.Type))

	switch typ {
	case ResourceSQL, ResourceCSV, ResourceMemory:
	default:
		return errcode.New(errcode.InvalidResourceSource, fmt.Errorf("%w: resource %q has type %q", ErrInvalidResource, row.Resource, row.Type))
	}

	res := &Resource{
		Name:       row.Resource,
		Type:       typ,
		Connection: row.Source,
		Prepare:    row.Prepare,
		Dataset:    l.dataset,
	}

	if l.dataset != nil {
		l.dataset.Resources = append(l.dataset.Resources, res)
	}

	l.resource = res
	l.base = ""
	l.model = nil
	l.prop = nil
	l.enum = nil

	return nil
}

func (l *loader) openModel(row Row) error {
	level, err := parseLevel(row.Level)
	if err != nil {
		return err
	}

	access, err := parseAccess(row.Access)
	if err != nil {
		return err
	}

	name := l.qualify(row.Model)
	if _, exists := l.manifest.models[name]; exists {
		return fmt.Errorf("duplicate model %q", name)
	}

	model := &Model{
		Name:           name,
		Dataset:        l.dataset,
		Resource:       l.resource,
		PrimaryKey:     splitList(row.Ref),
		Properties:     NewProperties(),
		ExternalSource: row.Source,
		Prepare:        row.Prepare,
		Level:          level,
		Access:         access,
		URI:            row.URI,
		Title:          row.Title,
		Description:    row.Description,
		order:          len(l.manifest.modelOrder),
	}

	if l.base != "" {
		model.Base = &Base{Name: l.qualify(l.base)}
	}

	if l.dataset != nil {
		l.dataset.Models = append(l.dataset.Models, model)
	}

	l.manifest.models[name] = model
	l.manifest.modelOrder = append(l.manifest.modelOrder, name)
	l.model = model
	l.prop = nil
	l.enum = nil

	return nil
}

func (l *loader) addProperty(row Row) error {
	if l.model == nil {
		return fmt.Errorf("%w: %q", ErrPropertyOutsideModel, row.Property)
	}

	spec, err := parseType(row.Type)
	if err != nil {
		return errcode.New(errcode.UnsupportedDataTypeConfiguration, err)
	}

	level, err := parseLevel(row.Level)
	if err != nil {
		return err
	}

	access, err := parseAccess(row.Access)
	if err != nil {
		return err
	}

	if access == "" {
		access = l.model.Access
	}

	if access == "" {
		access = AccessProtected
	}

	name := row.Property
	l.enum = nil

	if base, lang, ok := strings.Cut(name, "@"); ok {
		return l.addLang(base, lang)
	}

	prop := &Property{
		Name:     name,
		Kind:     spec.kind,
		Required: spec.required,
		Unique:   spec.unique,
		Access:   access,
		Level:    level,
		Source:   row.Source,
		Prepare:  row.Prepare,
		Model:    l.model,
	}

	if err := fillVariant(prop, spec, row, l.qualify); err != nil {
		return errcode.New(errcode.UnsupportedDataTypeConfiguration, err)
	}

	if item, ok := strings.CutSuffix(name, "[]"); ok {
		parent, exists := l.model.Properties.Get(item)
		if !exists {
			parent = &Property{Name: item, Kind: KindArray, Access: access, Source: row.Source, Model: l.model}
			l.model.Properties.Add(parent)
		}

		prop.Name = item
		parent.Items = prop
		l.prop = prop

		return nil
	}

	if prop.Kind == "" && !prop.Nested() {
		return errcode.New(errcode.UnsupportedDataTypeConfiguration, fmt.Errorf("%w: property %q has no type", ErrUnsupportedType, name))
	}

	if prop.Kind == KindEnum {
		l.enum = prop
	}

	l.model.Properties.Add(prop)
	l.prop = prop

	return nil
}

func (l *loader) addLang(base, lang string) error {
	parent, ok := l.model.Properties.Get(base)
	if !ok {
		parent = &Property{Name: base, Kind: KindText, Text: &Text{}, Access: AccessProtected, Model: l.model}
		l.model.Properties.Add(parent)
	}

	if parent.Kind != KindText {
		return errcode.New(errcode.UnsupportedDataTypeConfiguration, fmt.Errorf("%w: %s@%s on a %s property", ErrUnsupportedType, base, lang, parent.Kind))
	}

	if parent.Text == nil {
		parent.Text = &Text{}
	}

	parent.Text.Langs = append(parent.Text.Langs, lang)
	l.prop = parent

	return nil
}

func fillVariant(prop *Property, spec typeSpec, row Row, qualify func(string) string) error {
	switch prop.Kind {
	case KindRef, KindBackref:
		name, keys := parseRef(row.Ref)
		if name == "" {
			return fmt.Errorf("%w: %s property %q without ref", ErrUnsupportedType, prop.Kind, prop.Name)
		}

		level := LevelIdentifier
		if prop.Level > 0 && prop.Level <= LevelNaturalKey {
			level = LevelNaturalKey
		}

		prop.Ref = &Ref{ModelName: qualify(name), Keys: keys, Level: level}
	case KindGeometry:
		geom, err := parseGeometry(spec.args)
		if err != nil {
			return err
		}

		prop.Geometry = geom
	case KindText:
		prop.Text = &Text{}
	case KindEnum:
		prop.Enum = &Enum{}
	}

	return nil
}

func (l *loader) qualify(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "/") {
		return strings.TrimPrefix(name, "/")
	}

	if l.dataset == nil {
		return name
	}

	return l.dataset.Name + "/" + name
}

// link resolves model names into pointers once every row is read
func (l *loader) link() error {
	for _, model := range l.manifest.Models() {
		if model.Base != nil {
			base, ok := l.manifest.models[model.Base.Name]
			if !ok {
				return fmt.Errorf("%w: base %q of %s", ErrUnknownModel, model.Base.Name, model.Name)
			}

			model.Base.Model = base
		}

		for _, prop := range model.Properties.List() {
			if prop.Ref == nil {
				continue
			}

			target, ok := l.manifest.models[prop.Ref.ModelName]
			if !ok {
				return errcode.New(errcode.UnknownProperty, fmt.Errorf("%w: %s.%s refers to %q", ErrUnknownModel, model.Name, prop.Name, prop.Ref.ModelName))
			}

			prop.Ref.Model = target
		}
	}

	// Second pass: ref keys and denorms need every ref linked, including refs declared later
	for _, model := range l.manifest.Models() {
		for _, prop := range model.Properties.List() {
			if prop.Ref != nil && len(prop.Ref.Keys) == 0 {
				prop.Ref.Keys = prop.Ref.Model.KeyProperties()
			}

			if prop.Ref != nil {
				for _, key := range prop.Ref.Keys {
					if _, err := prop.Ref.Model.Resolve(key); err != nil {
						return fmt.Errorf("ref %s.%s: %w", model.Name, prop.Name, err)
					}
				}
			}

			if prop.Nested() {
				if err := linkNested(model, prop); err != nil {
					return err
				}
			}
		}

		for _, key := range model.PrimaryKey {
			if _, err := model.Resolve(key); err != nil {
				return fmt.Errorf("primary key of %s: %w", model.Name, err)
			}
		}
	}

	return nil
}

func linkNested(model *Model, prop *Property) error {
	head, inner, _ := strings.Cut(prop.Name, ".")

	parent, ok := model.Properties.Get(head)
	if !ok {
		return errcode.New(errcode.UnknownProperty, fmt.Errorf("%w: %s.%s", ErrInvalidDenorm, model.Name, prop.Name))
	}

	switch parent.Kind {
	case KindObject:
		if prop.Kind == "" {
			return errcode.New(errcode.UnsupportedDataTypeConfiguration, fmt.Errorf("%w: property %q has no type", ErrUnsupportedType, prop.Name))
		}

		return nil
	case KindRef:
	default:
		return errcode.New(errcode.UnknownProperty, fmt.Errorf("%w: %s.%s follows a %s", ErrInvalidDenorm, model.Name, prop.Name, parent.Kind))
	}

	denorm := &Denorm{Ref: parent, Inner: inner}

	if target, err := parent.Ref.Model.Resolve(inner); err == nil {
		denorm.Target = target
	}

	if prop.Kind == "" {
		if denorm.Target == nil {
			return errcode.New(errcode.UnknownProperty, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, model.Name, prop.Name))
		}

		prop.Kind = denorm.Target.Kind
		prop.Geometry = denorm.Target.Geometry
		prop.Text = denorm.Target.Text
		prop.Enum = denorm.Target.Enum
	}

	prop.Denorm = denorm

	return nil
}

// parsePrepared turns an enum prepare expression into its stored value
func parsePrepared(prepare, source string) any {
	prepare = strings.TrimSpace(prepare)
	if prepare == "" {
		return source
	}

	if unquoted, err := strconv.Unquote(prepare); err == nil {
		return unquoted
	}

	if len(prepare) >= 2 && prepare[0] == '\'' && prepare[len(prepare)-1] == '\'' {
		return prepare[1 : len(prepare)-1]
	}

	if n, err := strconv.ParseInt(prepare, 10, 64); err == nil {
		return n
	}

	if b, err := strconv.ParseBool(prepare); err == nil {
		return b
	}

	return prepare
}
