package replicator

import (
	"context"
	"fmt"
	"strings"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/keymap"
	"github.com/atviriduomenys/spinta-sync/pkg/keysync"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/remote"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
	"github.com/sirupsen/logrus"
)

// outbound is a payload waiting to be sent
type outbound struct {
	payload  remote.Payload
	checksum string
}

// build turns a source row into a payload without system fields chosen by
// push state: _op and _revision are filled in by the pipeline
func (p *pipeline) build(ctx context.Context, row source.Row) (outbound, error) {
	model := p.model
	props := make([]remote.Prop, 0, model.Properties.Len())
	keyData := make(map[string]any)
	nested := make(map[string]map[string]any)

	for _, prop := range model.Properties.List() {
		if prop.Kind == manifest.KindBackref || prop.Nested() {
			continue
		}

		raw, ok := row[prop.Name]
		if !ok && !prop.IsRef() {
			continue
		}

		value := raw

		if prop.IsRef() {
			if !ok && !hasDenorm(model, prop, row) {
				continue
			}

			ref, err := p.ref(ctx, prop, raw, row)
			if err != nil {
				return outbound{}, err
			}

			value = ref
			if obj, isObj := ref.(map[string]any); isObj {
				nested[prop.Name] = obj
			}
		}

		keyData[prop.Name] = value

		if !prop.Exported() {
			continue
		}

		props = append(props, remote.Prop{Name: prop.Name, Value: value})
	}

	p.fillNested(row, props, nested)

	key, ok := keysync.NaturalKey(model, keyData)
	if !ok {
		return outbound{}, errcode.Errorf(errcode.SchemaMismatch, "%s row has no natural key %v", model.Name, model.KeyProperties())
	}

	id, err := p.encode(ctx, model, key)
	if err != nil {
		return outbound{}, err
	}

	out := outbound{payload: remote.Payload{Type: model.Name, ID: id, Props: props}}

	if out.checksum, err = checksum(props); err != nil {
		return outbound{}, fmt.Errorf("failed to checksum %s row: %w", model.Name, err)
	}

	return out, nil
}

// fillNested puts object and denorm sub-properties under their parent
func (p *pipeline) fillNested(row source.Row, props []remote.Prop, refs map[string]map[string]any) {
	for _, prop := range p.model.Properties.List() {
		if !prop.Nested() || !prop.Exported() {
			continue
		}

		value, ok := row[prop.Name]
		if !ok {
			continue
		}

		parent, inner, _ := strings.Cut(prop.Name, ".")

		if obj, isRef := refs[parent]; isRef {
			if _, set := obj[inner]; !set {
				obj[inner] = value
			}

			continue
		}

		for i := range props {
			if props[i].Name != parent {
				continue
			}

			obj, isObj := props[i].Value.(map[string]any)
			if !isObj {
				obj = make(map[string]any)
				props[i].Value = obj
			}

			obj[inner] = value
		}
	}
}

func hasDenorm(model *manifest.Model, ref *manifest.Property, row source.Row) bool {
	prefix := ref.Name + "."

	for name := range row {
		if strings.HasPrefix(name, prefix) {
			if _, ok := model.Properties.Get(name); ok {
				return true
			}
		}
	}

	return false
}

// ref materializes a ref: level 3 as the referenced natural key, level 4 as {"_id": ...}
func (p *pipeline) ref(ctx context.Context, prop *manifest.Property, raw any, row source.Row) (any, error) {
	target := prop.Ref.Model

	keyValues, ok, err := p.refKey(ctx, prop, raw, row)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	pk := target.KeyProperties()

	if !prop.ByIdentifier() {
		obj := make(map[string]any, len(pk))
		for i, key := range pk {
			obj[key] = keyValues[i]
		}

		return obj, nil
	}

	data := make(map[string]any, len(pk))
	for i, key := range pk {
		data[key] = keyValues[i]
	}

	key, ok := keysync.NaturalKey(target, data)
	if !ok {
		return nil, nil
	}

	id, found, err := p.refID(ctx, target, key)
	if err != nil {
		return nil, err
	}

	if !found {
		p.log.WithFields(logrus.Fields{"property": prop.Name, "ref": target.Name, "key": key}).
			Warn("Referenced identifier is unavailable, pushing a null ref")

		return nil, nil
	}

	return map[string]any{"_id": id}, nil
}

// refKey returns the referenced model's natural key for a ref value. Denorm
// properties named after the key win; a ref matching the primary key uses
// the source value directly; any other ref is looked up in the source.
func (p *pipeline) refKey(ctx context.Context, prop *manifest.Property, raw any, row source.Row) ([]any, bool, error) {
	target := prop.Ref.Model
	pk := target.KeyProperties()

	values := make([]any, len(pk))
	denorm := true

	for i, key := range pk {
		v, ok := row[prop.Name+"."+key]
		if !ok {
			denorm = false
			break
		}

		values[i] = v
	}

	if denorm {
		return values, !allNil(values), nil
	}

	if raw == nil {
		return nil, false, nil
	}

	if len(pk) == 1 && (len(prop.Ref.Keys) == 0 || sameKeys(prop.Ref.Keys, pk)) {
		return []any{raw}, true, nil
	}

	by := prop.Ref.Keys
	if len(by) == 0 {
		by = pk
	}

	reader, err := p.run.sources.Reader(ctx, target)
	if err != nil {
		return nil, false, err
	}

	match, found, err := p.run.retrying(reader).Lookup(ctx, target, by, []any{raw})
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up %s for %s: %w", target.Name, prop.Name, err)
	}

	if !found {
		return nil, false, nil
	}

	return source.KeyOf(target, match), true, nil
}

// encode assigns the row's own identifier under its identity model
func (p *pipeline) encode(ctx context.Context, model *manifest.Model, key []any) (string, error) {
	name := model.IdentityModel().Name

	return p.run.assign(ctx, name, keymap.KeyValue(key))
}

// refID resolves a referenced identifier. Models pushed by this run get one
// assigned; others are looked up, syncing the keymap once when missing.
func (p *pipeline) refID(ctx context.Context, target *manifest.Model, key []any) (string, bool, error) {
	name := target.IdentityModel().Name
	value := keymap.KeyValue(key)

	if p.run.controlled[target.Name] {
		id, err := p.run.assign(ctx, name, value)

		return id, err == nil, err
	}

	id, found, err := p.run.keymap.Lookup(ctx, name, value)
	if err != nil || found {
		return id, found, err
	}

	if !p.run.syncOnce(ctx, target) {
		return "", false, nil
	}

	return p.run.keymap.Lookup(ctx, name, value)
}

func checksum(props []remote.Prop) (string, error) {
	data := make(map[string]any, len(props))
	for _, prop := range props {
		data[prop.Name] = prop.Value
	}

	_, hash, err := keymap.HashValue(data)

	return hash, err
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func allNil(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}

	return true
}
