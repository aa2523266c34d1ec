package keysync

import (
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/atviriduomenys/spinta-sync/pkg/source"
)

// NaturalKey extracts the natural key components of a row in payload shape:
// plain values by property kind, level 4 refs as {"_id": ...} and level 3
// refs as an object of the referenced key properties. It reports false when
// a component is missing.
func NaturalKey(model *manifest.Model, data map[string]any) ([]any, bool) {
	keys := model.KeyProperties()
	out := make([]any, 0, len(keys))

	for _, key := range keys {
		raw, ok := data[key]
		if !ok {
			return nil, false
		}

		prop, err := model.Resolve(key)
		if err != nil {
			return nil, false
		}

		value, ok := component(prop, raw)
		if !ok {
			return nil, false
		}

		out = append(out, value)
	}

	return out, true
}

func component(prop *manifest.Property, raw any) (any, bool) {
	if !prop.IsRef() {
		v, err := source.Coerce(prop, raw)
		if err != nil {
			return nil, false
		}

		return v, true
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return raw, raw != nil
	}

	if prop.ByIdentifier() {
		id, ok := obj["_id"]

		return id, ok && id != nil
	}

	// Level 3 refs carry the referenced model's natural key, whatever the ref looks it up by
	keys := prop.Ref.Keys
	if prop.Ref.Model != nil {
		keys = prop.Ref.Model.KeyProperties()
	}

	parts := make([]any, 0, len(keys))

	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			return nil, false
		}

		if prop.Ref.Model != nil {
			if inner, err := prop.Ref.Model.Resolve(key); err == nil {
				if v, err = source.Coerce(inner, v); err != nil {
					return nil, false
				}
			}
		}

		parts = append(parts, v)
	}

	if len(parts) == 1 {
		return parts[0], true
	}

	return parts, true
}
