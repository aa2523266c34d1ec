package manifest

import (
	"fmt"
	"strings"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
)

// Resolve finds the property a dotted path names. An exact match on the model
// wins, so a denorm declared here shadows the property of the referenced
// model. Otherwise a leading ref segment is followed into its model, then the
// base model is tried.
func (m *Model) Resolve(path string) (*Property, error) {
	return m.resolve(path, 0)
}

func (m *Model) resolve(path string, depth int) (*Property, error) {
	if depth > maxBaseDepth {
		return nil, errcode.New(errcode.UnknownProperty, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.Name, path))
	}

	if prop, ok := m.Properties.Get(path); ok {
		return prop, nil
	}

	if head, rest, ok := strings.Cut(path, "."); ok {
		if prop, found := m.Properties.Get(head); found && prop.IsRef() && prop.Ref.Model != nil {
			if target, err := prop.Ref.Model.resolve(rest, depth+1); err == nil {
				return target, nil
			}
		}
	}

	if m.Base != nil && m.Base.Model != nil {
		if prop, err := m.Base.Model.resolve(path, depth+1); err == nil {
			return prop, nil
		}
	}

	return nil, errcode.New(errcode.UnknownProperty, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, m.Name, path))
}

// Filter returns the models of the named datasets in manifest order, or every
// model when no dataset is given
func (m *Manifest) Filter(datasets ...string) ([]*Model, error) {
	if len(datasets) == 0 {
		return m.Models(), nil
	}

	wanted := make(map[string]bool, len(datasets))

	for _, name := range datasets {
		name = strings.Trim(name, "/")
		if _, ok := m.datasets[name]; !ok {
			return nil, errcode.New(errcode.UnknownDatasetInConfig, fmt.Errorf("%w: %q", ErrUnknownDataset, name))
		}

		wanted[name] = true
	}

	var out []*Model

	for _, model := range m.Models() {
		if wanted[model.Namespace()] {
			out = append(out, model)
		}
	}

	return out, nil
}
