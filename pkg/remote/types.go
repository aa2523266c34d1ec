package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
)

// Row operations
const (
	OpInsert = "insert"
	OpUpsert = "upsert"
	OpPatch  = "patch"
	OpDelete = "delete"
)

//go:generate mockgen -package mock -destination mock/remote.mock.go -source types.go Sink,Changelog

// Sink receives pushed rows
type Sink interface {
	// Push sends one batch and returns a result per payload, in order
	Push(ctx context.Context, model string, rows []Payload) ([]Result, error)
	// Get returns the current contents of a row
	Get(ctx context.Context, model, id string) (map[string]any, error)
}

// Changelog serves the change history of a model
type Changelog interface {
	// Changes returns at most limit changes with _cid >= cid, oldest first
	Changes(ctx context.Context, model string, cid int64, limit int) ([]Change, error)
}

// Prop is one model property of a payload
type Prop struct {
	Name  string
	Value any
}

// Payload is one row sent to the remote
type Payload struct {
	Op       string
	Type     string
	ID       string
	Revision string
	// Props are written in manifest order after the system fields
	Props []Prop
}

// Get returns the value of a property
func (p *Payload) Get(name string) (any, bool) {
	for _, prop := range p.Props {
		if prop.Name == name {
			return prop.Value, true
		}
	}

	return nil, false
}

// Data returns the properties as a map
func (p *Payload) Data() map[string]any {
	out := make(map[string]any, len(p.Props))
	for _, prop := range p.Props {
		out[prop.Name] = prop.Value
	}

	return out
}

// MarshalJSON writes system fields first, then properties in order
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(key)
		if err != nil {
			return err
		}

		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)

		return nil
	}

	system := []Prop{{"_op", p.Op}, {"_type", p.Type}, {"_id", p.ID}}
	if p.Revision != "" {
		system = append(system, Prop{"_revision", p.Revision})
	}

	for _, prop := range append(system, p.Props...) {
		if err := write(prop.Name, prop.Value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a payload; properties come back sorted by name
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*p = Payload{}

	names := make([]string, 0, len(raw))

	for key, value := range raw {
		switch key {
		case "_op":
			p.Op, _ = value.(string)
		case "_type":
			p.Type, _ = value.(string)
		case "_id":
			p.ID, _ = value.(string)
		case "_revision":
			p.Revision, _ = value.(string)
		default:
			names = append(names, key)
		}
	}

	slices.Sort(names)

	for _, name := range names {
		p.Props = append(p.Props, Prop{Name: name, Value: raw[name]})
	}

	return nil
}

// ErrorItem is one error reported by the remote
type ErrorItem struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of one pushed row
type Result struct {
	ID       string      `json:"_id"`
	Revision string      `json:"_revision,omitempty"`
	Status   int         `json:"_status,omitempty"`
	Errors   []ErrorItem `json:"errors,omitempty"`
}

// OK reports whether the row was accepted
func (r Result) OK() bool {
	return len(r.Errors) == 0 && r.Status < http.StatusMultipleChoices
}

// Code returns the first error code of a rejected row
func (r Result) Code() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].Code
	}

	if r.Status == http.StatusConflict {
		return string(errcode.ConflictingRevision)
	}

	return ""
}

// Change is one changelog record
type Change struct {
	CID      int64          `json:"_cid"`
	ID       string         `json:"_id"`
	Revision string         `json:"_revision"`
	Op       string         `json:"_op"`
	Created  time.Time      `json:"_created"`
	Txn      string         `json:"_txn,omitempty"`
	Data     map[string]any `json:"data"`
}

type envelope[T any] struct {
	Data   []T         `json:"_data"`
	Errors []ErrorItem `json:"errors,omitempty"`
}
