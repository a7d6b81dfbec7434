package compare

import (
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/pkg/repo"
)

// RecordLabel is the node label of stored comparisons.
const RecordLabel = "Comparison"

// NewNeo4jHistory stores comparisons as Comparison nodes. IDs continue from
// after, so pass something larger than any ID already stored, such as the
// current Unix time in milliseconds.
func NewNeo4jHistory(driver neo4j.DriverWithContext, after int64) *History {
	return NewHistoryIn(repo.NewNeo4jRepo[Record, int64](driver, RecordLabel, recordProps, recordFromNeo4j), after)
}

// recordProps flattens r into node properties. Vehicles become vehicle1_*
// and vehicle2_* keys.
func recordProps(r Record) map[string]any {
	props := map[string]any{
		"id":          r.ID,
		"variant":     r.Variant,
		"selected_at": r.SelectedAt,
	}
	for i, v := range r.Vehicles {
		p := fmt.Sprintf("vehicle%d_", i+1)
		props[p+"make"] = v.Make
		props[p+"type"] = v.Type
		props[p+"year"] = int64(v.Year)
		props[p+"model"] = v.Model
		props[p+"vin"] = v.VIN
	}
	return props
}

func recordFromNeo4j(rec *neo4j.Record) (Record, error) {
	v, ok := rec.Get("n")
	if !ok {
		return Record{}, fmt.Errorf("%w: record has no node", domain.ErrMalformedPayload)
	}
	var props map[string]any
	switch n := v.(type) {
	case neo4j.Node:
		props = n.Props
	case map[string]any:
		props = n
	default:
		return Record{}, fmt.Errorf("%w: unexpected %T", domain.ErrMalformedPayload, v)
	}

	p := propReader{props: props}
	r := Record{ID: p.num("id")}
	r.Variant = p.str("variant")
	r.SelectedAt = p.at("selected_at")
	for i := range r.Vehicles {
		k := fmt.Sprintf("vehicle%d_", i+1)
		r.Vehicles[i] = domain.Vehicle{
			Make:  p.str(k + "make"),
			Type:  p.str(k + "type"),
			Year:  int(p.num(k + "year")),
			Model: p.str(k + "model"),
			VIN:   p.str(k + "vin"),
		}
	}
	if p.err != nil {
		return Record{}, p.err
	}
	return r, nil
}

// propReader reads typed node properties and keeps the first type error.
// Missing properties read as zero values.
type propReader struct {
	props map[string]any
	err   error
}

func (p *propReader) str(key string) string {
	v, ok := p.props[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		p.fail(key, v)
	}
	return s
}

func (p *propReader) num(key string) int64 {
	v, ok := p.props[key]
	if !ok || v == nil {
		return 0
	}
	n, ok := v.(int64)
	if !ok {
		p.fail(key, v)
	}
	return n
}

func (p *propReader) at(key string) time.Time {
	v, ok := p.props[key]
	if !ok || v == nil {
		return time.Time{}
	}
	t, ok := v.(time.Time)
	if !ok {
		p.fail(key, v)
	}
	return t.UTC()
}

func (p *propReader) fail(key string, v any) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: property %s is %T", domain.ErrMalformedPayload, key, v)
	}
}
