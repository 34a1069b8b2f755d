package types

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	Locations          Kind = "Locations"
	Things             Kind = "Things"
	Sensors            Kind = "Sensors"
	ObservedProperties Kind = "ObservedProperties"
	Datastreams        Kind = "Datastreams"
	Observations       Kind = "Observations"
)

func (k Kind) String() string {
	return string(k)
}

// Path returns the path of a single entity of this kind, e.g. Things(42)
func (k Kind) Path(id int64) string {
	return fmt.Sprintf("%s(%d)", k, id)
}

type Entity interface {
	Kind() Kind
	EntityName() string

	ID() (int64, bool)
	SetID(id int64) error

	// Payload returns the value that is validated and sent as the request body
	Payload() any
	// Scope returns the collection in which the entity name is unique, or an
	// empty string if names are unique within the whole kind
	Scope() string
}

// Record is a single decoded entity as returned by the service
type Record map[string]any

func (r Record) ID() (int64, bool) {
	switch v := r["@iot.id"].(type) {
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		var id int64
		_, err := fmt.Sscanf(v, "%d", &id)
		return id, err == nil
	}

	return 0, false
}

func (r Record) Name() string {
	name, _ := r["name"].(string)
	return name
}

func (r Record) SelfLink() string {
	link, _ := r["@iot.selfLink"].(string)
	return link
}
