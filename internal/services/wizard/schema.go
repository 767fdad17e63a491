package wizard

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bbernstein/hyperion-link-go/internal/services/lights"
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
	"github.com/bbernstein/hyperion-link-go/pkg/hyperion"
)

// Form field types.
const (
	FieldString = "string"
	FieldInt    = "int"
	FieldLights = "lights"
)

// DefaultHost is the suggested server address on the connection step.
const DefaultHost = "192.168.1.50"

// Field describes one input of a step form.
type Field struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
	Options     []Option    `json:"options,omitempty"`
}

// Option is one selectable value of a lights field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Input holds the answers submitted for a step, keyed by field name.
type Input map[string]interface{}

func connectionSchema(defaults Input) []Field {
	host := interface{}(DefaultHost)
	port := interface{}(hyperion.DefaultPort)
	var accessKey interface{}
	if defaults != nil {
		if v, ok := defaults["host"]; ok {
			host = v
		}
		if v, ok := defaults["port"]; ok {
			port = v
		}
		if v, ok := defaults["access_key"]; ok {
			accessKey = v
		}
	}
	return []Field{
		{Name: "host", Type: FieldString, Required: true, Default: host, Description: "ip of hyperion server"},
		{Name: "port", Type: FieldInt, Required: true, Default: port, Description: "port of the hyperion web interface"},
		{Name: "access_key", Type: FieldString, Default: accessKey, Description: "optional authentication key (not implemented)"},
	}
}

func zonesSchema(available []lights.Light, defaults zone.Assignment) []Field {
	options := make([]Option, len(available))
	for i, l := range available {
		options[i] = Option{Value: l.ID, Label: l.Name}
	}
	fields := make([]Field, 0, len(zone.All))
	for _, id := range zone.All {
		f := Field{
			Name:        string(id),
			Type:        FieldLights,
			Description: fmt.Sprintf("lights %s of hyperion display", zoneSide(id)),
			Options:     options,
		}
		if len(defaults[id]) > 0 {
			f.Default = defaults[id]
		}
		fields = append(fields, f)
	}
	return fields
}

func zoneSide(id zone.ID) string {
	if id == zone.Top {
		return "on top"
	}
	if id == zone.Bottom {
		return "below"
	}
	return "to the " + string(id)
}

func weightsSchema(defaults zone.Weights) []Field {
	fields := make([]Field, 0, len(zone.All))
	for _, id := range zone.All {
		def := 1
		if v, ok := defaults[id]; ok {
			def = v
		}
		fields = append(fields, Field{Name: string(id), Type: FieldInt, Required: true, Default: def})
	}
	return fields
}

// asString reads a string answer. Missing or null values return "".
func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(s), true
	}
	return "", false
}

// asInt reads an integer answer from JSON numbers, Go ints or numeric strings.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsNaN(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// asDevices reads a lights answer: a single device ID or a list of them.
func asDevices(v interface{}) ([]string, bool) {
	switch d := v.(type) {
	case nil:
		return nil, true
	case string:
		if d == "" {
			return nil, true
		}
		return []string{d}, true
	case []string:
		return d, true
	case []interface{}:
		out := make([]string, 0, len(d))
		for _, item := range d {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
