package config

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Schema describes the configuration file as a JSON Schema.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		FieldNameTag:   "yaml",
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "ema-voice configuration"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render schema: %w", err)
	}
	return data, nil
}

// WriteYAML renders the configuration as YAML with durations in their string
// form, so the output can be loaded back.
func (c *Config) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(yamlValue(reflect.ValueOf(*c))); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	return encoder.Close()
}

var durationType = reflect.TypeOf(time.Duration(0))

// yamlValue rebuilds v as ordered nodes, writing durations as strings.
func yamlValue(v reflect.Value) any {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}

	switch v.Kind() {
	case reflect.Struct:
		node := &yaml.Node{Kind: yaml.MappingNode}
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			name, opts, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "-" || !field.IsExported() {
				continue
			}
			if opts == "omitempty" && v.Field(i).IsZero() {
				continue
			}
			var value yaml.Node
			if err := value.Encode(yamlValue(v.Field(i))); err != nil {
				continue
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: name},
				&value)
		}
		return node
	case reflect.Slice:
		if v.Type().Elem() != durationType {
			return v.Interface()
		}
		values := make([]string, v.Len())
		for i := range values {
			values[i] = time.Duration(v.Index(i).Int()).String()
		}
		return values
	default:
		return v.Interface()
	}
}
