package tools

import "github.com/invopop/jsonschema"

// GenerateSchema reflects T into an inline JSON Schema suitable for a
// function tool declaration.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""
	return schema
}
