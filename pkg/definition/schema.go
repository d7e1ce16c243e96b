package definition

import "github.com/invopop/jsonschema"

// GenerateSchema returns the JSON schema of the frontmatter metadata, for
// editor validation of corpus documents.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(Metadata{})
}
