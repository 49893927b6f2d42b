// internal/webhook/schema.go
package webhook

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/repository.json
var repositorySchemaJSON []byte

const repositorySchemaURL = "repository.json"

func compileRepositorySchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(repositorySchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode repository schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(repositorySchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add repository schema: %w", err)
	}
	return c.Compile(repositorySchemaURL)
}
