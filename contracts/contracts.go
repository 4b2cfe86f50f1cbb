// Package contracts embeds the OpenAPI documents served and enforced by the API.
package contracts

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed asset-tags.yaml
var assetTagsYAML []byte

var documents = map[string][]byte{
	"asset-tags": assetTagsYAML,
}

// Names lists the embedded documents in a stable order.
func Names() []string {
	names := make([]string, 0, len(documents))
	for name := range documents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load parses and validates the named document. Each call returns a fresh copy because the
// request validator mutates the document while building its router.
func Load(name string) (*openapi3.T, error) {
	raw, ok := documents[name]
	if !ok {
		return nil, fmt.Errorf("unknown contract %q", name)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("load contract %q: %w", name, err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate contract %q: %w", name, err)
	}
	return doc, nil
}
