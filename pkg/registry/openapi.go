package registry

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/junctionhq/junction/pkg/types"
)

// extractableMethods is the subset of HTTP methods surfaced as endpoints
// from an OpenAPI document.
var extractableMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// ExtractEndpoints parses an OpenAPI document and returns the
// path x method cross-product, restricted to the extractable methods.
func ExtractEndpoints(spec []byte) ([]types.Endpoint, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, types.WrapError(types.KindRegistrationFailed, err, "failed to parse OpenAPI document")
	}

	var endpoints []types.Endpoint
	if doc.Paths == nil {
		return endpoints, nil
	}
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			if !extractableMethods[method] {
				continue
			}
			endpoints = append(endpoints, types.Endpoint{Method: method, Path: path})
		}
	}
	return endpoints, nil
}
