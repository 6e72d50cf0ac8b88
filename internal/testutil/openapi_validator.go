// Package testutil provides HTTP clients, containers and API contract
// checks for tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// OpenAPIValidator checks responses against the API document.
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
}

var (
	validatorsMu sync.Mutex
	validators   = map[string]*OpenAPIValidator{}
)

// NewOpenAPIValidator returns the validator for specPath, failing the test
// when the document cannot be loaded.
func NewOpenAPIValidator(t *testing.T, specPath string) *OpenAPIValidator {
	t.Helper()

	v, err := LoadOpenAPIValidator(specPath)
	if err != nil {
		t.Fatalf("load OpenAPI validator: %v", err)
	}
	return v
}

// LoadOpenAPIValidator loads and checks the document at specPath. Documents
// are parsed once per path and shared by all callers.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()

	if v, ok := validators[specPath]; ok {
		return v, nil
	}

	doc, err := openapi3.NewLoader().LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build OpenAPI router: %w", err)
	}

	v := &OpenAPIValidator{doc: doc, router: router}
	validators[specPath] = v
	return v, nil
}

// ValidateResponse reports a test error when resp does not match the
// documented response of req's operation. The response body is restored
// for the caller.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	// The router matches on the path relative to the server root.
	routeReq, err := http.NewRequest(req.Method, req.URL.Path, nil)
	if err != nil {
		t.Errorf("OpenAPI: build route request: %v", err)
		return
	}
	route, pathParams, err := v.router.FindRoute(routeReq)
	if err != nil {
		t.Errorf("OpenAPI: %s %s is not documented: %v", req.Method, req.URL.Path, err)
		return
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		t.Errorf("OpenAPI: read response body: %v", err)
		return
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	}

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("OpenAPI: %s %s returned an undocumented %d response:\n%s\nbody: %s",
			req.Method, req.URL.Path, resp.StatusCode, clip(err.Error(), 500), clip(strings.TrimSpace(string(body)), 200))
	}
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
