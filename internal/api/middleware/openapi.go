// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// ValidationErrorFunc renders a rejected request.
type ValidationErrorFunc func(w http.ResponseWriter, r *http.Request, field, msg string)

// OpenAPIValidator checks requests against doc before they reach a
// handler. Requests for paths the document does not describe pass through
// so chi can answer them.
func OpenAPIValidator(doc *openapi3.T, onError ValidationErrorFunc) (func(http.Handler) http.Handler, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi router: %w", err)
	}
	opts := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, params, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			in := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: params,
				Route:      route,
				Options:    opts,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), in); err != nil {
				field, msg := describe(err)
				onError(w, r, field, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// describe reduces a kin-openapi error to a field and a short message
// without echoing the schema.
func describe(err error) (field, msg string) {
	var re *openapi3filter.RequestError
	if !errors.As(err, &re) {
		if errors.Is(err, routers.ErrPathNotFound) {
			return "", "unknown path"
		}
		return "", "request does not match the API contract"
	}
	if re.Parameter != nil {
		field = re.Parameter.Name
	}
	var se *openapi3.SchemaError
	if errors.As(re.Err, &se) {
		if p := se.JSONPointer(); len(p) > 0 {
			field = strings.Join(p, ".")
		}
		return field, se.Reason
	}
	if re.Reason != "" {
		return field, re.Reason
	}
	if re.RequestBody != nil {
		return "body", "invalid request body"
	}
	return field, "invalid request"
}
