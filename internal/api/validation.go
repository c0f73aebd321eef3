package api

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"search-authorizer/internal/common"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. Field names in errors are the
// JSON keys of the request.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)
	})
	return validate
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// RequestError is a 400 response body.
type RequestError struct {
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`

	label string
}

func (e *RequestError) Error() string { return e.Message }

// Label names the failure for metrics. It is drawn from a fixed set so that
// client-supplied keys never become label values.
func (e *RequestError) Label() string {
	switch {
	case e.label != "":
		return e.label
	case e.Field == "":
		return "body"
	}
	return e.Field
}

func newRequestError(field, format string, args ...any) *RequestError {
	return &RequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// checkColumns requires raw to hold exactly the keys in want.
func checkColumns(raw map[string]json.RawMessage, want []string) *RequestError {
	allowed := make(map[string]struct{}, len(want))
	var missing []string
	for _, k := range want {
		allowed[k] = struct{}{}
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return newRequestError(missing[0], "missing columns: %s", quoteAll(missing))
	}

	var extra []string
	for k := range raw {
		if _, ok := allowed[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		reqErr := newRequestError(extra[0], "unrecognized columns provided: %s", quoteAll(extra))
		reqErr.label = "unrecognized"
		return reqErr
	}
	return nil
}

// decodeStrict checks the columns of data and decodes it into dst.
func decodeStrict(data []byte, columns []string, dst any) *RequestError {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return newRequestError("", "request body must be a JSON object")
	}
	if reqErr := checkColumns(raw, columns); reqErr != nil {
		return reqErr
	}

	if reqErr := decodeColumns(raw, dst); reqErr != nil {
		return reqErr
	}

	return validateStruct(dst)
}

// decodeColumns decodes each column of raw into the field of dst tagged with
// its name. Only pointer fields accept null.
func decodeColumns(raw map[string]json.RawMessage, dst any) *RequestError {
	rv := reflect.ValueOf(dst).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		name := jsonName(sf)
		msg, ok := raw[name]
		if name == "" || !ok {
			continue
		}

		fv := rv.Field(i)
		if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			if sf.Type.Kind() != reflect.Pointer {
				return newRequestError(name, "invalid value provided for %q: null", name)
			}
			fv.SetZero()
			continue
		}
		if err := json.Unmarshal(msg, fv.Addr().Interface()); err != nil {
			return newRequestError(name, "invalid value provided for %q: expected %s", name, jsonKind(sf.Type))
		}
	}
	return nil
}

func jsonKind(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "number"
	case reflect.String:
		return "string"
	}
	return t.String()
}

// validateStruct runs the struct tags of v and reports the first failure.
func validateStruct(v any) *RequestError {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return newRequestError("", "validation failed: %v", err)
	}

	fe := fieldErrs[0]
	field := fe.Field()
	value := fe.Value()
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		value = rv.Elem().Interface()
	}

	switch fe.Tag() {
	case "required":
		return newRequestError(field, "must supply %s", field)
	case "oneof":
		return newRequestError(field, "invalid value provided for %q: %v. Allowed values are: %s", field, value, allowedValues(field))
	case "gte", "lt":
		return newRequestError(field, "invalid value provided for %q: %v. Needs to be in %s or null", field, value, coordinateRange(field))
	}
	return newRequestError(field, "invalid value provided for %q: %v", field, value)
}

func allowedValues(field string) string {
	switch field {
	case "Type":
		return quoteAll(common.SearchTypes)
	case "Gender":
		return quoteAll(common.Genders)
	case "Age range":
		return quoteAll(common.AgeRanges)
	case "Officer-defined ethnicity":
		return quoteAll(common.Ethnicities)
	}
	return "[]"
}

func coordinateRange(field string) string {
	if field == "Longitude" {
		return fmt.Sprintf("[%g, %g)", common.MinLongitude, common.MaxLongitude)
	}
	return fmt.Sprintf("[%g, %g)", common.MinLatitude, common.MaxLatitude)
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
