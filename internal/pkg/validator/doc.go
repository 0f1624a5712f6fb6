// Package validator validates request and event structs with go-playground/validator
// and reports failures as a snake_case field to message map.
package validator

// Validator checks a struct against its `validate` tags.
type Validator interface {
	Validate(data any) error
}
