// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Category groups tools for listing and presentation.
type Category string

const (
	CategorySecurity     Category = "Security"
	CategoryArchitecture Category = "Architecture"
	CategoryQuality      Category = "Quality"
	CategoryTeam         Category = "Team"
	CategoryQuery        Category = "Query"
	CategoryCustom       Category = "Custom"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategorySecurity, CategoryArchitecture, CategoryQuality,
	CategoryTeam, CategoryQuery, CategoryCustom,
}

// DynamicToolName names the descriptor that stands for generated queries.
const DynamicToolName = "text2cypher"

// Parameter declares one query parameter of a parameterized tool.
type Parameter struct {
	Name        string `json:"name" yaml:"name" validate:"required,max=64"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ToolDescriptor describes one analysis tool.
//
// Built-in descriptors are immutable. Custom descriptors are owned by the
// caller that created them.
type ToolDescriptor struct {
	Name            string      `json:"name" yaml:"name" validate:"required,max=128,trimmed"`
	Description     string      `json:"description" yaml:"description" validate:"required,max=4000"`
	Category        Category    `json:"category" yaml:"category" validate:"oneof=Security Architecture Quality Team Query Custom"`
	Query           string      `json:"query" yaml:"query" validate:"required_unless=Dynamic true,max=20000"`
	IsParameterized bool        `json:"is_parameterized" yaml:"is_parameterized"`
	Parameters      []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"dive"`
	Keywords        []string    `json:"keywords,omitempty" yaml:"keywords,omitempty" validate:"dive,required,max=64"`
	BuiltIn         bool        `json:"built_in" yaml:"-"`
	Dynamic         bool        `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	CreatedAt       time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time   `json:"updated_at" yaml:"-"`
}

// ToolUpdate carries the fields to change. Nil fields are left as they are.
type ToolUpdate struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Category    *Category    `json:"category,omitempty"`
	Query       *string      `json:"query,omitempty"`
	Parameters  *[]Parameter `json:"parameters,omitempty"`
	Keywords    *[]string    `json:"keywords,omitempty"`
}

// Clone returns a deep copy so callers cannot alias catalog state.
func (d ToolDescriptor) Clone() ToolDescriptor {
	d.Parameters = slices.Clone(d.Parameters)
	d.Keywords = slices.Clone(d.Keywords)
	return d
}

// ParameterNames returns the declared parameter names in order.
func (d ToolDescriptor) ParameterNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		names = append(names, p.Name)
	}
	return names
}

// ValidationError reports descriptor fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid tool descriptor: " + strings.Join(e.Fields, "; ")
}

// Unwrap lets errors.Is(err, ErrInvalid) match.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// normalize fills defaults in place: trims the description and query,
// defaults the category and derives IsParameterized from the declared
// parameters. The name is the lookup key and is kept verbatim; surrounding
// whitespace in it fails validation instead.
func normalize(d *ToolDescriptor) {
	d.Description = strings.TrimSpace(d.Description)
	d.Query = strings.TrimSpace(d.Query)
	if d.Category == "" {
		d.Category = CategoryCustom
	}
	if len(d.Parameters) > 0 {
		d.IsParameterized = true
	}
	kws := d.Keywords[:0]
	for _, k := range d.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kws = append(kws, k)
		}
	}
	d.Keywords = kws
}

// descriptorValidator wraps a go-playground validator for descriptors.
type descriptorValidator struct {
	validate *validator.Validate
}

func newDescriptorValidator() *descriptorValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// "trimmed" rejects leading or trailing whitespace.
	_ = v.RegisterValidation("trimmed", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == strings.TrimSpace(s)
	})
	return &descriptorValidator{validate: v}
}

// check validates d after normalize has run.
func (v *descriptorValidator) check(d ToolDescriptor) error {
	err := v.validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate descriptor: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return &ValidationError{Fields: fields}
}
