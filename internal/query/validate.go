package query

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"agencydb/internal/domain"
	"agencydb/internal/schema"
)

// ValidateUnique checks that a unique-where holds exactly one declared unique
// field with a non-null value.
func ValidateUnique(ent *schema.Entity, u Unique) error {
	if len(u) != 1 {
		return &domain.ValidationError{Message: fmt.Sprintf("unique lookup on %s must name exactly one unique field", ent.Name)}
	}
	for field, value := range u {
		f := ent.Field(field)
		if f == nil || !f.Unique {
			return &domain.ValidationError{Message: fmt.Sprintf("%q is not a unique field of %s", field, ent.Name)}
		}
		if value == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unique lookup on %s.%s requires a value", ent.Name, field)}
		}
	}
	return nil
}

// ValidateFindMany checks structural constraints on a list query before
// execution: orderBy and distinct must reference known fields, and the
// cursor, if present, must be a valid unique-where.
func ValidateFindMany(ent *schema.Entity, p FindManyParams) error {
	if err := validateOrderFields(ent, p.OrderBy); err != nil {
		return err
	}
	for _, field := range p.Distinct {
		if ent.Field(field) == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unknown distinct field %q on %s", field, ent.Name)}
		}
	}
	if p.Cursor != nil {
		if err := ValidateUnique(ent, p.Cursor); err != nil {
			return err
		}
	}
	if p.Skip < 0 {
		return &domain.ValidationError{Message: "skip must not be negative"}
	}
	return nil
}

// ValidateAggregate checks that aggregate selections reference known fields
// and that avg/sum target numeric fields.
func ValidateAggregate(ent *schema.Entity, p AggregateParams) error {
	for _, field := range append(append([]string{}, p.Min...), p.Max...) {
		if ent.Field(field) == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unknown aggregate field %q on %s", field, ent.Name)}
		}
	}
	return validateNumericFields(ent, append(append([]string{}, p.Avg...), p.Sum...))
}

// ValidateGroupBy enforces the groupBy caller contract: by must be non-empty
// and name known fields, and every orderBy field and plain having field must
// be a member of by. Violations are reported before execution.
func ValidateGroupBy(ent *schema.Entity, p GroupByParams) error {
	if err := validation.Validate(p.By, validation.Required.Error("groupBy requires at least one by field")); err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}

	byset := make(map[string]bool, len(p.By))
	for _, field := range p.By {
		if ent.Field(field) == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unknown by field %q on %s", field, ent.Name)}
		}
		byset[field] = true
	}

	for _, o := range p.OrderBy {
		if !byset[o.Field] {
			return &domain.ValidationError{Message: fmt.Sprintf("orderBy field %q must appear in by", o.Field)}
		}
	}

	if p.Having != nil {
		for field := range p.Having.Fields {
			if !byset[field] {
				return &domain.ValidationError{Message: fmt.Sprintf("having field %q must appear in by", field)}
			}
		}
		for op, conds := range p.Having.Agg {
			for field := range conds {
				if op == "_count" {
					continue
				}
				if ent.Field(field) == nil {
					return &domain.ValidationError{Message: fmt.Sprintf("unknown having aggregate field %q on %s", field, ent.Name)}
				}
			}
		}
	}

	if err := validateNumericFields(ent, append(append([]string{}, p.Avg...), p.Sum...)); err != nil {
		return err
	}
	for _, field := range append(append([]string{}, p.Min...), p.Max...) {
		if ent.Field(field) == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unknown aggregate field %q on %s", field, ent.Name)}
		}
	}
	return nil
}

func validateOrderFields(ent *schema.Entity, orderBy []Order) error {
	for _, o := range orderBy {
		if ent.Field(o.Field) == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unknown orderBy field %q on %s", o.Field, ent.Name)}
		}
	}
	return nil
}

func validateNumericFields(ent *schema.Entity, fields []string) error {
	for _, field := range fields {
		f := ent.Field(field)
		if f == nil {
			return &domain.ValidationError{Message: fmt.Sprintf("unknown aggregate field %q on %s", field, ent.Name)}
		}
		if f.Kind != schema.KindInt && f.Kind != schema.KindFloat {
			return &domain.ValidationError{Message: fmt.Sprintf("field %q is not numeric", field)}
		}
	}
	return nil
}
