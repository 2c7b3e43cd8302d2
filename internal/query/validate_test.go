package query

import (
	"errors"
	"testing"

	"agencydb/internal/domain"
	"agencydb/internal/schema"
)

func TestValidateUnique(t *testing.T) {
	ent, err := schema.Get("user")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		u       Unique
		wantErr bool
	}{
		{"id lookup", Unique{"id": "u1"}, false},
		{"declared unique field", Unique{"email": "a@b.c"}, false},
		{"non-unique field", Unique{"name": "Ann"}, true},
		{"two fields", Unique{"id": "u1", "email": "a@b.c"}, true},
		{"empty", Unique{}, true},
		{"null value", Unique{"email": nil}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUnique(ent, tt.u)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUnique(%v) err = %v, wantErr %v", tt.u, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error should be a validation error, got %v", err)
			}
		})
	}
}

func TestValidateFindMany(t *testing.T) {
	ent, err := schema.Get("task")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		p       FindManyParams
		wantErr bool
	}{
		{"plain", FindManyParams{}, false},
		{"known orderBy", FindManyParams{OrderBy: []Order{{Field: "deadline"}}}, false},
		{"unknown orderBy", FindManyParams{OrderBy: []Order{{Field: "nope"}}}, true},
		{"unknown distinct", FindManyParams{Distinct: []string{"nope"}}, true},
		{"cursor must be unique", FindManyParams{Cursor: Unique{"title": "x"}}, true},
		{"negative skip", FindManyParams{Skip: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFindMany(ent, tt.p)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGroupBy(t *testing.T) {
	ent, err := schema.Get("timesheet")
	if err != nil {
		t.Fatal(err)
	}

	having := func(raw map[string]*Cond) *Having {
		return &Having{Fields: raw}
	}

	tests := []struct {
		name    string
		p       GroupByParams
		wantErr bool
	}{
		{"by required", GroupByParams{}, true},
		{"simple by", GroupByParams{By: []string{"userId"}}, false},
		{"unknown by field", GroupByParams{By: []string{"nope"}}, true},
		{"orderBy outside by", GroupByParams{By: []string{"userId"}, OrderBy: []Order{{Field: "date"}}}, true},
		{"orderBy inside by", GroupByParams{By: []string{"userId", "date"}, OrderBy: []Order{{Field: "date"}}}, false},
		{
			"having field outside by",
			GroupByParams{By: []string{"userId"}, Having: having(map[string]*Cond{"date": {EqualsSet: true}})},
			true,
		},
		{
			"having field inside by",
			GroupByParams{By: []string{"userId"}, Having: having(map[string]*Cond{"userId": {EqualsSet: true}})},
			false,
		},
		{
			"aggregate having exempt from by",
			GroupByParams{By: []string{"userId"}, Having: &Having{
				Agg: map[string]map[string]*Cond{"_avg": {"hoursWorked": {Gt: float64(4)}}},
			}},
			false,
		},
		{"avg on non-numeric", GroupByParams{By: []string{"userId"}, Avg: []string{"description"}}, true},
		{"sum on numeric", GroupByParams{By: []string{"userId"}, Sum: []string{"hoursWorked"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGroupBy(ent, tt.p)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
