package uda

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type recordingRegistrar struct {
	calls [][]Field
	err   error
}

func (r *recordingRegistrar) RegisterUDAs(ctx context.Context, fields []Field) error {
	r.calls = append(r.calls, fields)
	return r.err
}

func TestBuild_SortedAndDeterministic(t *testing.T) {
	decls := []Declarer{
		List{{Key: "zeta", Type: TypeString, Label: "Z"}, {Key: "alpha", Type: TypeDate, Label: "A"}},
		List{{Key: "mid", Type: TypeNumeric, Label: "M"}},
	}

	first, err := Build(decls)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	second, err := Build(decls)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Build() not deterministic: %v vs %v", first, second)
	}

	keys := []string{first[0].Key, first[1].Key, first[2].Key}
	if !reflect.DeepEqual(keys, []string{"alpha", "mid", "zeta"}) {
		t.Errorf("keys = %v, want sorted", keys)
	}
}

func TestBuild_FoldsIdentical(t *testing.T) {
	f := Field{Key: "shared", Type: TypeString, Label: "Shared"}
	fields, err := Build([]Declarer{List{f}, List{f}})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if len(fields) != 1 {
		t.Errorf("expected 1 field, got %d", len(fields))
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		decls   []Declarer
		wantErr error
	}{
		{
			name: "conflicting types",
			decls: []Declarer{
				List{{Key: "x", Type: TypeString}},
				List{{Key: "x", Type: TypeDate}},
			},
			wantErr: ErrConflictingUDA,
		},
		{name: "invalid type", decls: []Declarer{List{{Key: "x", Type: "bool"}}}},
		{name: "empty key", decls: []Declarer{List{{Type: TypeString}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.decls)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnsure(t *testing.T) {
	r := &recordingRegistrar{}
	fields := []Field{{Key: "a", Type: TypeString, Label: "A"}}

	if err := Ensure(context.Background(), r, fields); err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	if err := Ensure(context.Background(), r, nil); err != nil {
		t.Fatalf("Ensure(nil) failed: %v", err)
	}
	if len(r.calls) != 1 {
		t.Errorf("expected 1 registration call, got %d", len(r.calls))
	}

	r.err = errors.New("boom")
	if err := Ensure(context.Background(), r, fields); err == nil {
		t.Error("expected registrar error to propagate")
	}
}

func TestStrings(t *testing.T) {
	got := Strings([]Field{{Key: "githuburl", Type: TypeString, Label: "Github URL"}})
	want := []string{"uda.githuburl.label=Github URL", "uda.githuburl.type=string"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Strings() = %v, want %v", got, want)
	}
}
