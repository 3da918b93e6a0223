package core

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "simple", key: "doc-1_A"},
		{name: "longest", key: strings.Repeat("k", MaxKeyLength)},
		{name: "empty", key: "", wantErr: ErrInvalidDocumentKey},
		{name: "too long", key: strings.Repeat("k", MaxKeyLength+1), wantErr: ErrInvalidDocumentKey},
		{name: "space", key: "a b", wantErr: ErrInvalidDocumentKey},
		{name: "non ascii", key: "café", wantErr: ErrInvalidDocumentKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateKey() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrValidation) {
				t.Errorf("ValidateKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	fields := map[string]Value{"title": String("shoes"), "price": Number(10)}

	tests := []struct {
		name      string
		doc       *Document
		maxFields int
		wantErr   error
	}{
		{
			name: "valid document",
			doc:  &Document{Key: "a", Fields: fields},
		},
		{
			name: "valid document with vector",
			doc:  &Document{Key: "a", Fields: fields, Vector: []float32{0.1, -0.2}},
		},
		{
			name:      "field limit disabled",
			doc:       &Document{Key: "a", Fields: fields},
			maxFields: 0,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrValidation,
		},
		{
			name:    "invalid key",
			doc:     &Document{Key: "", Fields: fields},
			wantErr: ErrInvalidDocumentKey,
		},
		{
			name:      "too many fields",
			doc:       &Document{Key: "a", Fields: fields},
			maxFields: 1,
			wantErr:   ErrTooManyFields,
		},
		{
			name:    "NaN in vector",
			doc:     &Document{Key: "a", Vector: []float32{1, float32(math.NaN())}},
			wantErr: ErrInvalidVector,
		},
		{
			name:    "infinity in vector",
			doc:     &Document{Key: "a", Vector: []float32{float32(math.Inf(1))}},
			wantErr: ErrInvalidVector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc, tt.maxFields)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
