package core

import (
	"errors"
	"testing"

	"reportly/internal/types"
)

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator()

	dst := struct {
		Subject string `validate:"required,min=4,max=120"`
		Body    string `validate:"required,min=1"`
	}{
		Subject: "Cannot download report",
		Body:    "The PDF link 404s.",
	}

	if err := v.ValidateStruct(dst); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStruct_MissingRequiredField(t *testing.T) {
	v := NewValidator()

	dst := struct {
		Subject string `validate:"required"`
	}{}

	err := v.ValidateStruct(dst)
	if err == nil {
		t.Fatal("expected error for missing field, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected code %s, got %s", types.ErrCodeValidationMissingField, appErr.Code)
	}
	if appErr.Details["subject"] != "required" {
		t.Errorf("expected details.subject=required, got %v", appErr.Details)
	}
}

func TestValidateStruct_InvalidField(t *testing.T) {
	v := NewValidator()

	dst := struct {
		Type string `validate:"required,oneof=written video"`
	}{
		Type: "podcast",
	}

	err := v.ValidateStruct(dst)
	if err == nil {
		t.Fatal("expected error for invalid field, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidField {
		t.Errorf("expected code %s, got %s", types.ErrCodeValidationInvalidField, appErr.Code)
	}
	if appErr.Details["type"] != "oneof" {
		t.Errorf("expected details.type=oneof, got %v", appErr.Details)
	}
}

func TestValidateStruct_MissingFieldTakesPrecedence(t *testing.T) {
	v := NewValidator()

	// One missing field plus one out-of-range field: the missing-field code
	// wins so clients see the most actionable problem first.
	dst := struct {
		Subject string `validate:"required"`
		Amount  int    `validate:"min=1,max=100"`
	}{
		Amount: 500,
	}

	err := v.ValidateStruct(dst)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected code %s, got %s", types.ErrCodeValidationMissingField, appErr.Code)
	}
	if len(appErr.Details) != 2 {
		t.Errorf("expected both violations listed, got %v", appErr.Details)
	}
}

func TestValidateStruct_NonStructTarget(t *testing.T) {
	v := NewValidator()

	err := v.ValidateStruct("not a struct")
	if err == nil {
		t.Fatal("expected error for non-struct target, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, appErr.Code)
	}
}
