package validation

import (
	"testing"

	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

type cardForm struct {
	Token    string `json:"token" validate:"required"`
	ExpMonth int    `json:"exp_month" validate:"min=1,max=12"`
	Lines    []line `json:"lines" validate:"dive"`
}

type line struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

func TestStructReportsFieldMessages(t *testing.T) {
	err := Struct(cardForm{ExpMonth: 13, Lines: []line{{Quantity: 0}}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["cardForm.token"] != "is required" {
		t.Fatalf("missing token message: %v", details)
	}
	if details["cardForm.exp_month"] != "must be at most 12" {
		t.Fatalf("missing exp_month message: %v", details)
	}
	if details["cardForm.lines[0].quantity"] != "must be greater than 0" {
		t.Fatalf("missing nested message: %v", details)
	}
}

func TestStructPasses(t *testing.T) {
	if err := Struct(cardForm{Token: "cnon:ok", ExpMonth: 4}); err != nil {
		t.Fatalf("expected valid form, got %v", err)
	}
}
