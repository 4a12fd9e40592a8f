package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"USD", true},
		{"EUR", true},
		{"GBP", true},

		// Invalid cases
		{"usd", false},
		{"US", false},
		{"USDT", false},
		{"U$D", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidCurrency(tc.code)
		if result != tc.valid {
			t.Errorf("IsValidCurrency(%q) = %v, want %v", tc.code, result, tc.valid)
		}
	}
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"txn-12345", true},
		{"user_1", true},
		{"device:abc.DEF", true},

		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{string(make([]byte, 129)), false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"with\x00null", 20, "withnull"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("transactionId", ""),
		Required("userId", "user-1"),
		ValidCurrency("currency", "usd"),
		PositiveAmount("amount", decimal.Zero),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "transactionId" {
		t.Errorf("first error field = %q, want transactionId", errs[0].Field)
	}
}

func TestValidateAllPass(t *testing.T) {
	errs := Validate(
		Required("userId", "user-1"),
		ValidID("userId", "user-1"),
		ValidCurrency("currency", "USD"),
		PositiveAmount("amount", decimal.RequireFromString("10.50")),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidationErrorsError(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "validation failed" {
		t.Errorf("empty error = %q", empty.Error())
	}
	errs := ValidationErrors{{Field: "amount", Message: "must be greater than zero"}}
	if errs.Error() != "amount: must be greater than zero" {
		t.Errorf("error = %q", errs.Error())
	}
}
