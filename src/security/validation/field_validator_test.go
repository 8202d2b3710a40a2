package validation

import (
	"errors"
	"testing"
)

func TestNormalizeCURP(t *testing.T) {
	got, err := NormalizeCURP(" gara-800101-mdfrrn09 ")
	if err != nil {
		t.Fatalf("NormalizeCURP: %v", err)
	}
	if got != "GARA800101MDFRRN09" {
		t.Errorf("got %q", got)
	}

	if _, err := NormalizeCURP("SHORT"); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("short CURP: err = %v, want ErrValidationFailed", err)
	}
}

func TestNormalizeCPF(t *testing.T) {
	got, err := NormalizeCPF("123.456.789-09")
	if err != nil {
		t.Fatalf("NormalizeCPF: %v", err)
	}
	if got != "12345678909" {
		t.Errorf("got %q", got)
	}
	if _, err := NormalizeCPF("123"); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("short CPF: err = %v, want ErrValidationFailed", err)
	}
}

func TestValidateCLABE(t *testing.T) {
	if err := ValidateCLABE("646180111812345678"); err != nil {
		t.Errorf("valid CLABE rejected: %v", err)
	}
	if err := ValidateCLABE("646-180-1118-1234-5678"); err != nil {
		t.Errorf("formatted CLABE rejected: %v", err)
	}
	if err := ValidateCLABE("12345"); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("short CLABE: err = %v, want ErrValidationFailed", err)
	}
}

func TestSanitizePhone(t *testing.T) {
	got, err := SanitizePhone("+52 (55) 1234-5678")
	if err != nil {
		t.Fatalf("SanitizePhone: %v", err)
	}
	if got != "525512345678" {
		t.Errorf("got %q", got)
	}
	if _, err := SanitizePhone("no digits here"); err == nil {
		t.Errorf("digitless phone accepted")
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("student@universidad.mx"); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}
	for _, bad := range []string{"", "plain", "missing@tld", "two@@signs.com"} {
		if err := ValidateEmail(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestValidateDate(t *testing.T) {
	if err := ValidateDate("1998-04-23", "date_of_birth"); err != nil {
		t.Errorf("valid date rejected: %v", err)
	}
	if err := ValidateDate("23/04/1998", "date_of_birth"); err == nil {
		t.Errorf("slash date accepted")
	}
}

func TestSanitizeFreeText(t *testing.T) {
	got := SanitizeFreeText("  <script>alert(1)</script>Tuition for <b>spring</b> term ")
	if got != "Tuition for spring term" {
		t.Errorf("got %q", got)
	}
}
