package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"
)

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

// ErrBreached is returned when a password appears in the HIBP corpus.
var ErrBreached = errors.New("password appears in a known data breach")

// ValidateMasterPassword applies the master password composition rules.
func ValidateMasterPassword(pw string) error {
	if len(pw) < 12 {
		return errors.New("password must be at least 12 characters long")
	}
	if !hasUpper(pw) {
		return errors.New("password must include an uppercase letter")
	}
	if !hasDigit(pw) {
		return errors.New("password must include a digit")
	}
	if !hasSpecial(pw) {
		return errors.New("password must include a special character")
	}
	return nil
}

// ValidateOptions tunes ValidateMasterPasswordAdvanced.
type ValidateOptions struct {
	// MinZXCVBNScore is the lowest acceptable zxcvbn score, 0-4.
	MinZXCVBNScore int
	// UserInputs are penalised by zxcvbn (usernames, vault name).
	UserInputs []string
	// EnableHIBP queries Breaches; a lookup failure is returned as an error.
	EnableHIBP bool
	Breaches   *HIBPClient
}

// DefaultValidateOptions returns the registration defaults: score 3 and the
// public range API, with the breach lookup switched off.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{MinZXCVBNScore: 3, Breaches: NewHIBPClient("")}
}

// Strength returns the zxcvbn score (0-4) of pw.
func Strength(pw string, userInputs []string) int {
	return zxcvbn.PasswordStrength(pw, userInputs).Score
}

// ValidateMasterPasswordAdvanced runs the composition rules, the zxcvbn
// strength estimate and, when enabled, the HIBP breach lookup.
func ValidateMasterPasswordAdvanced(ctx context.Context, pw string, opts ValidateOptions) error {
	if err := ValidateMasterPassword(pw); err != nil {
		return err
	}

	if score := Strength(pw, opts.UserInputs); score < opts.MinZXCVBNScore {
		return fmt.Errorf("password is too guessable (strength %d/4, need %d)", score, opts.MinZXCVBNScore)
	}

	if !opts.EnableHIBP {
		return nil
	}
	client := opts.Breaches
	if client == nil {
		client = NewHIBPClient("")
	}
	res, err := client.Check(ctx, pw)
	if err != nil {
		return fmt.Errorf("breach check: %w", err)
	}
	if res.Found {
		return fmt.Errorf("%w (seen %d times)", ErrBreached, res.Count)
	}
	return nil
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
