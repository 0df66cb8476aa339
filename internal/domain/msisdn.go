package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var msisdnPattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

// NormalizeMSISDN converts local (07.., 01..), international (+254..) and
// bare (254..) forms of a mobile number to the 254XXXXXXXXX form the gateway
// expects.
func NormalizeMSISDN(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if !msisdnPattern.MatchString(p) {
		return "", fmt.Errorf("%w: %q is not a valid mobile number", ErrValidation, phone)
	}
	return p, nil
}
