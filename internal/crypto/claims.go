package crypto

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

// TokenExpiry reads the exp claim from a JWT without verifying its
// signature. Tokens arrive over an authenticated channel; their claims are
// consumed for expiry bookkeeping only, so no local verification happens.
// A token that is not three dot-separated segments is rejected as malformed.
func TokenExpiry(raw string) (time.Time, error) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, fmt.Errorf("token does not have three segments: %w", errs.ErrMalformedToken)
	}

	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing token claims: %v: %w", err, errs.ErrMalformedToken)
	}

	return tok.Expiration(), nil
}
