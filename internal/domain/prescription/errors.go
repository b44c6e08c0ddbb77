package prescription

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidToken     = errors.New("invalid prescription token")
	ErrNotFound         = errors.New("prescription not found")
	ErrAmbiguous        = errors.New("prescription token matches more than one record")
	ErrExpired          = errors.New("prescription has expired")
	ErrExhaustedUsage   = errors.New("prescription usage limit reached")
	ErrUnsigned         = errors.New("prescription is not signed")
	ErrStoreUnavailable = errors.New("prescription store unavailable")

	ErrInvalidPrescription = errors.New("invalid prescription")
	ErrAlreadySigned       = errors.New("prescription is already signed")
	ErrForbidden           = errors.New("not allowed to access this prescription")

	// ErrRedeemConflict is returned by Repository.Redeem when the conditional
	// update matched no row. The caller re-reads to find out why.
	ErrRedeemConflict = errors.New("redemption precondition failed")
)

// Failure describes how an error is reported to API callers. Messages never
// mention the patient.
type Failure struct {
	Status    int    `json:"-"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

var failures = []struct {
	err error
	f   Failure
}{
	{ErrInvalidToken, Failure{http.StatusBadRequest, "invalid_token", "The scanned code is not a prescription token.", false}},
	{ErrNotFound, Failure{http.StatusNotFound, "not_found", "No prescription matches this code.", false}},
	{ErrAmbiguous, Failure{http.StatusNotFound, "ambiguous", "This code cannot be resolved to a single prescription. Ask the prescriber to reissue it.", false}},
	{ErrExpired, Failure{http.StatusGone, "expired", "This prescription has expired.", false}},
	{ErrExhaustedUsage, Failure{http.StatusConflict, "exhausted_usage", "This prescription has already been used the maximum number of times.", false}},
	{ErrUnsigned, Failure{http.StatusUnprocessableEntity, "unsigned", "This prescription has not been signed by the prescriber.", false}},
	{ErrStoreUnavailable, Failure{http.StatusServiceUnavailable, "store_unavailable", "Prescription records are temporarily unavailable. Try again shortly.", true}},
	{ErrAlreadySigned, Failure{http.StatusConflict, "already_signed", "This prescription is already signed.", false}},
	{ErrForbidden, Failure{http.StatusForbidden, "forbidden", "You are not allowed to access this prescription.", false}},
	{ErrInvalidPrescription, Failure{http.StatusBadRequest, "invalid_prescription", "", false}},
}

// Classify maps err to its Failure. Unknown errors map to a 500.
func Classify(err error) Failure {
	for _, m := range failures {
		if errors.Is(err, m.err) {
			f := m.f
			if f.Message == "" {
				f.Message = err.Error()
			}
			return f
		}
	}
	return Failure{Status: http.StatusInternalServerError, Reason: "internal", Message: "internal error"}
}

// Reason returns the stable reason code for err, or "ok" for nil.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	return Classify(err).Reason
}
