package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	apperrors "perpsim/pkg/errors"
)

// Binance futures API error codes, the subset trading bots check for.
const (
	codeMissingParam    = -1102
	codeInvalidValue    = -1013
	codeUnsupportedType = -1116
	codeUnknownOrder    = -2011
	codeInternal        = -1000
)

type wireError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, http.StatusBadRequest, wireError{Code: code, Msg: msg})
}

// missingParam emits the canonical -1102 message for a field name.
func missingParam(w http.ResponseWriter, field string) {
	writeError(w, codeMissingParam,
		"Mandatory parameter '"+field+"' was not sent, was empty/null, or malformed.")
}

// writeEngineError translates engine sentinels into wire codes.
// Anything unclassified surfaces as -1000 with the error text so a
// failing bot still sees what went wrong.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrUnsupportedOrderType):
		writeError(w, codeUnsupportedType, "Unsupported order type")
	case errors.Is(err, apperrors.ErrInvalidParam):
		writeError(w, codeInvalidValue, err.Error())
	case errors.Is(err, apperrors.ErrUnknownOrder):
		writeError(w, codeUnknownOrder, "Unknown order sent.")
	default:
		writeError(w, codeInternal, err.Error())
	}
}

// f8 renders a price or quantity with the eight fractional digits the
// Binance REST surface uses everywhere.
func f8(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}
