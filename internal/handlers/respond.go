package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// e164 accepts 7 to 15 digits.
var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// normalizePhone trims and prefixes "+" and reports whether the result is
// an E.164 number.
func normalizePhone(phone string) (string, bool) {
	phone = strings.TrimSpace(phone)
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone, e164.MatchString(phone)
}
