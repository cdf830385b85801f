package util

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// MaxBodyBytes caps request bodies read by DecodeJson.
const MaxBodyBytes = 1 << 20

func JsonWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func JsonError(w http.ResponseWriter, status int, msg string) {
	_ = JsonWrite(w, status, ErrorResponse{Error: msg})
}

// DecodeJson reads one JSON value from r and rejects unknown fields.
func DecodeJson(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r, MaxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func GenUUID() string {
	x, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return x.String()
}
