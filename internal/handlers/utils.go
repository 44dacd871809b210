package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// maxJSONBodyBytes bounds chat and title request bodies.
const maxJSONBodyBytes = 8 << 20

var errEmptyBody = errors.New("request body is empty")

// decodeJSONBody decodes a bounded JSON request body into dst.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request payload: %w", err)
	}
	return nil
}
