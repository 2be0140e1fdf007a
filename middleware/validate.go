package middleware

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/supergidii/Loans/utils"
)

var ErrBadRequestBody = errors.New("bad request body")

// ValidateJSON decodes a JSON payload into dst and runs utils.ValidateStruct.
// On failure the response has already been written.
func ValidateJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		utils.WriteJSON(w, http.StatusUnsupportedMediaType, utils.APIResponse{Success: false, Message: "Content-Type must be application/json"})
		return ErrBadRequestBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON body"})
		return errors.Join(ErrBadRequestBody, err)
	}
	if err := utils.ValidateStruct(dst); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Validation failed", Data: err.Error()})
		return errors.Join(ErrBadRequestBody, err)
	}
	return nil
}
