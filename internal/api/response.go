package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/transfer"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		return model.PermissionLevel(fl.Field().Int()).Valid()
	})
	return v
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into target and validates it.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(target); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError reports the first failing field in a readable form.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Errorf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Errorf("%s must be at most %s", fe.Field(), fe.Param())
	case "permission":
		return fmt.Errorf("%s must be a permission level from 0 to 3", fe.Field())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// transferError maps coordinator errors to HTTP statuses.
func transferError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transfer.ErrInvalidTransfer):
		status = http.StatusBadRequest
	case errors.Is(err, transfer.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, transfer.ErrStaleAction), errors.Is(err, transfer.ErrTransferExpired):
		status = http.StatusConflict
	case errors.Is(err, transfer.ErrRelayUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, transfer.ErrRelayFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error("transfer failed", "error", err)
		jsonError(w, status, "internal error")
		return
	}
	jsonError(w, status, err.Error())
}
