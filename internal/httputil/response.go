package httputil

import (
	"net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
)

type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Status: "ok",
		Data:   data,
	})
}

// WriteError maps a tagged error onto the HTTP envelope. Non-operational
// errors hide their message behind a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	e := errkind.Classify(err)
	status := errkind.HTTPStatus(e.Kind)
	msg := e.Message
	if !errkind.Operational(e) {
		status = http.StatusInternalServerError
		msg = "internal error"
	}
	body := &ErrorBody{Code: string(e.Kind), Message: msg}
	if os.Getenv("METARR_ENV") == "development" {
		body.Stack = e.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Status: "error", Error: body})
}

func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Status: "error",
		Error:  &ErrorBody{Code: code, Message: message},
	})
}

func ReadJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errkind.Wrap(errkind.KindInputInvalid, "invalid request body", err)
	}
	return nil
}
