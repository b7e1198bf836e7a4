package web

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Values  map[string]string `json:"values,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	// Reject trailing data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// formRequest is implemented by request types that browsers may also post
// as application/x-www-form-urlencoded or multipart forms.
type formRequest interface {
	fromForm(v url.Values)
}

// decodeBody accepts JSON, or a form when dst can read one.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if isJSON(r) {
		return decodeJSON(w, r, maxBytes, dst)
	}
	fr, ok := dst.(formRequest)
	if !ok {
		return errors.New("unsupported content type")
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if ct == "multipart/form-data" {
		err = r.ParseMultipartForm(maxBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return err
	}
	fr.fromForm(r.PostForm)
	return nil
}

func isJSON(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

// formBool reads an HTML checkbox: present and not "false"/"off".
func formBool(v url.Values, key string) bool {
	s := strings.ToLower(strings.TrimSpace(v.Get(key)))
	switch s {
	case "", "false", "off", "0", "no":
		return false
	default:
		return true
	}
}
