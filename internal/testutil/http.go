package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"orchestra/internal/errors"
)

// NewJSONRequest creates a new HTTP request with JSON body
func NewJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, url, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// DecodeJSON decodes JSON from a reader
func DecodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// ParseErrorResponse decodes the server's error envelope
func ParseErrorResponse(body io.Reader) (*errors.HTTPErrorResponse, error) {
	var errResp errors.HTTPErrorResponse
	if err := DecodeJSON(body, &errResp); err != nil {
		return nil, err
	}
	return &errResp, nil
}
