package service

import (
	"net/http"
	"time"
)

// HTTPClient is the minimal surface the release source needs; tests swap in
// fakes.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type DefaultHTTPClient struct{ *http.Client }

func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{Client: &http.Client{Timeout: timeout}}
}
