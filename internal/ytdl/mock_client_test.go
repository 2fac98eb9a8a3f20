package ytdl

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPClient is a mock HTTP client for testing
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
	Calls  []string
	mu     sync.Mutex
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req.URL.String())
	m.mu.Unlock()
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	return nil, nil
}

// CallsTo counts requests whose URL ends with suffix
func (m *MockHTTPClient) CallsTo(suffix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasSuffix(c, suffix) {
			n++
		}
	}
	return n
}

// NewMockReleaseResponse creates a mock GitHub release response
func NewMockReleaseResponse(tagName string, assetNames ...string) *http.Response {
	release := GitHubRelease{TagName: tagName}
	for _, name := range assetNames {
		release.Assets = append(release.Assets, struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		}{Name: name, BrowserDownloadURL: "http://example.com/" + name})
	}

	body, _ := json.Marshal(release)

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// NewMockBinaryResponse creates a mock binary download response
func NewMockBinaryResponse(data []byte) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

// releaseServer routes release, binary and checksum requests
func releaseServer(tag string, binary []byte, checksums string, assets ...string) *MockHTTPClient {
	return &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			switch {
			case req.URL.Host == "api.github.com":
				return NewMockReleaseResponse(tag, assets...), nil
			case req.URL.Path == "/"+checksumName:
				return NewMockBinaryResponse([]byte(checksums)), nil
			default:
				return NewMockBinaryResponse(binary), nil
			}
		},
	}
}
