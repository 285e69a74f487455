package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

// entryHeader starts every serialized response, so foreign payloads stored
// under the same key are rejected instead of parsed.
var entryHeader = []byte("---HTTP-RESPONSE---\n")

// Serialize dumps resp, status line, headers and body included.
// resp.Body is replaced with an equivalent unread body.
func Serialize(resp *http.Response) ([]byte, error) {
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(entryHeader)+len(dump))
	data = append(data, entryHeader...)
	return append(data, dump...), nil
}

// Deserialize parses data written by Serialize as the response to req.
func Deserialize(data []byte, req *http.Request) (*http.Response, error) {
	raw, ok := bytes.CutPrefix(data, entryHeader)
	if !ok {
		return nil, fmt.Errorf("not a cached response: missing %q header", entryHeader)
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}
