package providers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var doneMarker = []byte("[DONE]")

// SSEDecoder reads "data:" payloads from an event stream. Partial lines are
// buffered until their newline arrives, so frames may be split across reads
// at any byte.
type SSEDecoder struct {
	r *bufio.Reader
}

// NewSSEDecoder creates a decoder over r
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReader(r)}
}

// Next returns the next data payload. It returns io.EOF after the [DONE]
// marker and ErrStreamTruncated if the body ends before it.
func (d *SSEDecoder) Next() ([]byte, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if len(line) > 0 {
			payload, ok := parseSSELine(line)
			switch {
			case ok && bytes.Equal(payload, doneMarker):
				return nil, io.EOF
			case ok && err == nil:
				return payload, nil
			}
			// a data line cut off by the end of the body is not a frame
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrStreamTruncated
			}
			return nil, err
		}
	}
}

// parseSSELine extracts the payload of a data line. A bare [DONE] line is
// accepted as well; comments, other fields and blank lines are skipped.
func parseSSELine(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	switch {
	case len(line) == 0, line[0] == ':':
		return nil, false
	case bytes.HasPrefix(line, []byte("data:")):
		payload := bytes.TrimPrefix(line, []byte("data:"))
		payload = bytes.TrimPrefix(payload, []byte(" "))
		return payload, len(payload) > 0
	case bytes.Equal(bytes.TrimSpace(line), doneMarker):
		return doneMarker, true
	}
	return nil, false
}

// chunk covers both the OpenAI delta shape and the flat {"content": ...} shape
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Content string          `json:"content"`
	Error   json.RawMessage `json:"error"`
}

// decodeDelta turns one data payload into a Delta
func decodeDelta(payload []byte) (Delta, error) {
	var c chunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return Delta{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(c.Error) > 0 && !bytes.Equal(c.Error, []byte("null")) {
		return Delta{}, fmt.Errorf("%w: %s", ErrUpstreamReported, upstreamErrorMessage(c.Error))
	}
	if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
		return Delta{Content: c.Choices[0].Delta.Content}, nil
	}
	return Delta{Content: c.Content}, nil
}

func upstreamErrorMessage(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
