package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	// Frames larger than this are not expected from any supported endpoint.
	maxFrameSize = 1024 * 1024
)

// streamFrame covers the two payload shapes we consume: the companion proxy's
// flat {"content": "..."} frames and the upstream OpenAI-compatible
// {"choices":[{"delta":{"content":"..."}}]} frames. Error frames carry a
// server-side failure mid-stream.
type streamFrame struct {
	Content string `json:"content"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

func (f *streamFrame) fragment() string {
	if f.Content != "" {
		return f.Content
	}
	if len(f.Choices) > 0 {
		return f.Choices[0].Delta.Content
	}
	return ""
}

// Decoder incrementally decodes a text/event-stream of completion frames.
// Each Recv returns the accumulated text so far rather than the raw delta, so
// consumers never track concatenation state themselves. A Decoder is bound to
// one response body and is not resumable across streams.
type Decoder struct {
	scanner *bufio.Scanner
	acc     strings.Builder
	done    bool
	err     error
}

// NewDecoder wraps a response body. Partial lines at chunk boundaries are
// buffered by the underlying scanner; only complete lines are parsed.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Decoder{scanner: sc}
}

// Recv advances to the next text fragment and returns the accumulated text.
// It returns io.EOF on the [DONE] sentinel or when the underlying stream ends
// normally. Data lines that fail to parse as JSON are skipped. Whatever was
// accumulated before an abnormal termination remains available via Text.
func (d *Decoder) Recv() (string, error) {
	if d.done {
		return d.acc.String(), io.EOF
	}
	if d.err != nil {
		return d.acc.String(), d.err
	}

	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == doneSentinel {
			d.done = true
			return d.acc.String(), io.EOF
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// Malformed frame: skip, never abort the stream.
			continue
		}
		if len(frame.Error) > 0 {
			d.err = &TransportError{StatusCode: 0, Detail: string(frame.Error)}
			return d.acc.String(), d.err
		}
		if frag := frame.fragment(); frag != "" {
			d.acc.WriteString(frag)
			return d.acc.String(), nil
		}
	}

	if err := d.scanner.Err(); err != nil {
		d.err = err
		return d.acc.String(), err
	}
	d.done = true
	return d.acc.String(), io.EOF
}

// Text returns the text accumulated so far.
func (d *Decoder) Text() string {
	return d.acc.String()
}
