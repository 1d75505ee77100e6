package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Framing: one JSON object per newline in each direction, with a cap that
// keeps a rogue client from ballooning daemon memory.
const maxFrameBytes = 4 << 20

// Request is one client op.
type Request struct {
	V    int             `json:"v"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the reply to one request.
type Response struct {
	V      int             `json:"v"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func newFrameReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64<<10)
}

// readFrame reads one newline-terminated JSON frame.
func readFrame(r *bufio.Reader, v any) error {
	line, err := readLimitedLine(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

func readLimitedLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, part...)
		if len(line) > maxFrameBytes {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// writeFrame writes one JSON frame plus newline.
func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > maxFrameBytes {
		return fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// decodeArgs parses op args into a typed struct; unknown fields are
// tolerated for forward compatibility.
func decodeArgs(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return E(CodeInvalidRequest, "bad args: %v", err)
	}
	return nil
}

// okResult marshals an op result.
func okResult(v any) (json.RawMessage, *Error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, E(CodeInvalidRequest, "encode result: %v", err)
	}
	return data, nil
}
