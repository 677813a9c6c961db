package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"coderunner/internal/sandbox/runner"

	"github.com/klauspost/compress/zstd"
)

const (
	payloadEnv      = "EXECUTION_PAYLOAD"
	maxPayloadBytes = 64 << 20
)

// readPayload loads the submission from the payload file, else the
// EXECUTION_PAYLOAD variable, else stdin. A .zst file is decompressed.
func readPayload(path string, stdin io.Reader) (runner.Submission, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case path != "":
		data, err = readPayloadFile(path)
	case os.Getenv(payloadEnv) != "":
		data = []byte(os.Getenv(payloadEnv))
	default:
		data, err = io.ReadAll(io.LimitReader(stdin, maxPayloadBytes+1))
	}
	if err != nil {
		return runner.Submission{}, err
	}
	if len(data) > maxPayloadBytes {
		return runner.Submission{}, fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	return decodeSubmission(data)
}

func readPayloadFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload failed: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open zstd payload failed: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read payload failed: %w", err)
	}
	return data, nil
}

func decodeSubmission(data []byte) (runner.Submission, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return runner.Submission{}, fmt.Errorf("payload is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var sub runner.Submission
	if err := dec.Decode(&sub); err != nil {
		return runner.Submission{}, fmt.Errorf("decode payload failed: %w", err)
	}
	return sub, nil
}
