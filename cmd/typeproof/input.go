package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var stdin io.Reader = os.Stdin

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// readIntervals accepts a JSON array of numbers or plain numbers
// separated by whitespace or commas.
func readIntervals(path string) ([]float64, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("read intervals: %w", err)
	}
	return parseIntervals(data)
}

func parseIntervals(data []byte) ([]float64, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []float64
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("parse intervals: %w", err)
		}
		return out, nil
	}

	fields := strings.FieldsFunc(string(trimmed), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse intervals: value %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
