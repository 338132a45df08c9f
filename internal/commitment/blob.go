package commitment

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// BlobFields are the values packed into the proof blob, in wire order.
type BlobFields struct {
	ContentHash string
	Velocity    float64
	Variance    float64
	Timestamp   uint64
}

// EncodeBlob packs f as base64 (standard alphabet, padded) of the compact
// JSON array [content_hash, velocity, variance, timestamp].
func EncodeBlob(f BlobFields) (string, error) {
	arr, err := json.Marshal([]any{f.ContentHash, f.Velocity, f.Variance, f.Timestamp})
	if err != nil {
		return "", fmt.Errorf("%w: proof blob: %v", ErrEncoding, err)
	}
	return base64.StdEncoding.EncodeToString(arr), nil
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob string) (BlobFields, error) {
	var f BlobFields

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return f, fmt.Errorf("%w: proof blob is not base64: %v", ErrMalformedCommitment, err)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return f, fmt.Errorf("%w: proof blob is not a JSON array: %v", ErrMalformedCommitment, err)
	}
	if len(parts) != 4 {
		return f, fmt.Errorf("%w: proof blob has %d elements, want 4", ErrMalformedCommitment, len(parts))
	}

	if err := strictUnmarshal(parts[0], &f.ContentHash); err != nil {
		return f, fmt.Errorf("%w: proof blob content hash: %v", ErrMalformedCommitment, err)
	}
	if err := strictUnmarshal(parts[1], &f.Velocity); err != nil {
		return f, fmt.Errorf("%w: proof blob velocity: %v", ErrMalformedCommitment, err)
	}
	if err := strictUnmarshal(parts[2], &f.Variance); err != nil {
		return f, fmt.Errorf("%w: proof blob variance: %v", ErrMalformedCommitment, err)
	}
	if err := strictUnmarshal(parts[3], &f.Timestamp); err != nil {
		return f, fmt.Errorf("%w: proof blob timestamp: %v", ErrMalformedCommitment, err)
	}
	return f, nil
}

// strictUnmarshal rejects JSON null, which encoding/json would otherwise
// accept as a no-op.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("null value")
	}
	return json.Unmarshal(raw, v)
}
