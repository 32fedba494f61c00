package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// parseDataURI decodes a self-describing "data:<mime>;base64,<payload>" blob.
// maxDecoded bounds the decoded size; the encoded form is pre-checked so a
// huge payload is rejected before allocation.
func parseDataURI(uri string, maxDecoded int) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("attachment is not a data URI")
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("data URI has no payload separator")
	}

	mime, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return nil, "", fmt.Errorf("data URI is not base64 encoded")
	}
	if mime == "" {
		return nil, "", fmt.Errorf("data URI has no media type")
	}

	// 4 base64 chars encode 3 bytes.
	if len(payload)/4*3 > maxDecoded {
		return nil, "", fmt.Errorf("attachment exceeds %d bytes", maxDecoded)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty attachment payload")
	}
	if len(data) > maxDecoded {
		return nil, "", fmt.Errorf("attachment exceeds %d bytes", maxDecoded)
	}
	return data, mime, nil
}
