package modules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdinPath selects standard input as the descriptor source.
const StdinPath = "-"

// Descriptor is a module descriptor. Only the id is interpreted; Raw is
// posted to the gateway unchanged.
type Descriptor struct {
	ID  string
	Raw json.RawMessage
}

// ParseDescriptor validates that data is a JSON object with a non-empty id.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var head struct {
		ID string `json:"id"`
	}
	data = bytes.TrimSpace(data)
	if err := json.Unmarshal(data, &head); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if strings.TrimSpace(head.ID) == "" {
		return Descriptor{}, fmt.Errorf("%w: missing id", ErrInvalidDescriptor)
	}
	return Descriptor{ID: head.ID, Raw: json.RawMessage(data)}, nil
}

// ReadDescriptor loads a descriptor from path, or from stdin when path is "-".
func ReadDescriptor(path string, stdin io.Reader) (Descriptor, error) {
	var (
		data []byte
		err  error
	)
	if path == StdinPath {
		if stdin == nil {
			stdin = os.Stdin
		}
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
