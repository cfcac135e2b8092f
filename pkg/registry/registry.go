package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed activity-registry.json
var embedded []byte

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a registry document.
func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return &reg, nil
}

// Default returns the registry compiled into the binary.
func Default() *ActivityRegistry {
	reg, err := Parse(embedded)
	if err != nil {
		panic(err)
	}
	return reg
}

// Embedded returns the raw registry document compiled into the binary.
func Embedded() []byte {
	out := make([]byte, len(embedded))
	copy(out, embedded)
	return out
}

// InputSchema returns the JSON schema job variables of taskType must satisfy.
func (r *ActivityRegistry) InputSchema(taskType string) (json.RawMessage, error) {
	activity, ok := r.Find(taskType)
	if !ok {
		return nil, fmt.Errorf("task type %q not registered", taskType)
	}
	if len(activity.InputSchema) == 0 {
		return nil, fmt.Errorf("task type %q has no input schema", taskType)
	}
	return json.Marshal(activity.InputSchema)
}
