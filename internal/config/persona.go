package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// PersonaTurn is one configured priming message prepended to every
// conversation sent to the model. Content may contain {placeholder}
// template keys substituted at request time.
type PersonaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func LoadPersona(path string) ([]PersonaTurn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	var turns []PersonaTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	for i, t := range turns {
		if t.Role != "system" && t.Role != "user" && t.Role != "assistant" {
			return nil, fmt.Errorf("persona turn %d has invalid role %q", i, t.Role)
		}
	}
	return turns, nil
}
