// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var schemaCache sync.Map // schema fingerprint (marshaled JSON) -> *jsonschema.Schema

// ValidateArgs checks args against a tool's Schema() before dispatch. A nil
// or empty schema means the tool takes no constrained parameters and always
// passes. Schemas are compiled once per distinct schema and cached, since the
// same tool's schema is revalidated on every call.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("tool: encode schema: %w", err)
	}

	compiled, err := compileSchema(schemaJSON)
	if err != nil {
		return fmt.Errorf("tool: compile schema: %w", err)
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool: encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(argsJSON, &decoded); err != nil {
		return fmt.Errorf("tool: decode arguments: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool: arguments do not match schema: %w", err)
	}
	return nil
}

func compileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	key := string(schemaJSON)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	schemaCache.Store(key, compiled)
	return compiled, nil
}
