package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenRigCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/device-profile-v1.json
var deviceProfileSchemaJSON string

//go:embed schema/rig-wiring-v1.json
var rigWiringSchemaJSON string

type Validator struct {
	profile *jsonschema.Schema
	wiring  *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	profile, err := compileSchema("device-profile-v1.json", deviceProfileSchemaJSON)
	if err != nil {
		return nil, err
	}
	wiring, err := compileSchema("rig-wiring-v1.json", rigWiringSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &Validator{profile: profile, wiring: wiring}, nil
}

func compileSchema(name, source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return schema, nil
}

func (v *Validator) ValidateProfile(data []byte) error {
	return validateJSON(v.profile, data)
}

func (v *Validator) ValidateProfileDefinition(profile *types.DeviceProfileDefinition) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	return v.ValidateProfile(data)
}

// ValidateWiring validates a decoded wiring document. YAML decoders produce
// types the schema library does not know, so the document is normalised
// through JSON first.
func (v *Validator) ValidateWiring(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal wiring: %w", err)
	}
	return validateJSON(v.wiring, data)
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
