package devices

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevinKickass/OpenRigCore/internal/types"
)

// DefaultProfile is the register profile used when none is configured.
const DefaultProfile = "labjack-t7"

//go:embed profiles/*.json
var builtinProfiles embed.FS

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds profileName.json in the search paths, falling back to the
// profiles compiled into the binary.
func (l *ProfileLoader) Load(profileName string) (*types.DeviceProfileDefinition, error) {
	if cached, ok := l.cache.Load(profileName); ok {
		return cached.(*types.DeviceProfileDefinition), nil
	}

	var data []byte
	foundPath := ""

	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, profileName+".json")
		if b, err := os.ReadFile(fullPath); err == nil {
			data = b
			foundPath = fullPath
			break
		}
	}

	if data == nil {
		b, err := builtinProfiles.ReadFile("profiles/" + profileName + ".json")
		if err != nil {
			return nil, fmt.Errorf("profile not found: %s (searched in: %v)", profileName, l.searchPaths)
		}
		data = b
		foundPath = "builtin:" + profileName
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var profile types.DeviceProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	l.cache.Store(profileName, &profile)

	return &profile, nil
}

func (l *ProfileLoader) Validator() *Validator {
	return l.validator
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
