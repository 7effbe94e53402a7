// Package plugin defines the processing plugin protocol and the registry
// that resolves plugin names. Plugins turn a transcript into named output
// artifacts; everything else (persistence, status transitions) belongs to the
// caller.
package plugin

import (
	"context"
	"fmt"

	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// Field describes one entry of a metadata or settings schema.
type Field struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Info is the public description of a plugin.
type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Request carries the inputs for one processing run.
type Request struct {
	MeetingID string
	// Settings are fully resolved: plugin defaults, owner preferences, and
	// meeting overrides already merged in that order.
	Settings map[string]interface{}
	Metadata map[string]interface{}
}

// Plugin is one domain-specific transcript processor.
type Plugin interface {
	// Info returns the plugin's public description.
	Info() Info

	// MetadataSchema declares what the caller must or may supply.
	MetadataSchema() []Field

	// SettingsSchema declares the configurable knobs with their defaults.
	SettingsSchema() []Field

	// Configure validates candidate settings against the settings schema.
	// It runs with the meeting overrides at creation time and with the
	// fully resolved settings before processing; a nil map is valid.
	Configure(settings map[string]interface{}) error

	// Process runs the plugin over the transcript and returns named
	// artifacts, artifact name to content. It must be a pure function of
	// its inputs: no persistence, no status writes.
	Process(ctx context.Context, t *transcript.Transcript, provider llm.Provider, req Request) (map[string]string, error)
}

// validateSettings checks settings against a schema. Unknown keys and
// wrong-typed values are rejected; a nil or partial map passes, defaults
// cover what it omits.
func validateSettings(schema []Field, settings map[string]interface{}) error {
	byName := make(map[string]Field, len(schema))
	for _, f := range schema {
		byName[f.Name] = f
	}
	for k, v := range settings {
		f, ok := byName[k]
		if !ok {
			return fmt.Errorf("unknown setting %q", k)
		}
		switch f.Type {
		case "string":
			if _, ok := v.(string); !ok {
				return fmt.Errorf("setting %q must be a string", k)
			}
		case "int":
			switch n := v.(type) {
			case int, int64:
			case float64:
				// JSON decoding delivers numbers as float64.
				if n != float64(int64(n)) {
					return fmt.Errorf("setting %q must be an integer", k)
				}
			default:
				return fmt.Errorf("setting %q must be an integer", k)
			}
		}
	}
	return nil
}

// Defaults extracts the default settings from a schema.
func Defaults(schema []Field) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range schema {
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}

// ResolveSettings merges settings layers, later layers winning per key:
// plugin defaults, then owner preferences, then per-meeting overrides.
func ResolveSettings(defaults, ownerPrefs, meetingOverrides map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(defaults))
	for _, layer := range []map[string]interface{}{defaults, ownerPrefs, meetingOverrides} {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// intSetting reads an integer setting that may have arrived as int, int64,
// or float64 depending on the decoding path.
func intSetting(settings map[string]interface{}, key string, fallback int) int {
	v, ok := settings[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func stringSetting(settings map[string]interface{}, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
