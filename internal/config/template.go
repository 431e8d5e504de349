package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteDefault writes a starter config file with documented defaults.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	template := map[string]interface{}{
		"server": map[string]interface{}{
			"address": "0.0.0.0",
			"port":    8080,
		},
		"reminders": map[string]interface{}{
			"enabled":                 true,
			"tolerance_minutes":       5,
			"timezone_offset_minutes": 0,
			"cycle_spec":              "* * * * *",
			"sweep_spec":              "30 0 * * *",
			"default_snooze_minutes":  5,
			"cron_secret":             "",
		},
		"channels": map[string]interface{}{
			"telegram": map[string]interface{}{
				"enabled":   false,
				"bot_token": "",
			},
			"discord": map[string]interface{}{
				"enabled": false,
				"token":   "",
			},
			"push": map[string]interface{}{
				"enabled":           false,
				"vapid_public_key":  "",
				"vapid_private_key": "",
				"subscriber":        "mailto:support@meditrack.local",
			},
		},
		"security": map[string]interface{}{
			"jwt_secret":    "",
			"allow_origins": []string{"*"},
		},
	}

	out, err := yaml.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal config template: %w", err)
	}

	return os.WriteFile(path, out, 0600)
}
