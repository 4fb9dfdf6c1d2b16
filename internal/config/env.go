package config

import (
	"os"

	"github.com/joho/godotenv"
)

// ApplyEnv loads envFile (if it exists) and lets environment variables
// override the MQTT settings, so credentials stay out of the JSON file.
// Recognised variables: MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME,
// MQTT_PASSWORD, POSTURE_DETECTOR_COMMAND.
func (c *PostureConfig) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	for key, dst := range map[string]**string{
		"MQTT_BROKER":              &c.MQTTBroker,
		"MQTT_CLIENT_ID":           &c.MQTTClientID,
		"MQTT_USERNAME":            &c.MQTTUsername,
		"MQTT_PASSWORD":            &c.MQTTPassword,
		"POSTURE_DETECTOR_COMMAND": &c.DetectorCommand,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = ptrString(v)
		}
	}
	return nil
}

func ptrString(v string) *string { return &v }
