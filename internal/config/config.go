package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/posture.report/internal/posture"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/posture.defaults.json"

// PostureConfig is the root configuration of the posture monitor. Every
// field is optional; the Get* accessors supply the product default when a
// field is omitted, so partial files are safe.
type PostureConfig struct {
	// Posture evaluation
	CalibrationDuration   *string  `json:"calibration_duration,omitempty"` // duration string like "3s"
	AlertAfter            *string  `json:"alert_after,omitempty"`          // duration string like "3s"
	GoodThresholdPercent  *float64 `json:"good_threshold_percent,omitempty"`
	MinLandmarkConfidence *float64 `json:"min_landmark_confidence,omitempty"`

	// Capture loop
	FrameInterval   *string `json:"frame_interval,omitempty"` // pacing for replayed frames
	MaxReadFailures *int    `json:"max_read_failures,omitempty"`
	CameraDevice    *string `json:"camera_device,omitempty"`
	CameraWidth     *int    `json:"camera_width,omitempty"`
	CameraHeight    *int    `json:"camera_height,omitempty"`

	// Landmark detector subprocess
	DetectorCommand *string  `json:"detector_command,omitempty"`
	DetectorArgs    []string `json:"detector_args,omitempty"`
	DetectorTimeout *string  `json:"detector_timeout,omitempty"`

	// Persistence
	ScoreSampleInterval *string `json:"score_sample_interval,omitempty"`

	// MQTT publishing (disabled when broker is empty)
	MQTTBroker      *string `json:"mqtt_broker,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`
	MQTTUsername    *string `json:"mqtt_username,omitempty"`
	MQTTPassword    *string `json:"mqtt_password,omitempty"`
}

// EmptyConfig returns a PostureConfig with all fields unset.
func EmptyConfig() *PostureConfig {
	return &PostureConfig{}
}

// LoadPostureConfig loads a PostureConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPostureConfig(path string) (*PostureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PostureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPostureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PostureConfig) Validate() error {
	for name, d := range map[string]*string{
		"calibration_duration":  c.CalibrationDuration,
		"alert_after":           c.AlertAfter,
		"frame_interval":        c.FrameInterval,
		"detector_timeout":      c.DetectorTimeout,
		"score_sample_interval": c.ScoreSampleInterval,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *d)
		}
	}

	if c.CalibrationDuration != nil && *c.CalibrationDuration != "" {
		if d, _ := time.ParseDuration(*c.CalibrationDuration); d == 0 {
			return fmt.Errorf("calibration_duration must be positive")
		}
	}

	if c.GoodThresholdPercent != nil {
		if *c.GoodThresholdPercent <= 0 || *c.GoodThresholdPercent > 200 {
			return fmt.Errorf("good_threshold_percent must be in (0, 200], got %f", *c.GoodThresholdPercent)
		}
	}

	if c.MinLandmarkConfidence != nil {
		if *c.MinLandmarkConfidence < 0 || *c.MinLandmarkConfidence > 1 {
			return fmt.Errorf("min_landmark_confidence must be between 0 and 1, got %f", *c.MinLandmarkConfidence)
		}
	}

	if c.MaxReadFailures != nil && *c.MaxReadFailures < 1 {
		return fmt.Errorf("max_read_failures must be at least 1, got %d", *c.MaxReadFailures)
	}

	for name, v := range map[string]*int{"camera_width": c.CameraWidth, "camera_height": c.CameraHeight} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetCalibrationDuration returns the calibration window length.
func (c *PostureConfig) GetCalibrationDuration() time.Duration {
	return parseDurationOr(c.CalibrationDuration, posture.DefaultCalibrationDuration)
}

// GetAlertAfter returns how long posture must stay bad before alerting.
func (c *PostureConfig) GetAlertAfter() time.Duration {
	return parseDurationOr(c.AlertAfter, posture.DefaultAlertAfter)
}

// GetGoodThresholdPercent returns the good-posture cutoff in percent of baseline.
func (c *PostureConfig) GetGoodThresholdPercent() float64 {
	if c.GoodThresholdPercent == nil {
		return posture.DefaultGoodThreshold
	}
	return *c.GoodThresholdPercent
}

// GetMinLandmarkConfidence returns the min_landmark_confidence value or the default.
func (c *PostureConfig) GetMinLandmarkConfidence() float64 {
	if c.MinLandmarkConfidence == nil {
		return posture.DefaultMinConfidence
	}
	return *c.MinLandmarkConfidence
}

// GetFrameInterval returns the pacing interval for replayed frames (~30fps).
func (c *PostureConfig) GetFrameInterval() time.Duration {
	return parseDurationOr(c.FrameInterval, 33*time.Millisecond)
}

// GetMaxReadFailures returns how many consecutive failed camera reads end
// monitoring (~1s at 30fps).
func (c *PostureConfig) GetMaxReadFailures() int {
	if c.MaxReadFailures == nil {
		return 30
	}
	return *c.MaxReadFailures
}

// GetCameraDevice returns the camera device, empty for the platform default.
func (c *PostureConfig) GetCameraDevice() string {
	if c.CameraDevice == nil {
		return ""
	}
	return *c.CameraDevice
}

// GetCameraWidth returns the camera_width value or the default.
func (c *PostureConfig) GetCameraWidth() int {
	if c.CameraWidth == nil {
		return 640
	}
	return *c.CameraWidth
}

// GetCameraHeight returns the camera_height value or the default.
func (c *PostureConfig) GetCameraHeight() int {
	if c.CameraHeight == nil {
		return 480
	}
	return *c.CameraHeight
}

// GetDetectorCommand returns the landmark worker executable.
func (c *PostureConfig) GetDetectorCommand() string {
	if c.DetectorCommand == nil || *c.DetectorCommand == "" {
		return "models/run_pose_worker.sh"
	}
	return *c.DetectorCommand
}

// GetDetectorTimeout returns the per-frame detector deadline.
func (c *PostureConfig) GetDetectorTimeout() time.Duration {
	return parseDurationOr(c.DetectorTimeout, 2*time.Second)
}

// GetScoreSampleInterval returns how often a score sample is persisted.
func (c *PostureConfig) GetScoreSampleInterval() time.Duration {
	return parseDurationOr(c.ScoreSampleInterval, time.Second)
}

// GetMQTTBroker returns the broker address; empty disables publishing.
func (c *PostureConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTClientID returns the mqtt_client_id value or the default.
func (c *PostureConfig) GetMQTTClientID() string {
	if c.MQTTClientID == nil || *c.MQTTClientID == "" {
		return "posture-report"
	}
	return *c.MQTTClientID
}

// GetMQTTTopicPrefix returns the mqtt_topic_prefix value or the default.
func (c *PostureConfig) GetMQTTTopicPrefix() string {
	if c.MQTTTopicPrefix == nil || *c.MQTTTopicPrefix == "" {
		return "posture"
	}
	return *c.MQTTTopicPrefix
}

// GetMQTTUsername returns the mqtt_username value or the default.
func (c *PostureConfig) GetMQTTUsername() string {
	if c.MQTTUsername == nil {
		return ""
	}
	return *c.MQTTUsername
}

// GetMQTTPassword returns the mqtt_password value or the default.
func (c *PostureConfig) GetMQTTPassword() string {
	if c.MQTTPassword == nil {
		return ""
	}
	return *c.MQTTPassword
}

// SessionOptions builds the posture.Options for a monitoring session.
func (c *PostureConfig) SessionOptions() posture.Options {
	return posture.Options{
		CalibrationDuration: c.GetCalibrationDuration(),
		AlertAfter:          c.GetAlertAfter(),
		GoodThreshold:       c.GetGoodThresholdPercent(),
		MinConfidence:       c.GetMinLandmarkConfidence(),
	}
}
