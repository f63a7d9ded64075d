package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Auswahlstrategien für Kandidaten, solange kein Gesicht verfolgt wird
const (
	SelectCenter     = "center"
	SelectConfidence = "confidence"
)

// Config ist die Hauptkonfiguration der Anwendung
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	OpenCV   OpenCVConfig   `mapstructure:"opencv"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	I18n     I18nConfig     `mapstructure:"i18n"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	DataDir     string   `mapstructure:"data_dir"`
	Timezone    string   `mapstructure:"timezone"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite file
}

// OpenCVConfig enthält Einstellungen für Kamera und Gesichtsmodell
type OpenCVConfig struct {
	CameraIndex     int     `mapstructure:"camera_index"`
	FrameWidth      int     `mapstructure:"frame_width"`
	FrameHeight     int     `mapstructure:"frame_height"`
	FrameIntervalMS int     `mapstructure:"frame_interval_ms"` // Takt der Echtzeitschleife
	ModelPath       string  `mapstructure:"model_path"`        // YuNet-ONNX-Modell
	ScoreThreshold  float64 `mapstructure:"score_threshold"`
	NMSThreshold    float64 `mapstructure:"nms_threshold"`
	TopK            int     `mapstructure:"top_k"`
	UseGPU          bool    `mapstructure:"use_gpu"`
}

// BackendConfig enthält Einstellungen für das Matching-Backend
type BackendConfig struct {
	Provider       string `mapstructure:"provider"` // "http" or "local"
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Workers        int    `mapstructure:"workers"`
	QueueSize      int    `mapstructure:"queue_size"`
	LocalSpriteDir string `mapstructure:"local_sprite_dir"` // Sprite-Sheets für den "local"-Provider
}

// FilterConfig enthält die One-Euro-Parameter, gemeinsam für alle vier Box-Werte
type FilterConfig struct {
	Frequency float64 `mapstructure:"frequency" json:"frequency"`
	MinCutoff float64 `mapstructure:"min_cutoff" json:"min_cutoff"`
	Beta      float64 `mapstructure:"beta" json:"beta"`
	DCutoff   float64 `mapstructure:"d_cutoff" json:"d_cutoff"`
}

// TrackingConfig enthält alle Werte, die das Face-Tracking liest.
// Die Frame-Schleife arbeitet pro Frame auf einer unveränderlichen Kopie (siehe Cell).
type TrackingConfig struct {
	BBoxMultiplier        float64      `mapstructure:"bbox_multiplier" json:"bbox_multiplier"`
	JumpThresholdPx       int          `mapstructure:"jump_threshold_px" json:"jump_threshold_px"`
	MinFaceSizePx         int          `mapstructure:"min_face_size_px" json:"min_face_size_px"`
	ConfirmDetectionCount int          `mapstructure:"confirm_detection_count" json:"confirm_detection_count"`
	LossMissCount         int          `mapstructure:"loss_miss_count" json:"loss_miss_count"`
	UpdateIntervalSeconds float64      `mapstructure:"update_interval_seconds" json:"update_interval_seconds"`
	AutoResetEnabled      bool         `mapstructure:"auto_reset_enabled" json:"auto_reset_enabled"`
	FrontalThreshold      float64      `mapstructure:"frontal_threshold" json:"frontal_threshold"`
	SelectionPolicy       string       `mapstructure:"selection_policy" json:"selection_policy"`
	CropSize              int          `mapstructure:"crop_size" json:"crop_size"`
	BufferRows            int          `mapstructure:"buffer_rows" json:"buffer_rows"`
	BufferCols            int          `mapstructure:"buffer_cols" json:"buffer_cols"`
	MinBufferedFrames     int          `mapstructure:"min_buffered_frames" json:"min_buffered_frames"`
	RetryOnFailure        bool         `mapstructure:"retry_on_failure" json:"retry_on_failure"`
	MaxSubmitAttempts     int          `mapstructure:"max_submit_attempts" json:"max_submit_attempts"`
	NotifyNoFace          bool         `mapstructure:"notify_no_face" json:"notify_no_face"`
	NumVids               int          `mapstructure:"num_vids" json:"num_vids"`
	StabilityWindow       int          `mapstructure:"stability_window" json:"stability_window"`
	StabilityThresholdPx  float64      `mapstructure:"stability_threshold_px" json:"stability_threshold_px"`
	Filter                FilterConfig `mapstructure:"filter" json:"filter"`
}

// BufferCap ist die maximale Anzahl gepufferter Crops für ein Sprite-Sheet
func (t TrackingConfig) BufferCap() int {
	return t.BufferRows * t.BufferCols
}

// Validate meldet den ersten ungültigen Tracking-Wert
func (t TrackingConfig) Validate() error {
	switch {
	case t.BBoxMultiplier <= 0:
		return errors.New("bbox_multiplier must be > 0")
	case t.JumpThresholdPx <= 0:
		return errors.New("jump_threshold_px must be > 0")
	case t.MinFaceSizePx < 0:
		return errors.New("min_face_size_px must be >= 0")
	case t.ConfirmDetectionCount < 1:
		return errors.New("confirm_detection_count must be >= 1")
	case t.LossMissCount < 1:
		return errors.New("loss_miss_count must be >= 1")
	case t.AutoResetEnabled && t.UpdateIntervalSeconds <= 0:
		return errors.New("update_interval_seconds must be > 0 when auto reset is enabled")
	case t.FrontalThreshold <= 0:
		return errors.New("frontal_threshold must be > 0")
	case t.SelectionPolicy != SelectCenter && t.SelectionPolicy != SelectConfidence:
		return fmt.Errorf("unknown selection_policy %q", t.SelectionPolicy)
	case t.CropSize <= 0:
		return errors.New("crop_size must be > 0")
	case t.BufferRows < 1 || t.BufferCols < 1:
		return errors.New("buffer_rows and buffer_cols must be >= 1")
	case t.MinBufferedFrames < 0 || t.MinBufferedFrames > t.BufferCap():
		return errors.New("min_buffered_frames must be within [0, buffer_rows*buffer_cols]")
	case t.MaxSubmitAttempts < 1:
		return errors.New("max_submit_attempts must be >= 1")
	case t.NumVids < 1:
		return errors.New("num_vids must be >= 1")
	case t.StabilityWindow < 1:
		return errors.New("stability_window must be >= 1")
	case t.Filter.Frequency <= 0:
		return errors.New("filter.frequency must be > 0")
	case t.Filter.MinCutoff < 0 || t.Filter.Beta < 0 || t.Filter.DCutoff < 0:
		return errors.New("filter cutoffs and beta must be >= 0")
	}
	return nil
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	TopicPrefix   string              `mapstructure:"topic_prefix"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	IntervalHours int `mapstructure:"interval_hours"`
}

// I18nConfig enthält Einstellungen für lokalisierte Beschriftungen
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"` // optionale zusätzliche Übersetzungsdateien
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration, z.B. FACEBOOTH_TRACKING_LOSS_MISS_COUNT=1
	v.SetEnvPrefix("FACEBOOTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Tracking.SelectionPolicy = strings.ToLower(cfg.Tracking.SelectionPolicy)

	if err := cfg.Tracking.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracking config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/facebooth.log")

	v.SetDefault("db.file", "/data/facebooth.db")

	v.SetDefault("opencv.camera_index", 0)
	v.SetDefault("opencv.frame_width", 640)
	v.SetDefault("opencv.frame_height", 480)
	v.SetDefault("opencv.frame_interval_ms", 10)
	v.SetDefault("opencv.model_path", "/models/face_detection_yunet_2023mar.onnx")
	v.SetDefault("opencv.score_threshold", 0.5)
	v.SetDefault("opencv.nms_threshold", 0.3)
	v.SetDefault("opencv.top_k", 5000)
	v.SetDefault("opencv.use_gpu", false)

	v.SetDefault("backend.provider", "http")
	v.SetDefault("backend.url", "http://localhost:3000")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("backend.workers", 5)
	v.SetDefault("backend.queue_size", 10)
	v.SetDefault("backend.local_sprite_dir", "/data/sprites")

	v.SetDefault("tracking.bbox_multiplier", 1.5)
	v.SetDefault("tracking.jump_threshold_px", 100)
	v.SetDefault("tracking.min_face_size_px", 40)
	v.SetDefault("tracking.confirm_detection_count", 10)
	v.SetDefault("tracking.loss_miss_count", 10)
	v.SetDefault("tracking.update_interval_seconds", 30.0)
	v.SetDefault("tracking.auto_reset_enabled", false)
	v.SetDefault("tracking.frontal_threshold", 0.75)
	v.SetDefault("tracking.selection_policy", SelectCenter)
	v.SetDefault("tracking.crop_size", 100)
	v.SetDefault("tracking.buffer_rows", 12)
	v.SetDefault("tracking.buffer_cols", 19)
	v.SetDefault("tracking.min_buffered_frames", 4)
	v.SetDefault("tracking.retry_on_failure", true)
	v.SetDefault("tracking.max_submit_attempts", 3)
	v.SetDefault("tracking.notify_no_face", true)
	v.SetDefault("tracking.num_vids", 20)
	v.SetDefault("tracking.stability_window", 10)
	v.SetDefault("tracking.stability_threshold_px", 15.0)
	v.SetDefault("tracking.filter.frequency", 30.0)
	v.SetDefault("tracking.filter.min_cutoff", 0.001)
	v.SetDefault("tracking.filter.beta", 0.0001)
	v.SetDefault("tracking.filter.d_cutoff", 500.0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "facebooth")
	v.SetDefault("mqtt.topic_prefix", "facebooth")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval_hours", 24)

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.locales_dir", "")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" && cfg.DB.File != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
