package notify

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config defines the alerting configuration: the static recipient
// list, queue sizing and the delivery transports.
type Config struct {
	Recipients []string   `yaml:"recipients"`
	QueueSize  int        `yaml:"queue_size"`
	Workers    int        `yaml:"workers"`
	Template   string     `yaml:"template"`
	SMTP       SMTPConfig `yaml:"smtp"`
	WebhookURL string     `yaml:"webhook_url"`
}

// LoadConfig loads the alerting config from yaml or env. Ingestion has
// no request context, so recipients must be configured statically.
func LoadConfig() (Config, error) {
	cfg := Config{
		QueueSize: defaultQueueSize,
		Workers:   defaultWorkers,
	}

	if path := os.Getenv("ALERTING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Recipients) == 0 {
		cfg.Recipients = splitCSV(os.Getenv("ALERT_RECIPIENTS"))
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	}
	if cfg.SMTP.Host == "" {
		cfg.SMTP.Host = os.Getenv("SMTP_HOST")
		cfg.SMTP.Port = getenvIntDefault("SMTP_PORT", cfg.SMTP.Port)
		cfg.SMTP.From = os.Getenv("SMTP_FROM")
		cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
		cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
		cfg.SMTP.UseTLS = os.Getenv("SMTP_USE_TLS") == "true"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if len(cfg.Recipients) == 0 {
		return cfg, errors.New("alerting: no recipients configured")
	}
	if cfg.SMTP.Host == "" && cfg.WebhookURL == "" {
		return cfg, errors.New("alerting: no delivery channel configured")
	}
	return cfg, nil
}

// BuildChannel assembles the delivery channel stack from the config.
func (c Config) BuildChannel() (Channel, error) {
	var channels []Channel
	if c.SMTP.Host != "" {
		smtpChannel, err := NewSMTPChannel(c.SMTP)
		if err != nil {
			return nil, err
		}
		channels = append(channels, smtpChannel)
	}
	if c.WebhookURL != "" {
		webhookChannel, err := NewWebhookChannel(c.WebhookURL)
		if err != nil {
			return nil, err
		}
		channels = append(channels, webhookChannel)
	}
	if len(channels) == 0 {
		return nil, errors.New("alerting: no delivery channel configured")
	}
	if len(channels) == 1 {
		return channels[0], nil
	}
	return NewMultiChannel(channels...), nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
