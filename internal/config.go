package internal

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config carries the environment of the real-time layer.
type Config struct {
	WSBaseURL        string        `env:"WS_BASE_URL,required=true" validate:"required,url"`
	PubSubURL        string        `env:"PUBSUB_URL,required=true" validate:"required,url"`
	AuthEndpoint     string        `env:"BROADCAST_AUTH_ENDPOINT,required=true" validate:"required,url"`
	BearerToken      string        `env:"API_BEARER_TOKEN"`
	VendorID         string        `env:"VENDOR_ID"`
	ReconnectDelay   time.Duration `env:"RECONNECT_DELAY,default=3s"`
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT,default=60s"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
}

func (c Config) Validate() error {
	return validate.Struct(c)
}
