package main

import (
	"errors"
	"fmt"
	"time"
)

type Settings struct {
	Port     int    `env:"PORT,default=8000"`
	BasePath string `env:"BASE_PATH,default=/crawlcast"`

	TickPeriod   time.Duration `env:"TICK_PERIOD,default=10s"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT,default=8s"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT,default=5s"`
	FanoutLimit  int           `env:"FANOUT_LIMIT,default=32"`

	OutboundBuffer       int    `env:"OUTBOUND_BUFFER,default=16"`
	ConnectionsPerSecond int    `env:"CONNECTIONS_PER_SECOND,default=20"`
	ConnectionsBurst     int    `env:"CONNECTIONS_BURST,default=40"`
	AllowedOrigins       string `env:"ALLOWED_ORIGINS,default=*"`

	SourceKind         string `env:"SOURCE_KIND,default=http"`
	SourceURL          string `env:"SOURCE_URL"`
	SourceSelector     string `env:"SOURCE_SELECTOR,default=div.data-class"`
	SourcePrefix       string `env:"SOURCE_PREFIX"`
	SourceEmptyPayload string `env:"SOURCE_EMPTY_PAYLOAD,default=no data found"`
	SourceUserAgent    string `env:"SOURCE_USER_AGENT,default=crawlcast/1.0"`
	SourceMaxBodyBytes int    `env:"SOURCE_MAX_BODY_BYTES,default=1048576"`
	SourceRedisKey     string `env:"SOURCE_REDIS_KEY,default=crawlcast:payload"`
	SourceField        string `env:"SOURCE_FIELD,default=payload"`
	RedisURL           string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	MongoDBURI         string `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	MongoDBDatabase    string `env:"MONGODB_DATABASE,default=crawlcast"`
	MongoDBCollection  string `env:"MONGODB_COLLECTION,default=snapshots"`

	BreakerFailures    int           `env:"BREAKER_FAILURES,default=5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT,default=30s"`

	LogEncoding string `env:"LOG_ENCODING,default=console"`
	LogFile     string `env:"LOG_FILE"`
}

// Validate reports every setting that would leave the process unable to run.
func (s Settings) Validate() error {
	var errs []error

	if s.TickPeriod <= 0 {
		errs = append(errs, fmt.Errorf("TICK_PERIOD must be positive, got %s", s.TickPeriod))
	}
	if s.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must not be negative, got %s", s.FetchTimeout))
	}
	// SEND_TIMEOUT also bounds every socket write.
	if s.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SEND_TIMEOUT must be positive, got %s", s.SendTimeout))
	}
	if s.FanoutLimit < 0 {
		errs = append(errs, fmt.Errorf("FANOUT_LIMIT must not be negative, got %d", s.FanoutLimit))
	}
	if s.OutboundBuffer < 0 {
		errs = append(errs, fmt.Errorf("OUTBOUND_BUFFER must not be negative, got %d", s.OutboundBuffer))
	}
	if s.ConnectionsPerSecond < 0 || s.ConnectionsBurst < 0 {
		errs = append(errs, errors.New("CONNECTIONS_PER_SECOND and CONNECTIONS_BURST must not be negative"))
	}
	if s.SourceMaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("SOURCE_MAX_BODY_BYTES must not be negative, got %d", s.SourceMaxBodyBytes))
	}
	if s.BreakerFailures < 1 {
		errs = append(errs, fmt.Errorf("BREAKER_FAILURES must be at least 1, got %d", s.BreakerFailures))
	}
	if s.BreakerOpenTimeout < 0 {
		errs = append(errs, fmt.Errorf("BREAKER_OPEN_TIMEOUT must not be negative, got %s", s.BreakerOpenTimeout))
	}

	return errors.Join(errs...)
}
