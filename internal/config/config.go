package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, durations for the
// hold and sweep timings.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify customer JWTs

	AMQPURL string // RabbitMQ connection URL (optional; events disabled when empty)

	HoldTTL        time.Duration // how long a seat hold survives without payment
	SweepInterval  time.Duration // how often the expiry sweeper runs
	SweepBatchSize int           // leases reaped per sweep cycle

	GatewayBaseURL string // payment gateway base URL (optional; payments disabled when empty)
	GatewayAPIKey  string // API key sent on outbound gateway calls
	PaymentMethod  string // method label recorded on transactions, e.g. "BANK_QR"
	WebhookSecret  string // shared secret the gateway sends on webhooks
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),      // environment (dev/test/prod)
		Port:   must("APP_PORT"),     // port to bind the HTTP server
		DBUser: must("DB_USER"),      // database user
		DBPass: os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost: must("DB_HOST"),      // database host
		DBPort: must("DB_PORT"),      // database port
		DBName: must("DB_NAME"),      // database name

		JWTSecret: must("JWT_SECRET"), // secret used for verifying JWTs

		AMQPURL: os.Getenv("AMQP_URL"), // broker URL, optional

		HoldTTL:        time.Duration(intOr("HOLD_TTL_SEC", 300)) * time.Second,
		SweepInterval:  time.Duration(intOr("SWEEP_INTERVAL_SEC", 5)) * time.Second,
		SweepBatchSize: intOr("SWEEP_BATCH_SIZE", 100),

		GatewayBaseURL: os.Getenv("PAYMENT_GATEWAY_URL"),     // gateway base URL, optional
		GatewayAPIKey:  os.Getenv("PAYMENT_GATEWAY_API_KEY"), // key for outbound calls
		PaymentMethod:  strOr("PAYMENT_METHOD", "BANK_QR"),   // transaction method label
		WebhookSecret:  must("PAYMENT_WEBHOOK_SECRET"),       // shared webhook secret
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// intOr reads an optional integer variable, falling back to def when the
// variable is unset or malformed.
func intOr(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("invalid int for %s: %q, using %d", key, s, def)
		return def
	}
	return n
}

// strOr reads an optional string variable with a default.
func strOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
