package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        string
	Env         string
	CreditsDSN  string
	AICredits   int
	AllowOrigin string
}

// FromEnv reads configuration from the environment. A CREDITS_DSN selects
// the Postgres-backed credit ledger; without one the in-memory gate is used.
func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8000")
	c.Env = getenv("ENV", "development")
	c.CreditsDSN = os.Getenv("CREDITS_DSN")
	c.AICredits = getint("DEFAULT_AI_CREDITS", 30)
	c.AllowOrigin = os.Getenv("ALLOW_ORIGIN")
	return c
}

func (c Config) Production() bool { return c.Env == "production" }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
