package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	c := FromEnv()
	assert.Equal(t, "8000", c.Port)
	assert.Equal(t, "development", c.Env)
	assert.Equal(t, 30, c.AICredits)
	assert.Empty(t, c.CreditsDSN)
	assert.False(t, c.Production())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("ENV", "production")
	t.Setenv("CREDITS_DSN", "postgres://localhost/avalon")
	t.Setenv("DEFAULT_AI_CREDITS", "5")

	c := FromEnv()
	assert.Equal(t, "9001", c.Port)
	assert.True(t, c.Production())
	assert.Equal(t, "postgres://localhost/avalon", c.CreditsDSN)
	assert.Equal(t, 5, c.AICredits)
}

func TestFromEnvBadIntFallsBack(t *testing.T) {
	t.Setenv("DEFAULT_AI_CREDITS", "plenty")
	assert.Equal(t, 30, FromEnv().AICredits)
}
