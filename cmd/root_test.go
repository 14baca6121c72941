package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitLogging_DefaultsToInfo(t *testing.T) {
	originalLevel := rootLogLevel
	defer func() { rootLogLevel = originalLevel }()

	rootLogLevel = "info"
	err := initLogging(rootCmd, nil)
	assert.NoError(t, err)
}

func TestInitLogging_AcceptsEveryKnownLevel(t *testing.T) {
	originalLevel := rootLogLevel
	defer func() { rootLogLevel = originalLevel }()

	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		rootLogLevel = level
		assert.NoError(t, initLogging(rootCmd, nil))
	}
}

func TestRootCmd_HasConfigAndLogLevelFlags(t *testing.T) {
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}
