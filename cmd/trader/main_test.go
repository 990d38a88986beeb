package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/pkg/exception"
)

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NotNil(t, cmd.Flags().Lookup("config"))
	env := cmd.Flags().Lookup("env")
	require.NotNil(t, env)
	assert.Equal(t, ".env", env.DefValue)
}

func TestRootCmdRejectsUnknownExchange(t *testing.T) {
	t.Setenv("EXCHANGE", "mtgox")
	t.Setenv("TradedPair", "BTC/EUR")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env", t.TempDir() + "/missing.env"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, exception.ErrUnknownExchange)
}
