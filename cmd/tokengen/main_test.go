package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_MintsFinalizerToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--sub", "billing", "--ttl", "2m"})
	require.NoError(t, cmd.Execute())

	raw := strings.TrimSpace(out.String())
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte("cli-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "billing", claims["sub"])
	assert.Equal(t, "FINALIZER", claims["role"])
	assert.Contains(t, errOut.String(), "expires ")
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
