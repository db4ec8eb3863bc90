package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialService_VerifyKnownUser(t *testing.T) {
	creds := NewCredentialService()
	require.NoError(t, creds.AddUser("alice", "SecureP@ss123"))

	assert.True(t, creds.Verify("alice", "SecureP@ss123"))
	assert.False(t, creds.Verify("alice", "wrong-password"))
}

func TestCredentialService_UnknownUserFails(t *testing.T) {
	creds := NewCredentialService()

	assert.False(t, creds.Verify("nobody", "anything"))
}

func TestCredentialService_UsernameNormalization(t *testing.T) {
	creds := NewCredentialService()
	require.NoError(t, creds.AddUser("Alice", "SecureP@ss123"))

	assert.True(t, creds.Verify("  alice  ", "SecureP@ss123"))
	assert.True(t, creds.Verify("ALICE", "SecureP@ss123"))
}

func TestCredentialService_RejectsEmptyPassword(t *testing.T) {
	creds := NewCredentialService()

	assert.Error(t, creds.AddUser("alice", ""))
}
