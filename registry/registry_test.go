package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{
			name:     "with credentials",
			username: "svc-deploy",
			password: "hunter2",
		},
		{
			name:     "without credentials",
			username: "",
			password: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.username, tt.password)
			assert.NotNil(t, client)
			assert.Equal(t, tt.username, client.username)
			assert.Equal(t, tt.password, client.password)
		})
	}
}

func TestClientInvalidReferences(t *testing.T) {
	client := NewClient("", "")

	invalidRepositories := []string{
		"",
		"invalid repo name",
		"UPPERCASE/repo",
		"repo:with:multiple:colons:tag",
	}

	for _, repo := range invalidRepositories {
		t.Run(repo, func(t *testing.T) {
			versions, err := client.ListVersions(repo, 1)
			assert.Error(t, err)
			assert.Nil(t, versions)

			exists, err := client.TagExists(repo, "latest")
			assert.Error(t, err)
			assert.False(t, exists)
		})
	}
}
