// Package registry verifies that requested release versions exist in the
// image registry before the platform is asked to roll them out.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ImageVersion is one published tag with its metadata.
type ImageVersion struct {
	Tag       string `json:"tag"`
	Digest    string `json:"digest"`
	CreatedAt string `json:"created_at"`
}

// Verifier resolves and verifies image tags.
type Verifier interface {
	TagExists(repository, tag string) (bool, error)
	ListVersions(repository string, limit int) ([]ImageVersion, error)
}

// Client talks to a Docker-compatible registry.
type Client struct {
	username string
	password string
}

func NewClient(username, password string) *Client {
	return &Client{
		username: username,
		password: password,
	}
}

func (c *Client) options() []remote.Option {
	if c.username != "" && c.password != "" {
		return []remote.Option{remote.WithAuth(&authn.Basic{
			Username: c.username,
			Password: c.password,
		})}
	}
	// Default keychain covers public repos and docker config credentials.
	return []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}
}

// TagExists checks whether the given tag is published for the repository.
func (c *Client) TagExists(repository, tag string) (bool, error) {
	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repository, tag))
	if err != nil {
		return false, fmt.Errorf("invalid reference: %w", err)
	}

	_, err = remote.Head(ref, c.options()...)
	if err != nil {
		if strings.Contains(err.Error(), "MANIFEST_UNKNOWN") || strings.Contains(err.Error(), "NOT_FOUND") {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// ListVersions lists published tags with creation metadata, newest first.
func (c *Client) ListVersions(repository string, limit int) ([]ImageVersion, error) {
	ref, err := name.ParseReference(repository)
	if err != nil {
		return nil, fmt.Errorf("invalid repository: %w", err)
	}

	repo := ref.Context()
	opts := c.options()

	tags, err := remote.List(repo, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	var versions []ImageVersion
	count := 0
	for _, tag := range tags {
		if limit > 0 && count >= limit {
			break
		}
		if strings.HasPrefix(tag, "sha256:") {
			continue
		}

		tagRef, err := name.NewTag(fmt.Sprintf("%s:%s", repo.String(), tag))
		if err != nil {
			continue
		}

		img, err := remote.Image(tagRef, opts...)
		if err != nil {
			continue
		}

		digest, err := img.Digest()
		if err != nil {
			continue
		}

		configFile, err := img.ConfigFile()
		if err != nil {
			continue
		}

		versions = append(versions, ImageVersion{
			Tag:       tag,
			Digest:    digest.String(),
			CreatedAt: configFile.Created.Time.Format("2006-01-02T15:04:05Z07:00"),
		})
		count++
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt > versions[j].CreatedAt
	})

	return versions, nil
}
