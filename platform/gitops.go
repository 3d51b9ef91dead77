package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"gopkg.in/yaml.v3"

	"github.com/opsgate/releasegate/config"
	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/models"
)

const gitopsPollInterval = 10 * time.Second

// RolloutProbe observes the managed service directly, since a gitops commit
// alone says nothing about whether the new release is actually running.
type RolloutProbe interface {
	DeployedVersion(ctx context.Context) (string, error)
	Ready(ctx context.Context) (bool, error)
}

// GitOps deploys by rewriting the image tag in the service manifest and
// pushing a commit; the cluster's reconciler applies it. Rollback restores
// the snapshotted tag with a revert commit.
type GitOps struct {
	repoURL        string
	branch         string
	localPath      string
	username       string
	token          string
	authorName     string
	authorEmail    string
	signingKeyPath string
	manifestPath   func(service string) string
	probeFor       func(service string) RolloutProbe
	clock          gate.Clock
	repo           *git.Repository
}

// NewGitOps clones or opens the gitops repository. manifestPath maps a
// service name to its manifest file inside the repo; probeFor resolves the
// service's rollout probe.
func NewGitOps(cfg *config.GitOpsConfig, manifestPath func(service string) string, probeFor func(service string) RolloutProbe) (*GitOps, error) {
	g := &GitOps{
		repoURL:        cfg.RepositoryURL,
		branch:         cfg.Branch,
		localPath:      cfg.LocalPath,
		username:       cfg.Username,
		token:          cfg.Token,
		authorName:     cfg.AuthorName,
		authorEmail:    cfg.AuthorEmail,
		signingKeyPath: cfg.SigningKeyPath,
		manifestPath:   manifestPath,
		probeFor:       probeFor,
		clock:          gate.SystemClock{},
	}

	if err := g.ensureRepo(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *GitOps) ensureRepo() error {
	if _, err := os.Stat(filepath.Join(g.localPath, ".git")); err == nil {
		repo, err := git.PlainOpen(g.localPath)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		g.repo = repo
		return g.pull()
	}

	repo, err := git.PlainClone(g.localPath, false, &git.CloneOptions{
		URL:           g.repoURL,
		Auth:          g.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(g.branch),
		SingleBranch:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	g.repo = repo
	return nil
}

func (g *GitOps) auth() *http.BasicAuth {
	return &http.BasicAuth{
		Username: g.username,
		Password: g.token,
	}
}

func (g *GitOps) pull() error {
	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = w.Pull(&git.PullOptions{
		Auth:          g.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(g.branch),
		SingleBranch:  true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to pull: %w", err)
	}

	return nil
}

// CurrentRelease snapshots the image tag currently committed for service.
func (g *GitOps) CurrentRelease(ctx context.Context, service string) (*gate.Release, error) {
	if err := g.pull(); err != nil {
		return nil, err
	}

	tag, err := g.readImageTag(g.manifestPath(service))
	if err != nil {
		return nil, err
	}

	head, err := g.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	return &gate.Release{Service: service, Version: tag, Ref: head.Hash().String()}, nil
}

// Apply rewrites the manifest's image tag and pushes a deploy commit.
func (g *GitOps) Apply(ctx context.Context, service, version string, strategy models.Strategy) (*gate.Release, error) {
	message := fmt.Sprintf("Deploy %s version %s (%s)\n\nDeployed at: %s",
		service, version, strategy, time.Now().Format(time.RFC3339))

	commit, err := g.updateImageTag(g.manifestPath(service), version, message)
	if err != nil {
		return nil, err
	}

	return &gate.Release{Service: service, Version: version, Ref: commit}, nil
}

// WaitForRollout polls the managed service until it reports the applied
// version as running.
func (g *GitOps) WaitForRollout(ctx context.Context, service string, timeout time.Duration) error {
	tag, err := g.readImageTag(g.manifestPath(service))
	if err != nil {
		return err
	}

	probe := g.probeFor(service)
	attempts := pollAttempts(timeout, gitopsPollInterval)
	err = gate.Poll(ctx, g.clock, attempts, gitopsPollInterval, func(ctx context.Context) (bool, error) {
		deployed, err := probe.DeployedVersion(ctx)
		if err != nil {
			// The service restarts during rollout; unreachable is expected.
			return false, nil
		}
		return deployed == tag, nil
	})
	if errors.Is(err, gate.ErrPollExhausted) {
		return fmt.Errorf("rollout not complete after %s", timeout)
	}
	return err
}

// WaitForReady polls the managed service's readiness endpoint.
func (g *GitOps) WaitForReady(ctx context.Context, service string, timeout time.Duration) error {
	probe := g.probeFor(service)
	attempts := pollAttempts(timeout, gitopsPollInterval)
	err := gate.Poll(ctx, g.clock, attempts, gitopsPollInterval, func(ctx context.Context) (bool, error) {
		ready, err := probe.Ready(ctx)
		if err != nil {
			return false, nil
		}
		return ready, nil
	})
	if errors.Is(err, gate.ErrPollExhausted) {
		return fmt.Errorf("replicas not ready after %s", timeout)
	}
	return err
}

// Rollback restores the snapshotted tag with a revert commit.
func (g *GitOps) Rollback(ctx context.Context, service string, snapshot *gate.Release) error {
	message := fmt.Sprintf("Rollback %s to version %s\n\nRestores: %s\nRolled back at: %s",
		service, snapshot.Version, snapshot.Ref, time.Now().Format(time.RFC3339))

	if _, err := g.updateImageTag(g.manifestPath(service), snapshot.Version, message); err != nil {
		return fmt.Errorf("failed to roll back to %s: %w", snapshot.Version, err)
	}
	return nil
}

// HasSigningCredential checks the sealed audit signing key manifest exists
// in the repo.
func (g *GitOps) HasSigningCredential(ctx context.Context) (bool, error) {
	if g.signingKeyPath == "" {
		return false, nil
	}
	if err := g.pull(); err != nil {
		return false, err
	}
	if _, err := os.Stat(filepath.Join(g.localPath, g.signingKeyPath)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *GitOps) readImageTag(manifestPath string) (string, error) {
	fullPath := filepath.Join(g.localPath, manifestPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest map[string]interface{}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse YAML: %w", err)
	}

	image, err := firstContainerImage(manifest)
	if err != nil {
		return "", err
	}

	parts := strings.Split(strings.Split(image, " ")[0], ":")
	if len(parts) < 2 {
		return "latest", nil
	}
	return parts[len(parts)-1], nil
}

func (g *GitOps) updateImageTag(manifestPath, newTag, message string) (string, error) {
	if err := g.pull(); err != nil {
		return "", err
	}

	fullPath := filepath.Join(g.localPath, manifestPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest map[string]interface{}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := setFirstContainerImageTag(manifest, newTag); err != nil {
		return "", err
	}

	newData, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(fullPath, newData, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	return g.commitAndPush(manifestPath, message)
}

func (g *GitOps) commitAndPush(manifestPath, message string) (string, error) {
	w, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	if _, err := w.Add(manifestPath); err != nil {
		return "", fmt.Errorf("failed to stage file: %w", err)
	}

	commit, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	err = g.repo.Push(&git.PushOptions{
		Auth: g.auth(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to push: %w", err)
	}

	return commit.String(), nil
}

// firstContainerImage walks a workload manifest (Deployment, StatefulSet or
// CronJob) to the first container's image reference.
func firstContainerImage(manifest map[string]interface{}) (string, error) {
	container, err := firstContainer(manifest)
	if err != nil {
		return "", err
	}
	image, ok := container["image"].(string)
	if !ok {
		return "", fmt.Errorf("no image found in manifest")
	}
	return image, nil
}

func setFirstContainerImageTag(manifest map[string]interface{}, newTag string) error {
	container, err := firstContainer(manifest)
	if err != nil {
		return err
	}
	currentImage, ok := container["image"].(string)
	if !ok {
		return fmt.Errorf("no image found in manifest")
	}

	newImage := retagImage(currentImage, newTag)

	// Preserve image policy marker if it exists
	if strings.Contains(currentImage, "# {\"$imagepolicy\"") {
		lines := strings.Split(currentImage, "#")
		if len(lines) > 1 {
			newImage = newImage + " # " + strings.TrimSpace(lines[1])
		}
	}

	container["image"] = newImage
	return nil
}

func firstContainer(manifest map[string]interface{}) (map[string]interface{}, error) {
	spec, ok := manifest["spec"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid manifest structure")
	}

	// CronJobs nest the pod template one level deeper.
	if jobTemplate, ok := spec["jobTemplate"].(map[string]interface{}); ok {
		spec, ok = jobTemplate["spec"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid manifest structure")
		}
	}

	template, ok := spec["template"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid manifest structure")
	}

	templateSpec, ok := template["spec"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid manifest structure")
	}

	containers, ok := templateSpec["containers"].([]interface{})
	if !ok || len(containers) == 0 {
		return nil, fmt.Errorf("no containers found")
	}

	container, ok := containers[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid container structure")
	}

	return container, nil
}
