package image

import (
	"context"
	"fmt"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// dockerAPI is the part of the engine client DockerStore needs.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (dockerimage.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options dockerimage.PullOptions) (io.ReadCloser, error)
	Close() error
}

// DockerStore is a Store backed by the local container engine.
type DockerStore struct {
	docker dockerAPI
}

// NewDockerStore connects using the DOCKER_HOST style environment and
// negotiates the API version with the daemon.
func NewDockerStore() (*DockerStore, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerStore{docker: cli}, nil
}

func (s *DockerStore) Exists(ctx context.Context, ref Ref) (bool, error) {
	if _, err := s.docker.ImageInspect(ctx, ref.String()); err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image %q: %w", ref, err)
	}
	return true, nil
}

// Pull downloads ref and drains the progress stream; errors reported inside
// the stream fail the pull.
func (s *DockerStore) Pull(ctx context.Context, ref Ref) error {
	rc, err := s.docker.ImagePull(ctx, ref.String(), dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	defer func() { _ = rc.Close() }()
	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	return nil
}

func (s *DockerStore) Close() error { return s.docker.Close() }
