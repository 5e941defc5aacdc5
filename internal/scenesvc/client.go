// Package scenesvc is a REST client of the collision scene service.
package scenesvc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/robofit/arcor2-sub003/internal/scene"
)

const DefaultTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the scene service. It satisfies runtime.CollisionScene.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// APIError is returned for a non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scene service: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := resty.New().
		SetBaseURL(opts.URL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c, logger: logger.With("component", "scenesvc")}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) do(ctx context.Context, method, path string, req *resty.Request) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return fmt.Errorf("scene service: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.String()}
	}
	c.logger.Debug("request done", "method", method, "path", path, "status", resp.StatusCode())
	return nil
}

// Start starts the scene (the motion planning environment).
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, resty.MethodPut, "/system/start", c.http.R())
}

// Stop stops the scene.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, resty.MethodPut, "/system/stop", c.http.R())
}

// Started reports whether the scene is running.
func (c *Client) Started(ctx context.Context) (bool, error) {
	var running bool
	if err := c.do(ctx, resty.MethodGet, "/system/running", c.http.R().SetResult(&running)); err != nil {
		return false, err
	}
	return running, nil
}

// UpsertCollision adds or replaces the collision object identified by the
// model id.
func (c *Client) UpsertCollision(ctx context.Context, m scene.Model, pose scene.Pose) error {
	req := c.http.R().SetBody(pose)
	var path string
	switch v := m.(type) {
	case *scene.Box:
		path = "/collisions/box"
		req.SetQueryParams(map[string]string{
			"boxId": v.ID,
			"sizeX": ftoa(v.SizeX),
			"sizeY": ftoa(v.SizeY),
			"sizeZ": ftoa(v.SizeZ),
		})
	case *scene.Sphere:
		path = "/collisions/sphere"
		req.SetQueryParams(map[string]string{
			"sphereId": v.ID,
			"radius":   ftoa(v.Radius),
		})
	case *scene.Cylinder:
		path = "/collisions/cylinder"
		req.SetQueryParams(map[string]string{
			"cylinderId": v.ID,
			"radius":     ftoa(v.Radius),
			"height":     ftoa(v.Height),
		})
	case *scene.Mesh:
		path = "/collisions/mesh"
		req.SetQueryParams(map[string]string{
			"meshId":     v.ID,
			"meshFileId": v.DataID,
		})
	default:
		return fmt.Errorf("scene service: unsupported model %T", m)
	}
	return c.do(ctx, resty.MethodPut, path, req)
}

// CollisionIDs lists the ids of registered collision objects.
func (c *Client) CollisionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.do(ctx, resty.MethodGet, "/collisions", c.http.R().SetResult(&ids)); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteCollision removes one collision object.
func (c *Client) DeleteCollision(ctx context.Context, id string) error {
	req := c.http.R().SetPathParam("id", id)
	return c.do(ctx, resty.MethodDelete, "/collisions/{id}", req)
}

// DeleteAllCollisions removes every registered collision object.
func (c *Client) DeleteAllCollisions(ctx context.Context) error {
	ids, err := c.CollisionIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.DeleteCollision(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
