package obs

import (
	"context"
	"fmt"
)

// obs-websocket RequestStatus codes the controller branches on.
const (
	codeOutputRunning         = 500
	codeOutputNotRunning      = 501
	codeResourceNotFound      = 600
	codeResourceAlreadyExists = 601
)

// RequestError is a protocol-level rejection from obs-websocket. The request
// reached the recorder but was refused; the connection stays usable.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s rejected (code %d): %s", e.RequestType, e.Code, e.Comment)
}

// AlreadyExists reports that the refused operation would have created a
// resource that is already present.
func (e *RequestError) AlreadyExists() bool { return e.Code == codeResourceAlreadyExists }

// NotFound reports that the operation referenced a missing resource.
func (e *RequestError) NotFound() bool { return e.Code == codeResourceNotFound }

// BenignOutputState reports a start-while-running or stop-while-stopped
// rejection; the desired end state already holds.
func (e *RequestError) BenignOutputState() bool {
	return e.Code == codeOutputRunning || e.Code == codeOutputNotRunning
}

// SceneItem is one source inside a scene.
type SceneItem struct {
	ID      int    `json:"sceneItemId"`
	Name    string `json:"sourceName"`
	Enabled bool   `json:"sceneItemEnabled"`
}

// SceneItems lists the items of a scene with their enabled flags.
func (c *Client) SceneItems(ctx context.Context, scene string) ([]SceneItem, error) {
	var resp struct {
		SceneItems []SceneItem `json:"sceneItems"`
	}
	err := c.call(ctx, "GetSceneItemList", map[string]any{"sceneName": scene}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.SceneItems, nil
}

// CreateInput creates an enabled capture input bound to the given device in
// the scene.
func (c *Client) CreateInput(ctx context.Context, scene, name, kind, deviceID string) error {
	return c.call(ctx, "CreateInput", map[string]any{
		"sceneName":        scene,
		"inputName":        name,
		"inputKind":        kind,
		"inputSettings":    map[string]any{"device_id": deviceID},
		"sceneItemEnabled": true,
	}, nil)
}

// RemoveInput removes an input by name.
func (c *Client) RemoveInput(ctx context.Context, name string) error {
	return c.call(ctx, "RemoveInput", map[string]any{"inputName": name}, nil)
}

// SetInputEnabled toggles the named input's scene item. obs-websocket
// addresses scene items by id, so the name is resolved first.
func (c *Client) SetInputEnabled(ctx context.Context, scene, name string, enabled bool) error {
	items, err := c.SceneItems(ctx, scene)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.Name != name {
			continue
		}
		return c.call(ctx, "SetSceneItemEnabled", map[string]any{
			"sceneName":        scene,
			"sceneItemId":      item.ID,
			"sceneItemEnabled": enabled,
		}, nil)
	}

	return &RequestError{
		RequestType: "SetSceneItemEnabled",
		Code:        codeResourceNotFound,
		Comment:     fmt.Sprintf("no scene item named %q in scene %q", name, scene),
	}
}

// StartRecording starts the record output.
func (c *Client) StartRecording(ctx context.Context) error {
	return c.call(ctx, "StartRecord", nil, nil)
}

// StopRecording stops the record output.
func (c *Client) StopRecording(ctx context.Context) error {
	return c.call(ctx, "StopRecord", nil, nil)
}

// RecordingActive queries whether the record output is running.
func (c *Client) RecordingActive(ctx context.Context) (bool, error) {
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.call(ctx, "GetRecordStatus", nil, &resp); err != nil {
		return false, err
	}
	return resp.OutputActive, nil
}
