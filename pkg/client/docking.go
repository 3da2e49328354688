package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// DockingClient runs docking jobs, renders viewers and downloads structures.
type DockingClient struct {
	client *Client
}

type dockRequest struct {
	Structure string `json:"structure"`
	SMILES    string `json:"smiles"`
	NumPoses  int    `json:"num_poses"`
}

type dockResponse struct {
	Poses       []json.RawMessage `json:"poses"`
	Confidences []float64         `json:"confidences"`
	Status      string            `json:"status"`
	Message     string            `json:"message"`
}

// Dock submits a structure and ligand. The service status is carried into
// the result; interpreting it is the caller's job.
func (d *DockingClient) Dock(ctx context.Context, structure []byte, smiles string, params docking.Params) (*docking.Result, error) {
	req := dockRequest{Structure: string(structure), SMILES: smiles, NumPoses: params.NumPoses}
	var resp dockResponse
	if err := d.client.post(ctx, "/docking", req, &resp); err != nil {
		return nil, err
	}
	res := &docking.Result{
		Poses:       make([]docking.Pose, len(resp.Poses)),
		Confidences: resp.Confidences,
		Status:      docking.Status(resp.Status),
		Message:     resp.Message,
	}
	for i, raw := range resp.Poses {
		res.Poses[i] = docking.Pose{Index: i, Payload: raw}
	}
	if res.Status == "" {
		res.Status = docking.StatusSuccess
	}
	return res, nil
}

type renderRequest struct {
	Structure   string            `json:"structure"`
	Poses       []json.RawMessage `json:"poses"`
	Confidences []float64         `json:"confidences"`
}

// Render asks the service for an HTML viewer of the poses.
func (d *DockingClient) Render(ctx context.Context, structure []byte, poses []docking.Pose, confidences []float64) (*docking.Visualization, error) {
	req := renderRequest{Structure: string(structure), Poses: make([]json.RawMessage, len(poses)), Confidences: confidences}
	for i, p := range poses {
		req.Poses[i] = p.Payload
	}
	var resp struct {
		ViewerHTML string `json:"viewer_html"`
	}
	if err := d.client.post(ctx, "/docking/visualize", req, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ViewerHTML) == "" {
		return nil, errors.New(errors.ErrCodeExternalBadPayload, "visualization response has no viewer_html")
	}
	return &docking.Visualization{Format: "html", Payload: resp.ViewerHTML}, nil
}

// FetchStructure downloads {structure base}/{id}.pdb.
func (d *DockingClient) FetchStructure(ctx context.Context, structureID string) ([]byte, error) {
	structureID = strings.TrimSpace(structureID)
	if structureID == "" {
		return nil, errors.InvalidParam("structure id is required")
	}
	u := d.client.structureBase + "/" + url.PathEscape(strings.ToUpper(structureID)) + ".pdb"
	body, err := d.client.send(ctx, http.MethodGet, u, nil, "chemical/x-pdb, text/plain")
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New(errors.ErrCodeExternalBadPayload, "empty structure file").WithDetail(structureID)
	}
	return body, nil
}
