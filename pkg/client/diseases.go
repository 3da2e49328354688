package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/turtacn/discovery-engine/internal/domain/target"
)

// DiseasesClient serves disease autocompletion.
type DiseasesClient struct {
	client *Client
}

type diseaseDTO struct {
	ID      flexString `json:"id"`
	Name    string     `json:"name"`
	Aliases []string   `json:"aliases,omitempty"`
}

// Suggest returns diseases matching query. Entries without a name are
// dropped.
func (d *DiseasesClient) Suggest(ctx context.Context, query string) ([]target.Disease, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	var raw []diseaseDTO
	if err := d.client.get(ctx, "/diseases/suggest/"+url.PathEscape(query), &raw); err != nil {
		return nil, err
	}
	out := make([]target.Disease, 0, len(raw))
	for _, r := range raw {
		dis := target.Disease{ID: string(r.ID), Name: strings.TrimSpace(r.Name), Aliases: r.Aliases}
		if dis.Name == "" {
			continue
		}
		if dis.ID == "" {
			dis.ID = dis.Name
		}
		out = append(out, dis)
	}
	return out, nil
}
