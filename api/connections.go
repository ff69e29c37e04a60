package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Connection is the slice of a connection asset the transfer layer
// needs: the datasource type asset id and the connection properties.
type Connection struct {
	ID             string
	Name           string
	DatasourceType string
	Properties     map[string]string
}

// DatasourceType is one entry of the platform's type catalog.
type DatasourceType struct {
	AssetID string
	Name    string
	Kind    string
}

// Attachment resolves a data asset to the connection it rides on.
// Managed assets carry no connection; they expose the stored file
// through HandleKey instead.
type Attachment struct {
	ConnectionID          string
	ConnectionPath        string
	DatasourceType        string
	HandleKey             string
	InteractionProperties map[string]string
}

// GetConnection fetches a connection asset by id.
func (c *Client) GetConnection(ctx context.Context, id string) (*Connection, error) {
	var doc struct {
		Metadata struct {
			AssetID string `json:"asset_id"`
		} `json:"metadata"`
		Entity struct {
			Name           string         `json:"name"`
			DatasourceType string         `json:"datasource_type"`
			Properties     map[string]any `json:"properties"`
		} `json:"entity"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/connections/"+url.PathEscape(id), nil, nil, &doc); err != nil {
		return nil, err
	}
	connID := doc.Metadata.AssetID
	if connID == "" {
		connID = id
	}
	return &Connection{
		ID:             connID,
		Name:           doc.Entity.Name,
		DatasourceType: doc.Entity.DatasourceType,
		Properties:     stringProperties(doc.Entity.Properties),
	}, nil
}

// ListDatasourceTypes returns the type catalog. The catalog is fetched
// once and cached for the lifetime of the client; every read operation
// consults it.
func (c *Client) ListDatasourceTypes(ctx context.Context) ([]DatasourceType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalog != nil {
		return c.catalog, nil
	}
	var doc struct {
		Resources []struct {
			Metadata struct {
				AssetID string `json:"asset_id"`
			} `json:"metadata"`
			Entity struct {
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"entity"`
		} `json:"resources"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/datasource_types", nil, nil, &doc); err != nil {
		return nil, err
	}
	catalog := make([]DatasourceType, 0, len(doc.Resources))
	for _, r := range doc.Resources {
		catalog = append(catalog, DatasourceType{
			AssetID: r.Metadata.AssetID,
			Name:    r.Entity.Name,
			Kind:    r.Entity.Type,
		})
	}
	c.catalog = catalog
	return c.catalog, nil
}

// TagForAsset returns the classification of a datasource type asset,
// e.g. "database" or "file". Unknown assets return "".
func (c *Client) TagForAsset(ctx context.Context, assetID string) (string, error) {
	types, err := c.ListDatasourceTypes(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range types {
		if t.AssetID == assetID {
			return t.Kind, nil
		}
	}
	return "", nil
}

// NameForAsset returns the remote type name of a datasource type asset,
// e.g. "postgresql". Unknown assets return "".
func (c *Client) NameForAsset(ctx context.Context, assetID string) (string, error) {
	types, err := c.ListDatasourceTypes(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range types {
		if t.AssetID == assetID {
			return t.Name, nil
		}
	}
	return "", nil
}

// GetAttachment resolves a data asset to its first attachment document.
// The attachment id comes from attachments[0].id, or from
// metadata.attachment_id on older assets.
func (c *Client) GetAttachment(ctx context.Context, assetID string) (*Attachment, error) {
	var asset struct {
		Metadata struct {
			AttachmentID string `json:"attachment_id"`
		} `json:"metadata"`
		Attachments []struct {
			ID string `json:"id"`
		} `json:"attachments"`
	}
	assetPath := "/v2/assets/" + url.PathEscape(assetID)
	if err := c.do(ctx, http.MethodGet, assetPath, nil, nil, &asset); err != nil {
		return nil, err
	}
	attID := asset.Metadata.AttachmentID
	if len(asset.Attachments) > 0 && asset.Attachments[0].ID != "" {
		attID = asset.Attachments[0].ID
	}
	if attID == "" {
		return nil, errors.New("api: data asset has no attachment")
	}
	var att struct {
		ConnectionID   string `json:"connection_id"`
		ConnectionPath string `json:"connection_path"`
		DatasourceType string `json:"datasource_type"`
		Handle         struct {
			Key string `json:"key"`
		} `json:"handle"`
		InteractionProperties map[string]any `json:"interaction_properties"`
	}
	if err := c.do(ctx, http.MethodGet, assetPath+"/attachments/"+url.PathEscape(attID), nil, nil, &att); err != nil {
		return nil, err
	}
	return &Attachment{
		ConnectionID:          att.ConnectionID,
		ConnectionPath:        att.ConnectionPath,
		DatasourceType:        att.DatasourceType,
		HandleKey:             att.Handle.Key,
		InteractionProperties: stringProperties(att.InteractionProperties),
	}, nil
}

// stringProperties flattens a JSON property bag to strings. Numbers and
// booleans keep their JSON spelling; anything nested is formatted.
func stringProperties(in map[string]any) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch v := v.(type) {
		case string:
			out[k] = v
		case bool:
			out[k] = strconv.FormatBool(v)
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
