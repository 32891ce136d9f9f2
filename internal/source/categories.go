package source

import (
	"context"
	"fmt"

	"jamfwatch/internal/jamf"
	"jamfwatch/internal/logging"
)

// Categories tracks /api/v1/categories.
type Categories struct{}

// NewCategories returns the categories adapter.
func NewCategories() *Categories { return &Categories{} }

func (c *Categories) Name() string     { return "categories" }
func (c *Categories) Category() string { return "categories" }

func (c *Categories) Collect(ctx context.Context, clients *jamf.Clients) (*Result, error) {
	raws, err := clients.Universal.GetAllPages(ctx, "v1", "categories", pageSize, "id:desc")
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}

	result := &Result{SourceName: c.Name()}
	for _, raw := range raws {
		id, err := stringField(raw, "id")
		if err != nil {
			logging.Warn(c.Name(), "skipping category with unreadable id: %v", err)
			continue
		}
		name, err := stringField(raw, "name")
		if err != nil {
			name = id
		}

		payload, err := canonicalJSON(raw)
		if err != nil {
			logging.Warn(c.Name(), "skipping category %s: %v", id, err)
			continue
		}

		result.Items = append(result.Items, ObservedItem{
			DisplayName: name,
			Identity:    id,
			Path:        ItemPath(c.Category(), id, ".json"),
			Payload:     payload,
		})
	}
	return result, nil
}
