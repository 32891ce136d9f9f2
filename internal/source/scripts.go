package source

import (
	"context"
	"encoding/json"
	"fmt"

	"jamfwatch/internal/jamf"
	"jamfwatch/internal/logging"
)

const pageSize = 100

// Scripts tracks /api/v1/scripts. Each script is persisted as two
// payloads: the metadata object and the script body itself, so that
// diffs of the code are readable on their own.
type Scripts struct{}

// NewScripts returns the scripts adapter.
func NewScripts() *Scripts { return &Scripts{} }

func (s *Scripts) Name() string     { return "scripts" }
func (s *Scripts) Category() string { return "scripts" }

func (s *Scripts) Collect(ctx context.Context, clients *jamf.Clients) (*Result, error) {
	raws, err := clients.Universal.GetAllPages(ctx, "v1", "scripts", pageSize, "id:desc")
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}

	result := &Result{SourceName: s.Name()}
	for _, raw := range raws {
		id, err := stringField(raw, "id")
		if err != nil {
			logging.Warn(s.Name(), "skipping script with unreadable id: %v", err)
			continue
		}
		name, err := stringField(raw, "name")
		if err != nil {
			name = id
		}

		var body struct {
			Contents string `json:"scriptContents"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			logging.Warn(s.Name(), "skipping script %s: %v", id, err)
			continue
		}

		meta, err := canonicalJSON(raw, "scriptContents")
		if err != nil {
			logging.Warn(s.Name(), "skipping script %s: %v", id, err)
			continue
		}

		result.Items = append(result.Items,
			ObservedItem{
				DisplayName: name,
				Identity:    id + "/meta",
				Path:        ItemPath(s.Category(), id, ".json"),
				Payload:     meta,
			},
			ObservedItem{
				DisplayName: name,
				Identity:    id + "/body",
				Path:        ItemPath(s.Category(), id, ".script"),
				Payload:     []byte(body.Contents),
			},
		)
	}
	return result, nil
}
