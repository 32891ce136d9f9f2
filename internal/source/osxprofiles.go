package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"jamfwatch/internal/jamf"
	"jamfwatch/internal/logging"
)

// OSXProfiles tracks /JSSResource/osxconfigurationprofiles.
type OSXProfiles struct{}

// NewOSXProfiles returns the configuration profiles adapter.
func NewOSXProfiles() *OSXProfiles { return &OSXProfiles{} }

func (p *OSXProfiles) Name() string     { return "osxprofiles" }
func (p *OSXProfiles) Category() string { return "osxprofiles" }

type profileListing struct {
	Profiles []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"os_x_configuration_profiles"`
}

func (p *OSXProfiles) Collect(ctx context.Context, clients *jamf.Clients) (*Result, error) {
	var listing profileListing
	if err := clients.Classic.Get(ctx, &listing, "osxconfigurationprofiles"); err != nil {
		return nil, fmt.Errorf("listing configuration profiles: %w", err)
	}

	result := &Result{SourceName: p.Name()}
	for _, entry := range listing.Profiles {
		id := strconv.Itoa(entry.ID)

		var detail struct {
			Profile json.RawMessage `json:"os_x_configuration_profile"`
		}
		err := clients.Classic.Get(ctx, &detail, "osxconfigurationprofiles", "id", id)
		if err != nil {
			var apiErr *jamf.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				logging.Warn(p.Name(), "profile %s vanished during fetch, skipping", id)
				continue
			}
			return nil, fmt.Errorf("fetching configuration profile %s: %w", id, err)
		}

		payload, err := canonicalJSON(detail.Profile)
		if err != nil {
			logging.Warn(p.Name(), "skipping profile %s: %v", id, err)
			continue
		}

		result.Items = append(result.Items, ObservedItem{
			DisplayName: entry.Name,
			Identity:    id,
			Path:        ItemPath(p.Category(), id, ".json"),
			Payload:     payload,
		})
	}
	return result, nil
}
