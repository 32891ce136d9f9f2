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

// classicAdapter collects one classic-API object type: list the ids
// under /JSSResource/<endpoint>, fetch each object's detail and emit
// one canonical JSON payload per object. The simple classic collectors
// differ only in endpoint and JSON wrapper keys, so they share this
// implementation.
type classicAdapter struct {
	name string
	// endpoint under /JSSResource, also used for the detail fetch.
	endpoint string
	// listKey wraps the id/name array in the listing response.
	listKey string
	// detailKey wraps the object in the detail response.
	detailKey string
	// label is the human noun used in log lines.
	label string
}

func (a *classicAdapter) Name() string     { return a.name }
func (a *classicAdapter) Category() string { return a.name }

func (a *classicAdapter) Collect(ctx context.Context, clients *jamf.Clients) (*Result, error) {
	var listing map[string][]struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := clients.Classic.Get(ctx, &listing, a.endpoint); err != nil {
		return nil, fmt.Errorf("listing %ss: %w", a.label, err)
	}

	result := &Result{SourceName: a.name}
	for _, entry := range listing[a.listKey] {
		id := strconv.Itoa(entry.ID)

		var detail map[string]json.RawMessage
		err := clients.Classic.Get(ctx, &detail, a.endpoint, "id", id)
		if err != nil {
			// An object deleted between listing and fetch is a
			// recoverable per-item gap, anything else fails the
			// whole source.
			var apiErr *jamf.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				logging.Warn(a.name, "%s %s vanished during fetch, skipping", a.label, id)
				continue
			}
			return nil, fmt.Errorf("fetching %s %s: %w", a.label, id, err)
		}

		payload, err := canonicalJSON(detail[a.detailKey])
		if err != nil {
			logging.Warn(a.name, "skipping %s %s: %v", a.label, id, err)
			continue
		}

		result.Items = append(result.Items, ObservedItem{
			DisplayName: entry.Name,
			Identity:    id,
			Path:        ItemPath(a.Category(), id, ".json"),
			Payload:     payload,
		})
	}
	return result, nil
}

// NewComputerExtensionAttributes tracks
// /JSSResource/computerextensionattributes.
func NewComputerExtensionAttributes() Adapter {
	return &classicAdapter{
		name:      "computerextensionattributes",
		endpoint:  "computerextensionattributes",
		listKey:   "computer_extension_attributes",
		detailKey: "computer_extension_attribute",
		label:     "extension attribute",
	}
}

// NewDirectoryBindings tracks /JSSResource/directorybindings.
func NewDirectoryBindings() Adapter {
	return &classicAdapter{
		name:      "directorybindings",
		endpoint:  "directorybindings",
		listKey:   "directory_bindings",
		detailKey: "directory_binding",
		label:     "directory binding",
	}
}

// NewAdvancedComputerSearches tracks
// /JSSResource/advancedcomputersearches.
func NewAdvancedComputerSearches() Adapter {
	return &classicAdapter{
		name:      "advancedcomputersearches",
		endpoint:  "advancedcomputersearches",
		listKey:   "advanced_computer_searches",
		detailKey: "advanced_computer_search",
		label:     "advanced search",
	}
}
