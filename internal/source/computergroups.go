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

// ComputerGroups tracks /JSSResource/computergroups through the classic
// API. It predates the ObservedItem form and still reports legacy file
// operations, which the reconciler normalizes at ingestion.
type ComputerGroups struct{}

// NewComputerGroups returns the computer groups adapter.
func NewComputerGroups() *ComputerGroups { return &ComputerGroups{} }

func (g *ComputerGroups) Name() string     { return "computergroups" }
func (g *ComputerGroups) Category() string { return "computergroups" }

type groupListing struct {
	ComputerGroups []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"computer_groups"`
}

func (g *ComputerGroups) Collect(ctx context.Context, clients *jamf.Clients) (*Result, error) {
	var listing groupListing
	if err := clients.Classic.Get(ctx, &listing, "computergroups"); err != nil {
		return nil, fmt.Errorf("listing computer groups: %w", err)
	}

	result := &Result{SourceName: g.Name(), Legacy: true}
	for _, entry := range listing.ComputerGroups {
		id := strconv.Itoa(entry.ID)

		var detail struct {
			ComputerGroup json.RawMessage `json:"computer_group"`
		}
		err := clients.Classic.Get(ctx, &detail, "computergroups", "id", id)
		if err != nil {
			// A group deleted between listing and fetch is a
			// recoverable per-item gap, anything else fails the
			// whole source.
			var apiErr *jamf.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				logging.Warn(g.Name(), "group %s vanished during fetch, skipping", id)
				continue
			}
			return nil, fmt.Errorf("fetching computer group %s: %w", id, err)
		}

		payload, err := canonicalJSON(detail.ComputerGroup)
		if err != nil {
			logging.Warn(g.Name(), "skipping group %s: %v", id, err)
			continue
		}

		result.Ops = append(result.Ops, FileOp{
			Path:    ItemPath(g.Category(), id, ".json"),
			Module:  g.Name(),
			Item:    entry.Name,
			Op:      OpAdded,
			Payload: payload,
		})
	}
	return result, nil
}
