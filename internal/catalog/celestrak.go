package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/skypass/skypass/internal/config"
)

// DefaultBaseURL is the CelesTrak general-perturbations endpoint.
const DefaultBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

// CelesTrakSource lists satellites for a bundle by querying CelesTrak.
// Bundles with a source_group fetch the whole group in one request; any
// configured norad_ids then narrow the result to that subset. Bundles
// with only explicit norad_ids are queried one catalog number at a time,
// which is how CelesTrak exposes individual objects.
type CelesTrakSource struct {
	BaseURL string
	Client  *http.Client
}

// NewCelesTrakSource returns a source with a sensible request timeout.
func NewCelesTrakSource() *CelesTrakSource {
	return &CelesTrakSource{
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// gpObject mirrors the fields we need from CelesTrak's JSON format.
type gpObject struct {
	ObjectName string `json:"OBJECT_NAME"`
	NoradCatID int    `json:"NORAD_CAT_ID"`
}

func (s *CelesTrakSource) ListEntities(ctx context.Context, bundle config.Bundle) ([]Entry, error) {
	if bundle.Kind == config.KindPlanetary {
		return nil, nil
	}

	byID := make(map[int]Entry)

	if bundle.SourceGroup != "" {
		objects, err := s.query(ctx, url.Values{
			"GROUP":  {bundle.SourceGroup},
			"FORMAT": {"JSON"},
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: fetch group %q: %w", bundle.SourceGroup, err)
		}
		for _, obj := range objects {
			byID[obj.NoradCatID] = Entry{NoradID: obj.NoradCatID, Name: obj.ObjectName}
		}
		if len(bundle.NoradIDs) > 0 {
			wanted := make(map[int]bool, len(bundle.NoradIDs))
			for _, id := range bundle.NoradIDs {
				wanted[id] = true
			}
			for id := range byID {
				if !wanted[id] {
					delete(byID, id)
				}
			}
		}
	} else {
		for _, id := range bundle.NoradIDs {
			objects, err := s.query(ctx, url.Values{
				"CATNR":  {fmt.Sprintf("%d", id)},
				"FORMAT": {"JSON"},
			})
			if err != nil {
				return nil, fmt.Errorf("catalog: fetch norad %d: %w", id, err)
			}
			for _, obj := range objects {
				byID[obj.NoradCatID] = Entry{NoradID: obj.NoradCatID, Name: obj.ObjectName}
			}
		}
	}

	entries := make([]Entry, 0, len(byID))
	for _, e := range byID {
		if e.Name == "" {
			e.Name = fmt.Sprintf("NORAD %d", e.NoradID)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].NoradID < entries[j].NoradID })
	return entries, nil
}

func (s *CelesTrakSource) query(ctx context.Context, params url.Values) ([]gpObject, error) {
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var objects []gpObject
	if err := json.Unmarshal(body, &objects); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return objects, nil
}
