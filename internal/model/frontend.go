package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// FrontendSearchRequest is the body a browser posts to the search endpoint.
type FrontendSearchRequest struct {
	SearchQuery        string  `json:"search_query"`
	MaxNumberOfResults int     `json:"max_number_of_results"`
	MinScore           float64 `json:"min_score"`
}

// UnmarshalJSON accepts a fractional max_number_of_results and truncates it
// toward zero. Values outside the 32-bit range are rejected.
func (r *FrontendSearchRequest) UnmarshalJSON(data []byte) error {
	type plain FrontendSearchRequest
	aux := struct {
		*plain
		MaxNumberOfResults json.Number `json:"max_number_of_results"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	n, err := resultCount(aux.MaxNumberOfResults)
	if err != nil {
		return err
	}
	r.MaxNumberOfResults = n
	return nil
}

func resultCount(num json.Number) (int, error) {
	if num == "" {
		return 0, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, fmt.Errorf("max_number_of_results: %w", err)
	}
	f = math.Trunc(f)
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("max_number_of_results %s out of range", num)
	}
	return int(f), nil
}

// FrontendSearchResponse is the shaped answer returned to the browser.
type FrontendSearchResponse struct {
	SearchResults     []SearchResultInfo `json:"search_results"`
	DocumentsLocation string             `json:"documents_location"`
}

type SearchResultInfo struct {
	Title     string `json:"title"`
	Extension string `json:"extension"`
	Score     int    `json:"score"`
}

// NewFrontendSearchResponse never leaves SearchResults nil so it encodes as [].
func NewFrontendSearchResponse(results []SearchResultInfo, documentsLocation string) FrontendSearchResponse {
	if results == nil {
		results = []SearchResultInfo{}
	}
	return FrontendSearchResponse{
		SearchResults:     results,
		DocumentsLocation: documentsLocation,
	}
}
