// Package post defines the blog documents returned by the CMS.
package post

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// cmsTimeLayout is the timestamp layout the CMS uses ("+0000" offsets).
const cmsTimeLayout = "2006-01-02T15:04:05-0700"

// Timestamp is a publication time as sent by the CMS.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts both the CMS layout and RFC 3339.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	for _, layout := range []string{cmsTimeLayout, time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", s)
}

// MarshalJSON writes the timestamp in the CMS layout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(cmsTimeLayout) + `"`), nil
}

// Summary is a post as it appears in the listing page.
type Summary struct {
	UID                  string      `json:"uid"`
	FirstPublicationDate *Timestamp  `json:"first_publication_date"`
	Data                 SummaryData `json:"data"`
}

// SummaryData holds the listing fields of a post.
type SummaryData struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Author   string `json:"author"`
}

// Detail is a full post document.
type Detail struct {
	UID                  string     `json:"uid"`
	FirstPublicationDate *Timestamp `json:"first_publication_date"`
	Data                 DetailData `json:"data"`
}

// DetailData holds the content fields of a post.
type DetailData struct {
	Title   string    `json:"title"`
	Banner  Banner    `json:"banner"`
	Author  string    `json:"author"`
	Content []Section `json:"content"`
}

// Banner is the post header image.
type Banner struct {
	URL string `json:"url"`
}

// Section is one heading followed by its body blocks.
type Section struct {
	Heading string  `json:"heading"`
	Body    []Block `json:"body"`
}

// Block is a single text block of a section body.
type Block struct {
	Text string `json:"text"`
}

// Pagination is one page of a CMS search response.
// NextPage is empty when there are no further pages.
type Pagination struct {
	Page             int       `json:"page"`
	ResultsPerPage   int       `json:"results_per_page"`
	TotalResultsSize int       `json:"total_results_size"`
	TotalPages       int       `json:"total_pages"`
	NextPage         string    `json:"next_page"`
	Results          []Summary `json:"results"`
}

// HasNextPage reports whether the CMS advertised another page.
func (p *Pagination) HasNextPage() bool {
	return p.NextPage != ""
}

// MarshalJSON writes an empty NextPage as null, as the CMS does.
func (p Pagination) MarshalJSON() ([]byte, error) {
	type fields Pagination
	wire := struct {
		fields
		NextPage *string `json:"next_page"`
	}{fields: fields(p)}
	if p.HasNextPage() {
		wire.NextPage = &p.NextPage
	}
	return json.Marshal(wire)
}
