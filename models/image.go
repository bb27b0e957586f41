// Package models defines the request, response and error types of the image fetcher.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SalesChannel identifies a storefront whose search results can be scanned for images.
type SalesChannel string

// Supported storefronts. Each one needs a profile in the extract package.
const (
	ChannelNaver    SalesChannel = "NAVER"
	ChannelCoupang  SalesChannel = "COUPANG"
	ChannelGmarket  SalesChannel = "GMARKET"
	ChannelElevenSt SalesChannel = "ELEVENST"
	ChannelAuction  SalesChannel = "AUCTION"
)

// SalesChannels lists every supported channel in declaration order.
func SalesChannels() []SalesChannel {
	return []SalesChannel{ChannelNaver, ChannelCoupang, ChannelGmarket, ChannelElevenSt, ChannelAuction}
}

// ParseSalesChannel resolves a channel name case-insensitively.
func ParseSalesChannel(name string) (SalesChannel, error) {
	candidate := SalesChannel(strings.ToUpper(strings.TrimSpace(name)))
	for _, ch := range SalesChannels() {
		if ch == candidate {
			return ch, nil
		}
	}
	return "", fmt.Errorf("unsupported sales channel %q", name)
}

// Valid reports whether c is one of the supported channels.
func (c SalesChannel) Valid() bool {
	for _, ch := range SalesChannels() {
		if ch == c {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts any casing of a supported channel name.
func (c *SalesChannel) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sales channel must be a string: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		*c = ""
		return nil
	}
	parsed, err := ParseSalesChannel(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ImageSource tags which strategy produced an image.
type ImageSource string

const (
	SourceDirect        ImageSource = "DIRECT"
	SourceSalesURL      ImageSource = "SALES_URL"
	SourceChannelSearch ImageSource = "CHANNEL_SEARCH"
)

// UnknownResolution is reported when an image could not be decoded.
const UnknownResolution = "unknown"

// FetchRequest describes the item whose images should be resolved.
type FetchRequest struct {
	ItemName     string       `json:"itemName"`
	OptionName   string       `json:"optionName,omitempty"`
	ImageURL     string       `json:"imageUrl,omitempty"`
	SalesURL     string       `json:"salesUrl,omitempty"`
	SalesChannel SalesChannel `json:"salesChannel,omitempty"`
}

// NewFetchRequest builds a validated request.
func NewFetchRequest(itemName, optionName, imageURL, salesURL string, channel SalesChannel) (FetchRequest, error) {
	req := FetchRequest{
		ItemName:     itemName,
		OptionName:   optionName,
		ImageURL:     imageURL,
		SalesURL:     salesURL,
		SalesChannel: channel,
	}
	if err := req.Validate(); err != nil {
		return FetchRequest{}, err
	}
	return req, nil
}

// Validate checks the fields every request must carry.
func (r FetchRequest) Validate() error {
	if strings.TrimSpace(r.ItemName) == "" {
		return fmt.Errorf("itemName is required")
	}
	if r.SalesChannel != "" && !r.SalesChannel.Valid() {
		return fmt.Errorf("unsupported sales channel %q", r.SalesChannel)
	}
	return nil
}

// HasSalesChannel reports whether a channel search was requested.
func (r FetchRequest) HasSalesChannel() bool {
	return r.SalesChannel != ""
}

// ImageResult is one resolved image.
type ImageResult struct {
	URL           string      `json:"url"`
	Source        ImageSource `json:"source"`
	LoadingTimeMs int64       `json:"loadingTimeMs"`
	Resolution    string      `json:"resolution"`
	FileSizeBytes int64       `json:"fileSizeBytes"`
}

// FetchResponse is the pipeline output, ordered by strategy priority then discovery order.
type FetchResponse struct {
	TotalLoadingTimeMs int64         `json:"totalLoadingTimeMs"`
	Images             []ImageResult `json:"images"`
}
