// Package extract selects candidate product image URLs from raw HTML.
package extract

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-fetch-images/models"
)

const (
	openGraphSelector  = `meta[property="og:image"]`
	socialCardSelector = `meta[name="twitter:image"], meta[property="twitter:image"]`
	allImagesSelector  = "img"

	defaultSelectorCacheSize = 128
)

// ItemImageSelectors are content-area selectors scanned before falling back to every <img>.
var ItemImageSelectors = []string{
	"img.product-image",
	"img.item-image",
	"img[itemprop=image]",
	".product-detail img",
	".item-detail img",
	".product-images img",
}

var (
	itemImageAttrs    = []string{"src", "data-src", "data-original"}
	channelImageAttrs = []string{"data-src", "src", "data-original"}
)

// Engine runs the extraction priority chain. Compiled selectors are cached,
// which makes an Engine safe to share between goroutines.
type Engine struct {
	selectors *lru.Cache[string, cascadia.Selector]
}

// NewEngine builds an engine whose selector cache holds up to cacheSize entries.
func NewEngine(cacheSize int) *Engine {
	if cacheSize <= 0 {
		cacheSize = defaultSelectorCacheSize
	}
	cache, err := lru.New[string, cascadia.Selector](cacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(fmt.Sprintf("extract: selector cache: %v", err))
	}
	return &Engine{selectors: cache}
}

// SelectRepresentativeImages walks og:image, twitter:image and then generic item
// images, returning at most maxCount distinct URLs in that order.
func (e *Engine) SelectRepresentativeImages(html string, maxCount int) []string {
	if maxCount <= 0 {
		return nil
	}
	doc, err := parse(html)
	if err != nil {
		slog.Warn("parse html", slog.Any("error", err))
		return nil
	}

	images := make([]string, 0, maxCount)
	add := func(u string) {
		if u == "" || len(images) >= maxCount || slices.Contains(images, u) {
			return
		}
		images = append(images, u)
	}

	add(e.metaContent(doc, openGraphSelector))
	add(e.metaContent(doc, socialCardSelector))

	if len(images) < maxCount {
		for _, u := range e.itemImages(doc) {
			if len(images) >= maxCount {
				break
			}
			add(u)
		}
	}

	slog.Debug("selected representative images", slog.Int("count", len(images)))
	return images
}

// ItemImages returns the distinct generic images that pass the image heuristic.
func (e *Engine) ItemImages(html string) []string {
	doc, err := parse(html)
	if err != nil {
		return nil
	}
	return e.itemImages(doc)
}

// ExtractChannelImages applies the channel's selector fallbacks to a search
// results page. The caller truncates.
func (e *Engine) ExtractChannelImages(channel models.SalesChannel, html string) []string {
	profile, ok := Profile(channel)
	if !ok {
		slog.Warn("no search profile for channel", slog.String("channel", string(channel)))
		return nil
	}
	doc, err := parse(html)
	if err != nil {
		slog.Warn("parse search html", slog.String("channel", string(channel)), slog.Any("error", err))
		return nil
	}

	for _, selector := range profile.Selectors {
		sel := e.find(doc, selector)
		if sel.Length() == 0 {
			continue
		}
		var images []string
		sel.Each(func(_ int, s *goquery.Selection) {
			if u := firstAttr(s, channelImageAttrs); IsCandidateImageURL(u) {
				images = append(images, u)
			}
		})
		if len(images) > 0 {
			slog.Debug("channel selector matched",
				slog.String("channel", string(channel)),
				slog.String("selector", selector),
				slog.Int("count", len(images)),
			)
			return images
		}
	}
	return nil
}

// IsCandidateImageURL filters tracking pixels, icons and logos out of generic matches.
func IsCandidateImageURL(u string) bool {
	if strings.TrimSpace(u) == "" {
		return false
	}
	lower := strings.ToLower(u)
	for _, marker := range []string{"1x1", "pixel", "tracking", "icon", "logo."} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return strings.HasPrefix(lower, "http") || strings.HasPrefix(lower, "/")
}

func (e *Engine) itemImages(doc *goquery.Document) []string {
	var nodes *goquery.Selection
	for _, selector := range ItemImageSelectors {
		sel := e.find(doc, selector)
		if sel.Length() == 0 {
			continue
		}
		if nodes == nil {
			nodes = sel
		} else {
			nodes = nodes.AddSelection(sel)
		}
	}
	if nodes != nil {
		if images := candidateImages(nodes); len(images) > 0 {
			return images
		}
	}
	return candidateImages(e.find(doc, allImagesSelector))
}

func candidateImages(nodes *goquery.Selection) []string {
	var images []string
	nodes.Each(func(_ int, s *goquery.Selection) {
		u := firstAttr(s, itemImageAttrs)
		if IsCandidateImageURL(u) && !slices.Contains(images, u) {
			images = append(images, u)
		}
	})
	return images
}

func (e *Engine) metaContent(doc *goquery.Document, selector string) string {
	content, _ := e.find(doc, selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func (e *Engine) find(doc *goquery.Document, selector string) *goquery.Selection {
	if compiled, ok := e.selectors.Get(selector); ok {
		return doc.FindMatcher(compiled)
	}
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		slog.Error("invalid selector", slog.String("selector", selector), slog.Any("error", err))
		return doc.Selection.Slice(0, 0)
	}
	e.selectors.Add(selector, compiled)
	return doc.FindMatcher(compiled)
}

func firstAttr(s *goquery.Selection, attrs []string) string {
	for _, name := range attrs {
		if v := strings.TrimSpace(s.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
