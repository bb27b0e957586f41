package extract

import (
	"fmt"
	"net/url"

	"github.com/aluiziolira/go-fetch-images/models"
)

// ChannelProfile describes how to search one storefront and where its thumbnails live.
type ChannelProfile struct {
	// SearchURL holds a single %s verb for the query-escaped search string.
	SearchURL string
	// Selectors are tried in order; the first selector producing an image wins.
	Selectors []string
}

var channelProfiles = map[models.SalesChannel]ChannelProfile{
	models.ChannelNaver: {
		SearchURL: "https://search.shopping.naver.com/search/all?query=%s",
		Selectors: []string{
			"div.product_list_item img.thumbnail",
			"div[class*=product_item] img",
			"div[class*=basicList_img] img",
			"img[class*=thumbnail]",
		},
	},
	models.ChannelCoupang: {
		SearchURL: "https://www.coupang.com/np/search?q=%s",
		Selectors: []string{
			"li.search-product img.search-product-wrap-img",
			"li.search-product dt.image img",
			"li.search-product img",
		},
	},
	models.ChannelGmarket: {
		SearchURL: "https://browse.gmarket.co.kr/search?keyword=%s",
		Selectors: []string{
			"div.box__item-container img.image__item",
			"div.box__image img",
			"img.image__item",
		},
	},
	models.ChannelElevenSt: {
		SearchURL: "https://search.11st.co.kr/Search.tmall?kwd=%s",
		Selectors: []string{
			"div.c-card-item__thumb img",
			"div.c_prd_thumb img",
			"ul.c_listing img",
		},
	},
	models.ChannelAuction: {
		SearchURL: "https://browse.auction.co.kr/search?keyword=%s",
		Selectors: []string{
			"div.section--itemcard img.image--itemcard",
			"div.itemcard img",
			"img.image--itemcard",
		},
	},
}

// Profile returns the search profile registered for a channel.
func Profile(channel models.SalesChannel) (ChannelProfile, bool) {
	profile, ok := channelProfiles[channel]
	return profile, ok
}

// SearchURL renders the channel's search page URL for query.
func SearchURL(channel models.SalesChannel, query string) (string, error) {
	profile, ok := Profile(channel)
	if !ok {
		return "", fmt.Errorf("no search profile for channel %q", channel)
	}
	return fmt.Sprintf(profile.SearchURL, url.QueryEscape(query)), nil
}
