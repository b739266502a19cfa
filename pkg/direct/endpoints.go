package direct

import (
	"net/url"
	"strings"
)

const (
	// BaseURL is the web host the direct path talks to
	BaseURL = "https://www.tiktok.com"

	// DefaultCount is the page size the web app asks for
	DefaultCount = 30
)

// Endpoint is the shape of one internal web API call
type Endpoint struct {
	Name string
	Path string
}

var (
	EndpointUserDetail     = Endpoint{Name: "user_detail", Path: "/api/user/detail/"}
	EndpointUserVideos     = Endpoint{Name: "user_videos", Path: "/api/post/item_list/"}
	EndpointComments       = Endpoint{Name: "comments", Path: "/api/comment/list/"}
	EndpointCommentReplies = Endpoint{Name: "comment_replies", Path: "/api/comment/list/reply/"}
	EndpointHashtagDetail  = Endpoint{Name: "hashtag_detail", Path: "/api/challenge/detail/"}
	EndpointHashtagVideos  = Endpoint{Name: "hashtag_videos", Path: "/api/challenge/item_list/"}
	EndpointRelatedVideos  = Endpoint{Name: "related_videos", Path: "/api/related/item_list/"}
	EndpointSearchVideos   = Endpoint{Name: "search_videos", Path: "/api/search/item/full/"}
	EndpointSearchUsers    = Endpoint{Name: "search_users", Path: "/api/search/user/full/"}
)

// Endpoints lists every known endpoint shape
func Endpoints() []Endpoint {
	return []Endpoint{
		EndpointUserDetail,
		EndpointUserVideos,
		EndpointComments,
		EndpointCommentReplies,
		EndpointHashtagDetail,
		EndpointHashtagVideos,
		EndpointRelatedVideos,
		EndpointSearchVideos,
		EndpointSearchUsers,
	}
}

// webAppParams are sent with every call, mirroring what the web app sends
var webAppParams = map[string]string{
	"aid":              "1988",
	"app_language":     "en",
	"app_name":         "tiktok_web",
	"browser_language": "en-US",
	"browser_name":     "Mozilla",
	"browser_online":   "true",
	"browser_platform": "Win32",
	"channel":          "tiktok_web",
	"cookie_enabled":   "true",
	"device_platform":  "web_pc",
	"focus_state":      "true",
	"from_page":        "user",
	"history_len":      "2",
	"is_fullscreen":    "false",
	"is_page_visible":  "true",
	"language":         "en",
	"os":               "windows",
	"priority_region":  "",
	"region":           "US",
	"screen_height":    "1080",
	"screen_width":     "1920",
	"tz_name":          "America/New_York",
	"webcast_language": "en",
}

// BuildURL renders the full URL for ep. Caller params override the web app
// defaults; the token fields are always set from tok.
func BuildURL(base string, ep Endpoint, params url.Values, tok Token, userAgent string) string {
	q := url.Values{}
	for k, v := range webAppParams {
		q.Set(k, v)
	}
	if userAgent != "" {
		if i := strings.Index(userAgent, "/"); i >= 0 {
			q.Set("browser_version", userAgent[i+1:])
		}
	}
	if tok.Cookies != nil {
		if id := tok.Cookies["tt_webid_v2"]; id != "" {
			q.Set("device_id", id)
		}
	}
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("msToken", tok.MsToken)
	if tok.VerifyFp != "" {
		q.Set("verifyFp", tok.VerifyFp)
	}
	return strings.TrimRight(base, "/") + ep.Path + "?" + q.Encode()
}
