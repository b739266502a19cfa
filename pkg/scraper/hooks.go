package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"tokscraper/pkg/capture"
	"tokscraper/pkg/direct"
	errs "tokscraper/pkg/errors"
)

const (
	loginCloseSelector  = `[data-e2e="modal-close-inner-button"]`
	refreshText         = "Refresh"
	commentListSelector = `[class*="DivCommentListContainer"]`
	replyToggleSelector = `[data-e2e^="view-more"]`

	accountMissingText = "Couldn't find this account"
	videoMissingText   = "Video currently unavailable"

	relatedCount = 16
)

var (
	rehydrationScript = regexp.MustCompile(`(?s)<script[^>]*id="__UNIVERSAL_DATA_FOR_REHYDRATION__"[^>]*>(.*?)</script>`)
	sigiScript        = regexp.MustCompile(`(?s)<script[^>]*id="SIGI_STATE"[^>]*>(.*?)</script>`)
)

// page is one normalized payload
type page struct {
	payload any
	items   int
	cursor  string
	hasMore bool
}

// hooks parameterize the fetch algorithm for one kind
type hooks struct {
	// endpoint is nil for kinds the direct path cannot serve
	endpoint *direct.Endpoint
	params   func(r Request, count int) url.Values
	// required keys must be present in a direct reply; a reply without them
	// is malformed and falls back to the browser
	required []string

	pageURL   func(r Request) string
	paginated bool
	// scrollIn is the element pagination scrolls happen over; empty means the page
	scrollIn string
	// expand is clicked to load each page instead of scrolling
	expand string
	// missingText on the page means the target does not exist
	missingText string

	// patterns are waited on in order; the first is the primary one
	patterns []capture.Pattern
	match    func(r Request) capture.Predicate

	// decode normalizes a JSON API payload from either path
	decode func(r Request, doc gjson.Result) (page, error)
	// fromCapture replaces decode for non-API captures
	fromCapture func(r Request, resp capture.Response) (page, error)
	// fallback runs when the wait budget is spent without a match
	fallback func(c Captures, r Request) (page, bool, error)

	validate func(r Request) error
}

var apiOnly = []capture.Pattern{capture.PatternAPI}

var kindHooks = map[Kind]hooks{
	KindUserInfo: {
		endpoint: &direct.EndpointUserDetail,
		required: []string{"userInfo"},
		params: func(r Request, _ int) url.Values {
			v := url.Values{"uniqueId": {r.Username}}
			if r.SecUID != "" {
				v.Set("secUid", r.SecUID)
			}
			return v
		},
		pageURL:     userPage,
		missingText: accountMissingText,
		patterns:    apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointUserDetail), capture.QueryEquals("uniqueId", r.Username))
		},
		decode:   decodeUserInfo,
		fallback: userFromDocument,
		validate: needUsername,
	},
	KindUserVideos: {
		endpoint: &direct.EndpointUserVideos,
		required: []string{"cursor"},
		params: func(r Request, count int) url.Values {
			return url.Values{
				"secUid": {r.SecUID},
				"cursor": {cursorParam(r)},
				"count":  {strconv.Itoa(count)},
			}
		},
		pageURL:     userPage,
		paginated:   true,
		missingText: accountMissingText,
		patterns:    apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointUserVideos), capture.QueryEquals("secUid", r.SecUID), cursorIs(r))
		},
		decode:   decodeList("itemList"),
		validate: needUsername,
	},
	KindVideoInfo: {
		pageURL:     videoPage,
		missingText: videoMissingText,
		patterns:    []capture.Pattern{capture.PatternDocument},
		match: func(r Request) capture.Predicate {
			return pathHasSuffix("/video/" + r.VideoID)
		},
		fromCapture: videoFromDocument,
		validate:    needVideo,
	},
	KindVideoComments: {
		endpoint: &direct.EndpointComments,
		required: []string{"cursor"},
		params: func(r Request, count int) url.Values {
			return url.Values{
				"aweme_id": {r.VideoID},
				"cursor":   {cursorParam(r)},
				"count":    {strconv.Itoa(count)},
			}
		},
		pageURL:     videoPage,
		paginated:   true,
		scrollIn:    commentListSelector,
		missingText: videoMissingText,
		patterns:    apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointComments), capture.QueryEquals("aweme_id", r.VideoID), cursorIs(r))
		},
		decode:   decodeList("comments"),
		validate: needVideo,
	},
	KindCommentReplies: {
		endpoint: &direct.EndpointCommentReplies,
		required: []string{"cursor"},
		params: func(r Request, count int) url.Values {
			return url.Values{
				"item_id":    {r.VideoID},
				"comment_id": {r.CommentID},
				"cursor":     {cursorParam(r)},
				"count":      {strconv.Itoa(count)},
			}
		},
		pageURL:     videoPage,
		paginated:   true,
		expand:      replyToggleSelector,
		missingText: videoMissingText,
		patterns:    apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointCommentReplies), capture.QueryEquals("comment_id", r.CommentID), cursorIs(r))
		},
		decode:   decodeList("comments"),
		validate: needComment,
	},
	KindVideoRelated: {
		endpoint: &direct.EndpointRelatedVideos,
		required: []string{"itemList"},
		params: func(r Request, _ int) url.Values {
			return url.Values{
				"itemID": {r.VideoID},
				"count":  {strconv.Itoa(relatedCount)},
			}
		},
		pageURL:     videoPage,
		missingText: videoMissingText,
		patterns:    apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointRelatedVideos), capture.QueryEquals("itemID", r.VideoID))
		},
		decode:   decodeList("itemList"),
		validate: needVideo,
	},
	KindVideoBytes: {
		pageURL:     videoPage,
		missingText: videoMissingText,
		patterns:    []capture.Pattern{capture.PatternVideoPrimary, capture.PatternVideoSecondary},
		match: func(r Request) capture.Predicate {
			u, err := url.Parse(r.PlayAddr)
			if err != nil || u.Path == "" {
				return func(capture.Response) bool { return false }
			}
			return pathIs(u.Path)
		},
		fromCapture: decodeBytes,
		validate:    needVideo,
	},
	KindHashtagInfo: {
		endpoint: &direct.EndpointHashtagDetail,
		required: []string{"challengeInfo"},
		params: func(r Request, _ int) url.Values {
			return url.Values{"challengeName": {r.Hashtag}}
		},
		pageURL:  tagPage,
		patterns: apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointHashtagDetail), capture.QueryEquals("challengeName", r.Hashtag))
		},
		decode:   decodeHashtagInfo,
		validate: needHashtag,
	},
	KindHashtagVideos: {
		endpoint: &direct.EndpointHashtagVideos,
		required: []string{"cursor"},
		params: func(r Request, count int) url.Values {
			return url.Values{
				"challengeID": {r.HashtagID},
				"cursor":      {cursorParam(r)},
				"count":       {strconv.Itoa(count)},
			}
		},
		pageURL:   tagPage,
		paginated: true,
		patterns:  apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(endpointIs(direct.EndpointHashtagVideos), capture.QueryEquals("challengeID", r.HashtagID), cursorIs(r))
		},
		decode:   decodeList("itemList"),
		validate: needHashtag,
	},
	KindSearchVideos: {
		endpoint: &direct.EndpointSearchVideos,
		required: []string{"has_more"},
		params: func(r Request, count int) url.Values {
			return url.Values{
				"keyword":   {r.Keyword},
				"offset":    {cursorParam(r)},
				"count":     {strconv.Itoa(count)},
				"from_page": {"search"},
			}
		},
		pageURL:   searchPage("video"),
		paginated: true,
		patterns:  apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(capture.PathContains("/api/search/item/"), capture.QueryEquals("keyword", r.Keyword), positionIs("offset", r))
		},
		decode:   decodeList("item_list"),
		validate: needKeyword,
	},
	KindSearchUsers: {
		endpoint: &direct.EndpointSearchUsers,
		required: []string{"has_more"},
		params: func(r Request, count int) url.Values {
			return url.Values{
				"keyword":   {r.Keyword},
				"cursor":    {cursorParam(r)},
				"count":     {strconv.Itoa(count)},
				"from_page": {"search"},
			}
		},
		pageURL:   searchPage("user"),
		paginated: true,
		patterns:  apiOnly,
		match: func(r Request) capture.Predicate {
			return capture.All(capture.PathContains("/api/search/user/"), capture.QueryEquals("keyword", r.Keyword), cursorIs(r))
		},
		decode:   decodeList("user_list"),
		validate: needKeyword,
	},
}

func userPage(r Request) string {
	return direct.BaseURL + "/@" + url.PathEscape(r.Username) + "?lang=en"
}

func videoPage(r Request) string {
	return direct.BaseURL + "/@" + url.PathEscape(r.Username) + "/video/" + url.PathEscape(r.VideoID)
}

func tagPage(r Request) string {
	return direct.BaseURL + "/tag/" + url.PathEscape(r.Hashtag)
}

// searchPage returns the results page of a search tab
func searchPage(tab string) func(Request) string {
	return func(r Request) string {
		return direct.BaseURL + "/search/" + tab + "?q=" + url.QueryEscape(r.Keyword)
	}
}

func needUsername(r Request) error {
	if r.Username == "" {
		return errs.Newf(errs.ErrorTypeMalformed, "%s needs a username", r.Kind)
	}
	return nil
}

func needVideo(r Request) error {
	if r.VideoID == "" {
		return errs.Newf(errs.ErrorTypeMalformed, "%s needs a video id", r.Kind)
	}
	return nil
}

func needComment(r Request) error {
	if r.VideoID == "" || r.CommentID == "" {
		return errs.Newf(errs.ErrorTypeMalformed, "%s needs a video id and a comment id", r.Kind)
	}
	return nil
}

func needKeyword(r Request) error {
	if strings.TrimSpace(r.Keyword) == "" {
		return errs.Newf(errs.ErrorTypeMalformed, "%s needs a keyword", r.Kind)
	}
	return nil
}

func needHashtag(r Request) error {
	if r.Hashtag == "" {
		return errs.Newf(errs.ErrorTypeMalformed, "%s needs a hashtag", r.Kind)
	}
	return nil
}

func cursorParam(r Request) string {
	if r.Cursor == "" {
		return "0"
	}
	return r.Cursor
}

// pathIs matches a path ignoring a trailing slash
func pathIs(path string) capture.Predicate {
	want := strings.TrimSuffix(path, "/")
	return func(resp capture.Response) bool {
		return strings.TrimSuffix(resp.Path(), "/") == want
	}
}

func pathHasSuffix(suffix string) capture.Predicate {
	return func(resp capture.Response) bool {
		return strings.HasSuffix(strings.TrimSuffix(resp.Path(), "/"), suffix)
	}
}

func endpointIs(ep direct.Endpoint) capture.Predicate {
	return pathIs(ep.Path)
}

// cursorIs matches the API call that asked for r's page
func cursorIs(r Request) capture.Predicate {
	return positionIs("cursor", r)
}

// positionIs matches the API call whose key query parameter asked for r's page
func positionIs(key string, r Request) capture.Predicate {
	return func(resp capture.Response) bool {
		c := resp.Query(key)
		if r.firstPage() {
			return c == "" || c == "0"
		}
		return c == r.Cursor
	}
}

// checkRequired reports a direct reply that lacks one of h's required keys
func checkRequired(r Request, h hooks, doc gjson.Result) error {
	if !doc.IsObject() {
		return errs.Newf(errs.ErrorTypeMalformed, "%s reply is not a JSON object", r.Kind)
	}
	for _, key := range h.required {
		if !doc.Get(key).Exists() {
			return errs.Newf(errs.ErrorTypeMalformed, "%s reply has no %s", r.Kind, key)
		}
	}
	return nil
}

func decodeUserInfo(r Request, doc gjson.Result) (page, error) {
	info := doc.Get("userInfo")
	if !info.Exists() {
		if !doc.IsObject() {
			return page{}, errs.Newf(errs.ErrorTypeMalformed, "%s payload is not an object", r.Kind)
		}
		return page{payload: doc.Value(), items: 1}, nil
	}

	user := info.Get("user")
	if !user.IsObject() {
		return page{}, errs.Newf(errs.ErrorTypeMalformed, "%s payload has no user", r.Kind)
	}
	merged, err := mergeObjects(user.Raw, info.Get("stats"))
	if err != nil {
		return page{}, errs.Wrap(errs.ErrorTypeMalformed, err, "failed to merge user stats")
	}
	return page{payload: gjson.Parse(merged).Value(), items: 1}, nil
}

// mergeObjects sets every field of extra on the JSON object base
func mergeObjects(base string, extra gjson.Result) (string, error) {
	out := base
	var err error
	extra.ForEach(func(key, value gjson.Result) bool {
		out, err = sjson.SetRaw(out, escapePath(key.String()), value.Raw)
		return err == nil
	})
	return out, err
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}

func decodeList(key string) func(Request, gjson.Result) (page, error) {
	return func(r Request, doc gjson.Result) (page, error) {
		list := doc.Get(key)
		if list.Exists() && !list.IsArray() && list.Type != gjson.Null {
			return page{}, errs.Newf(errs.ErrorTypeMalformed, "%s payload field %s is not a list", r.Kind, key)
		}

		elems := list.Array()
		items := make([]any, 0, len(elems))
		for _, e := range elems {
			items = append(items, e.Value())
		}

		more := doc.Get("hasMore")
		if !more.Exists() {
			more = doc.Get("has_more")
		}
		cursor := doc.Get("cursor")
		p := page{payload: items, items: len(items), hasMore: more.Bool()}
		if cursor.Type != gjson.Null {
			p.cursor = cursor.String()
		}
		return p, nil
	}
}

func decodeHashtagInfo(r Request, doc gjson.Result) (page, error) {
	info := doc.Get("challengeInfo")
	if !info.IsObject() {
		return page{}, errs.Newf(errs.ErrorTypeMalformed, "%s payload has no challengeInfo", r.Kind)
	}
	return page{payload: info.Value(), items: 1}, nil
}

func decodeBytes(r Request, resp capture.Response) (page, error) {
	body := resp.Body()
	if len(body) == 0 {
		return page{}, errs.Newf(errs.ErrorTypeMalformed, "captured %s stream is empty", r.Kind)
	}
	return page{payload: body, items: 1}, nil
}

// scriptJSON extracts the JSON body of an inline script
func scriptJSON(re *regexp.Regexp, html string) (gjson.Result, bool) {
	m := re.FindStringSubmatch(html)
	if m == nil || !gjson.Valid(m[1]) {
		return gjson.Result{}, false
	}
	return gjson.Parse(m[1]), true
}

// scopeStatus turns a non-zero rehydration statusCode into a failure
func scopeStatus(r Request, scope gjson.Result) error {
	code := scope.Get("statusCode").Int()
	if code == 0 {
		return nil
	}
	msg := scope.Get("statusMsg").String()
	if msg == "" {
		msg = "page reported status " + strconv.FormatInt(code, 10)
	}
	return errs.Newf(errs.ErrorTypeNotFound, "%s: %s", r, msg)
}

func userFromDocument(c Captures, r Request) (page, bool, error) {
	resp, ok := c.Find(capture.PatternDocument, pathIs("/@"+r.Username))
	if !ok {
		return page{}, false, nil
	}
	html := resp.Text()

	if data, ok := scriptJSON(rehydrationScript, html); ok {
		scope := data.Get(`__DEFAULT_SCOPE__.webapp\.user-detail`)
		if scope.Exists() {
			if err := scopeStatus(r, scope); err != nil {
				return page{}, false, err
			}
			p, err := decodeUserInfo(r, scope)
			return p, err == nil, err
		}
	}

	if data, ok := scriptJSON(sigiScript, html); ok {
		name := escapePath(r.Username)
		user := data.Get("UserModule.users." + name)
		if user.IsObject() {
			merged, err := mergeObjects(user.Raw, data.Get("UserModule.stats."+name))
			if err != nil {
				return page{}, false, errs.Wrap(errs.ErrorTypeMalformed, err, "failed to merge user stats")
			}
			return page{payload: gjson.Parse(merged).Value(), items: 1}, true, nil
		}
	}
	return page{}, false, nil
}

func videoFromDocument(r Request, resp capture.Response) (page, error) {
	html := resp.Text()

	if data, ok := scriptJSON(rehydrationScript, html); ok {
		scope := data.Get(`__DEFAULT_SCOPE__.webapp\.video-detail`)
		if scope.Exists() {
			if err := scopeStatus(r, scope); err != nil {
				return page{}, err
			}
			item := scope.Get("itemInfo.itemStruct")
			if item.IsObject() {
				return page{payload: item.Value(), items: 1}, nil
			}
		}
	}

	if data, ok := scriptJSON(sigiScript, html); ok {
		item := data.Get("ItemModule." + escapePath(r.VideoID))
		if item.IsObject() {
			return page{payload: item.Value(), items: 1}, nil
		}
	}
	return page{}, errs.Newf(errs.ErrorTypeMalformed, "%s page carries no video data", r)
}
