package scraper

import (
	"fmt"
	"time"

	errs "tokscraper/pkg/errors"
)

// Kind selects the logical fetch operation
type Kind string

const (
	KindUserInfo       Kind = "user_info"
	KindUserVideos     Kind = "user_videos"
	KindVideoInfo      Kind = "video_info"
	KindVideoComments  Kind = "video_comments"
	KindCommentReplies Kind = "comment_replies"
	KindVideoRelated   Kind = "video_related"
	KindVideoBytes     Kind = "video_bytes"
	KindHashtagInfo    Kind = "hashtag_info"
	KindHashtagVideos  Kind = "hashtag_videos"
	KindSearchVideos   Kind = "search_videos"
	KindSearchUsers    Kind = "search_users"
)

// Kinds lists every supported kind
func Kinds() []Kind {
	return []Kind{
		KindUserInfo, KindUserVideos,
		KindVideoInfo, KindVideoComments, KindCommentReplies, KindVideoRelated, KindVideoBytes,
		KindHashtagInfo, KindHashtagVideos,
		KindSearchVideos, KindSearchUsers,
	}
}

// Source identifies which path produced an outcome
type Source string

const (
	SourceDirect  Source = "direct"
	SourceBrowser Source = "browser"
)

// Request is one logical fetch
type Request struct {
	Kind Kind `json:"kind"`

	Username  string `json:"username,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SecUID    string `json:"sec_uid,omitempty"`
	VideoID   string `json:"video_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	Hashtag   string `json:"hashtag,omitempty"`
	HashtagID string `json:"hashtag_id,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
	// PlayAddr is the video stream URL, resolved from video info when empty
	PlayAddr string `json:"play_addr,omitempty"`

	// Cursor is the pagination position; empty means the first page
	Cursor string `json:"cursor,omitempty"`
	// Count is the page size asked of the platform
	Count int `json:"count,omitempty"`
	// Limit caps the total items a page sequence yields (0 means no cap)
	Limit int `json:"limit,omitempty"`
}

// String describes the request target for logs
func (r Request) String() string {
	switch {
	case r.CommentID != "":
		return fmt.Sprintf("%s video=%s comment=%s cursor=%q", r.Kind, r.VideoID, r.CommentID, r.Cursor)
	case r.VideoID != "":
		return fmt.Sprintf("%s video=%s cursor=%q", r.Kind, r.VideoID, r.Cursor)
	case r.Keyword != "":
		return fmt.Sprintf("%s keyword=%q cursor=%q", r.Kind, r.Keyword, r.Cursor)
	case r.Hashtag != "":
		return fmt.Sprintf("%s hashtag=%s cursor=%q", r.Kind, r.Hashtag, r.Cursor)
	default:
		return fmt.Sprintf("%s user=%s cursor=%q", r.Kind, r.Username, r.Cursor)
	}
}

func (r Request) firstPage() bool {
	return r.Cursor == "" || r.Cursor == "0"
}

// Diagnostic records one failed step of a fetch
type Diagnostic struct {
	Source  Source         `json:"source"`
	Attempt int            `json:"attempt"`
	Reason  errs.ErrorType `json:"reason"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

// Outcome is the result of one logical fetch. Exactly one of Payload and Err
// is meaningful.
type Outcome struct {
	Request Request `json:"request"`
	Source  Source  `json:"source,omitempty"`
	// Payload is a nested map/slice of primitives, or []byte for video bytes
	Payload any `json:"payload,omitempty"`
	Items   int `json:"items"`
	// Cursor is the position of the next page
	Cursor  string       `json:"cursor,omitempty"`
	HasMore bool         `json:"has_more"`
	Err     *errs.Error  `json:"-"`
	Trail   []Diagnostic `json:"trail,omitempty"`
}

// OK reports a successful outcome
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Reason returns the failure reason, or "" on success
func (o Outcome) Reason() errs.ErrorType {
	if o.Err == nil {
		return ""
	}
	return o.Err.Type
}
