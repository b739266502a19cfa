package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tokscraper/pkg/scraper"
)

var (
	// Fetch command flags
	limit       int
	videoAuthor string
	withBytes   bool
	withRelated bool
	tagVideos   bool
	replyTo     string
	searchUsers bool
)

var userCmd = &cobra.Command{
	Use:   "user <username>",
	Short: "Fetch a user profile with its stats",
	Example: `  tokscraper user therock
  tokscraper user @therock --no-direct`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			return r.single(ctx, scraper.Request{Kind: scraper.KindUserInfo, Username: handle(args[0])})
		})
	},
}

var videosCmd = &cobra.Command{
	Use:   "videos <username>",
	Short: "List a user's videos, page by page",
	Long: `List a user's videos. Each fetched page is printed as one JSON line.

With --resume an interrupted listing continues from the last page it
finished and skips videos it already printed.`,
	Example: `  tokscraper videos therock --count 90
  tokscraper videos therock --resume --best-effort`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			return r.listing(ctx, scraper.Request{
				Kind:     scraper.KindUserVideos,
				Username: handle(args[0]),
				Limit:    limit,
			})
		})
	},
}

var commentsCmd = &cobra.Command{
	Use:   "comments <video-id>",
	Short: "List the comments of a video, or the replies to one comment",
	Example: `  tokscraper comments 7321456789012345678 --user therock --count 100
  tokscraper comments 7321456789012345678 --user therock --replies 7321460000000000001`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scraper.Request{
			Kind:     scraper.KindVideoComments,
			Username: handle(videoAuthor),
			VideoID:  args[0],
			Limit:    limit,
		}
		if replyTo != "" {
			req.Kind = scraper.KindCommentReplies
			req.CommentID = replyTo
		}
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			return r.listing(ctx, req)
		})
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <video-id>",
	Short: "Fetch a video's metadata, stream or related videos",
	Example: `  tokscraper video 7321456789012345678 --user therock
  tokscraper video 7321456789012345678 --user therock --bytes
  tokscraper video 7321456789012345678 --user therock --related`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scraper.Request{Kind: scraper.KindVideoInfo, Username: handle(videoAuthor), VideoID: args[0]}
		switch {
		case withBytes:
			req.Kind = scraper.KindVideoBytes
		case withRelated:
			req.Kind = scraper.KindVideoRelated
		}
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			if req.Kind == scraper.KindVideoBytes && r.store.IsSaved(req.VideoID) {
				r.logger.WithField("path", r.store.VideoPath(req.VideoID)).Info("video already downloaded")
				return nil
			}
			return r.single(ctx, req)
		})
	},
}

var hashtagCmd = &cobra.Command{
	Use:   "hashtag <name>",
	Short: "Fetch a hashtag, or list its videos with --videos",
	Example: `  tokscraper hashtag funny
  tokscraper hashtag funny --videos --count 60`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimPrefix(strings.TrimSpace(args[0]), "#")
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			if tagVideos {
				return r.listing(ctx, scraper.Request{Kind: scraper.KindHashtagVideos, Hashtag: name, Limit: limit})
			}
			return r.single(ctx, scraper.Request{Kind: scraper.KindHashtagInfo, Hashtag: name})
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search videos, or accounts with --users",
	Example: `  tokscraper search "street food" --count 50
  tokscraper search therock --users`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scraper.Request{Kind: scraper.KindSearchVideos, Keyword: strings.TrimSpace(args[0]), Limit: limit}
		if searchUsers {
			req.Kind = scraper.KindSearchUsers
		}
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			return r.listing(ctx, req)
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run a list of JSON requests, one fetch each",
	Long: `Run independent fetches read as JSON objects from a file or stdin, e.g.

  {"kind":"user_info","username":"therock"}
  {"kind":"video_info","username":"therock","video_id":"7321456789012345678"}

The batch stops at the first failure unless --best-effort is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		reqs, err := readRequests(in)
		if err != nil {
			return err
		}
		return withRunner(cmd, func(ctx context.Context, r *runner) error {
			return r.batch(ctx, reqs)
		})
	},
}

// handle strips the @ users often paste with a username
func handle(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

func init() {
	rootCmd.AddCommand(userCmd, videosCmd, commentsCmd, videoCmd, hashtagCmd, searchCmd, batchCmd)

	for _, c := range []*cobra.Command{videosCmd, commentsCmd, hashtagCmd, searchCmd} {
		c.Flags().IntVar(&limit, "count", 0, "stop after this many items (0 fetches everything)")
	}

	commentsCmd.Flags().StringVarP(&videoAuthor, "user", "u", "", "username of the video's author")
	commentsCmd.Flags().StringVar(&replyTo, "replies", "", "list the replies to this comment id instead")
	_ = commentsCmd.MarkFlagRequired("user")

	videoCmd.Flags().StringVarP(&videoAuthor, "user", "u", "", "username of the video's author")
	videoCmd.Flags().BoolVar(&withBytes, "bytes", false, "download the video stream into the output directory")
	videoCmd.Flags().BoolVar(&withRelated, "related", false, "fetch related videos instead of metadata")
	_ = videoCmd.MarkFlagRequired("user")
	videoCmd.MarkFlagsMutuallyExclusive("bytes", "related")

	hashtagCmd.Flags().BoolVar(&tagVideos, "videos", false, "list the hashtag's videos")

	searchCmd.Flags().BoolVar(&searchUsers, "users", false, "search accounts instead of videos")
}
