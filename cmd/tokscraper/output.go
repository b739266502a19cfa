package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tokscraper/pkg/checkpoint"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
	"tokscraper/pkg/scraper"
	"tokscraper/pkg/storage"
)

// record is the JSON line printed per outcome
type record struct {
	Source  scraper.Source       `json:"source,omitempty"`
	Request scraper.Request      `json:"request"`
	Payload any                  `json:"payload,omitempty"`
	Items   int                  `json:"items"`
	Cursor  string               `json:"cursor,omitempty"`
	HasMore bool                 `json:"has_more"`
	Error   *errorRecord         `json:"error,omitempty"`
	Trail   []scraper.Diagnostic `json:"trail,omitempty"`
}

type errorRecord struct {
	Type    errs.ErrorType `json:"type"`
	Message string         `json:"message"`
}

func newRecord(out scraper.Outcome, payload any) record {
	rec := record{
		Source:  out.Source,
		Request: out.Request,
		Payload: payload,
		Items:   out.Items,
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
		Trail:   out.Trail,
	}
	if out.Err != nil {
		rec.Error = &errorRecord{Type: out.Err.Type, Message: out.Err.Error()}
	}
	return rec
}

// runner prints outcomes and mirrors them into the output directory
type runner struct {
	env    *env
	store  *storage.Manager
	out    *json.Encoder
	logger logger.Logger
}

// withRunner wires the stack for one command and tears it down afterwards.
// SIGINT and SIGTERM cancel the command's context.
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *runner) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewManager(cfg.Output.BaseDirectory)
	if err != nil {
		return err
	}

	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.close(); err != nil {
			e.log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	r := &runner{
		env:    e,
		store:  store,
		out:    json.NewEncoder(cmd.OutOrStdout()),
		logger: e.log,
	}
	return fn(ctx, r)
}

// emit prints the outcome and appends it to the named record file
func (r *runner) emit(name string, out scraper.Outcome, payload any) error {
	rec := newRecord(out, payload)
	if err := r.out.Encode(rec); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := r.store.AppendRecords(name, rec); err != nil {
		r.logger.WithError(err).Warn("failed to mirror record to output directory")
	}
	return nil
}

// single runs one fetch and reports its failure as the command error
func (r *runner) single(ctx context.Context, req scraper.Request) error {
	out := r.env.scraper.Fetch(ctx, req)
	payload := out.Payload
	if out.OK() && req.Kind == scraper.KindVideoBytes {
		saved, err := r.saveVideo(out)
		if err != nil {
			return err
		}
		payload = saved
	}
	if err := r.emit(recordName(req), out, payload); err != nil {
		return err
	}
	return errOrNil(out.Err)
}

// saveVideo writes a video_bytes payload to disk and returns its summary
func (r *runner) saveVideo(out scraper.Outcome) (map[string]any, error) {
	body, ok := out.Payload.([]byte)
	if !ok {
		return nil, errs.Newf(errs.ErrorTypeMalformed, "video %s payload is not a byte stream", out.Request.VideoID)
	}
	if err := r.store.SaveVideo(bytes.NewReader(body), out.Request.VideoID); err != nil {
		return nil, err
	}
	return map[string]any{
		"path":  r.store.VideoPath(out.Request.VideoID),
		"bytes": len(body),
	}, nil
}

// listing walks a paginated request, checkpointing after every page when
// resume is enabled. Items already written by an earlier run are dropped.
func (r *runner) listing(ctx context.Context, req scraper.Request) error {
	name := recordName(req)

	var (
		mgr *checkpoint.Manager
		cp  *checkpoint.Checkpoint
		err error
	)
	if r.env.cfg.Output.Resume {
		mgr, err = checkpoint.NewManager(name)
		if err != nil {
			return err
		}
		if cp, err = mgr.Load(); err != nil {
			return err
		}
		if cp != nil && cp.Cursor != "" {
			req.Cursor = cp.Cursor
			r.logger.InfoWithFields("resuming listing", map[string]interface{}{
				"request": req.String(),
				"pages":   cp.Pages,
				"items":   cp.Items,
			})
		}
		if cp == nil {
			if cp, err = mgr.Create(string(req.Kind), target(req)); err != nil {
				return err
			}
		}
	}

	var last scraper.Outcome
	for out := range r.env.scraper.Pages(ctx, req) {
		last = out
		payload := out.Payload
		if out.OK() && cp != nil {
			payload = unwritten(cp, payload)
		}
		if err := r.emit(name, out, payload); err != nil {
			return err
		}
		if out.OK() && mgr != nil {
			if err := mgr.Advance(cp, out.Cursor, out.Items); err != nil {
				r.logger.WithError(err).Warn("failed to save checkpoint")
			}
		}
	}

	if last.Err != nil {
		return last.Err
	}
	if mgr != nil {
		return mgr.Delete()
	}
	return nil
}

// batch runs independent requests in order
func (r *runner) batch(ctx context.Context, reqs []scraper.Request) error {
	var failed error
	for out := range r.env.scraper.Batch(ctx, reqs) {
		payload := out.Payload
		if out.OK() && out.Request.Kind == scraper.KindVideoBytes {
			saved, err := r.saveVideo(out)
			if err != nil {
				return err
			}
			payload = saved
		}
		if err := r.emit("batch", out, payload); err != nil {
			return err
		}
		if out.Err != nil {
			failed = out.Err
		}
	}
	return failed
}

// readRequests decodes a stream of JSON request objects
func readRequests(in io.Reader) ([]scraper.Request, error) {
	dec := json.NewDecoder(in)
	var reqs []scraper.Request
	for {
		var req scraper.Request
		if err := dec.Decode(&req); err == io.EOF {
			return reqs, nil
		} else if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMalformed, err, fmt.Sprintf("request %d is not valid JSON", len(reqs)+1))
		}
		reqs = append(reqs, req)
	}
}

// unwritten drops list items already marked in cp
func unwritten(cp *checkpoint.Checkpoint, payload any) any {
	list, ok := payload.([]any)
	if !ok {
		return payload
	}
	fresh := make([]any, 0, len(list))
	for _, item := range list {
		if cp.MarkWritten(itemID(item)) {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

// itemID returns the platform id of a video or comment item
func itemID(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"id", "cid", "uid"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	// search results wrap the account
	if info, ok := obj["user_info"]; ok {
		return itemID(info)
	}
	return ""
}

func target(req scraper.Request) string {
	switch {
	case req.CommentID != "":
		return req.VideoID + "-" + req.CommentID
	case req.VideoID != "":
		return req.VideoID
	case req.Keyword != "":
		return req.Keyword
	case req.Hashtag != "":
		return req.Hashtag
	default:
		return req.Username
	}
}

func recordName(req scraper.Request) string {
	return checkpoint.Key(string(req.Kind), target(req))
}

func errOrNil(e *errs.Error) error {
	if e == nil {
		return nil
	}
	return e
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeNotFound:
		return 2
	case errs.ErrorTypeCancelled:
		return 130
	default:
		return 1
	}
}
