package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/yusufsahin/queuepgskip/internal/store"
)

// registerJobRoutes wires up the job endpoints on the huma API.
//
//	POST /jobs      — enqueue a transfer job
//	GET  /jobs      — paginated list with status filter
//	GET  /jobs/{id} — single job detail
func registerJobRoutes(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Enqueue a job",
		Description:   "Inserts a pending transfer job; a worker will claim and execute it.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, enqueueJobHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Newest-first job list with status filter and keyset pagination.",
		Tags:        []string{"Jobs"},
	}, listJobsHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job detail",
		Tags:        []string{"Jobs"},
	}, getJobHandler(s))
}

// ── Response types ────────────────────────────────────────────────────────────

// JobItem is the API representation of a jobs row.
type JobItem struct {
	ID              int64   `json:"id"`
	SourcePath      string  `json:"source_path"`
	DestinationPath string  `json:"destination_path"`
	Status          string  `json:"status"`
	LastError       *string `json:"last_error,omitempty"`
	CreatedAt       string  `json:"created_at"` // RFC3339
	UpdatedAt       string  `json:"updated_at"` // RFC3339
}

func jobToItem(j store.Job) JobItem {
	return JobItem{
		ID:              j.ID,
		SourcePath:      j.SourcePath,
		DestinationPath: j.DestinationPath,
		Status:          string(j.Status),
		LastError:       j.LastError,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// jobListCursor is the internal JSON structure encoded in the opaque cursor string.
type jobListCursor struct {
	// CreatedAt of the last row, RFC3339Nano.
	CreatedAt string `json:"c"`
	// ID of the last row.
	ID int64 `json:"id"`
}

// encodeCursor base64-encodes the cursor JSON (opaque to API clients).
func encodeCursor(last store.Job) string {
	c := jobListCursor{
		CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		ID:        last.ID,
	}
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeCursor base64-decodes the opaque cursor, returning a parsed cursor or nil.
func decodeCursor(s string) (*jobListCursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor (base64): %w", err)
	}
	var c jobListCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor (json): %w", err)
	}
	if c.ID == 0 {
		return nil, fmt.Errorf("invalid cursor: missing id")
	}
	return &c, nil
}

// ── POST /jobs ────────────────────────────────────────────────────────────────

// EnqueueJobInput is the request body for POST /jobs.
type EnqueueJobInput struct {
	Body struct {
		SourcePath      string `json:"source_path" minLength:"1" doc:"Local path or s3://bucket/key to read"`
		DestinationPath string `json:"destination_path" minLength:"1" doc:"Local path or s3://bucket/key to write"`
	}
}

// EnqueueJobOutput is the response for POST /jobs.
type EnqueueJobOutput struct {
	Body JobItem
}

func enqueueJobHandler(s *store.Store) func(context.Context, *EnqueueJobInput) (*EnqueueJobOutput, error) {
	return func(ctx context.Context, input *EnqueueJobInput) (*EnqueueJobOutput, error) {
		j, err := s.EnqueueJob(ctx, input.Body.SourcePath, input.Body.DestinationPath)
		if err != nil {
			return nil, huma.Error500InternalServerError("enqueue failed", err)
		}
		return &EnqueueJobOutput{Body: jobToItem(*j)}, nil
	}
}

// ── GET /jobs ─────────────────────────────────────────────────────────────────

// ListJobsInput defines query parameters for the paginated job list.
type ListJobsInput struct {
	Status string `query:"status" enum:"pending,processing,done,failed" doc:"Filter by status"`
	Cursor string `query:"cursor" doc:"Opaque pagination cursor returned in the previous response"`
	Limit  int    `query:"limit" minimum:"1" maximum:"100" default:"25" doc:"Page size (max 100)"`
}

// ListJobsOutput is the response body for GET /jobs.
type ListJobsOutput struct {
	Body ListJobsBody
}

// ListJobsBody is the JSON body of the list response.
type ListJobsBody struct {
	Items      []JobItem `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

func listJobsHandler(s *store.Store) func(context.Context, *ListJobsInput) (*ListJobsOutput, error) {
	return func(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
		cur, err := decodeCursor(input.Cursor)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid cursor", err)
		}

		p := store.ListJobsParams{
			Limit: input.Limit + 1, // fetch one extra to detect next page
		}
		if input.Status != "" {
			st := store.Status(input.Status)
			p.Status = &st
		}
		if cur != nil {
			t, err := time.Parse(time.RFC3339Nano, cur.CreatedAt)
			if err != nil {
				return nil, huma.Error400BadRequest("invalid cursor", err)
			}
			p.AfterTime = &t
			p.AfterID = &cur.ID
		}

		jobs, err := s.ListJobs(ctx, p)
		if err != nil {
			return nil, huma.Error500InternalServerError("list failed", err)
		}

		out := &ListJobsOutput{Body: ListJobsBody{Items: []JobItem{}}}
		hasMore := len(jobs) > input.Limit
		if hasMore {
			jobs = jobs[:input.Limit]
		}
		for _, j := range jobs {
			out.Body.Items = append(out.Body.Items, jobToItem(j))
		}
		if hasMore {
			out.Body.NextCursor = encodeCursor(jobs[len(jobs)-1])
		}
		return out, nil
	}
}

// ── GET /jobs/{id} ────────────────────────────────────────────────────────────

// GetJobInput is the path parameter for GET /jobs/{id}.
type GetJobInput struct {
	ID int64 `path:"id" doc:"Job ID"`
}

// GetJobOutput is the response for GET /jobs/{id}.
type GetJobOutput struct {
	Body JobItem
}

func getJobHandler(s *store.Store) func(context.Context, *GetJobInput) (*GetJobOutput, error) {
	return func(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
		j, err := s.GetJob(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("get failed", err)
		}
		if j == nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("job %d not found", input.ID))
		}
		return &GetJobOutput{Body: jobToItem(*j)}, nil
	}
}
