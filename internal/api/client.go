// Package api is a stateless wrapper around the WaniKani v2 wire
// protocol: authenticated HTTP calls to list assignments and study
// materials modified since a timestamp, submit review progress, update
// study materials, and fetch user info.
//
// Collection endpoints are paginated; the fetch methods hand each decoded
// page to the caller as soon as it arrives so partial progress survives a
// mid-fetch failure, and return the server-reported data_updated_at for
// use as the next sync cursor.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/davidsansome/tsurukame/internal/srs"
)

const (
	defaultBaseURL = "https://api.wanikani.com/v2"

	backoffFactor = 2
	backoffMin    = time.Second
	backoffMax    = 10 * time.Second
	maxTries      = 10

	// Progress records younger than this are sent without a created_at so
	// small client clock drift cannot make the server reject them.
	clockDriftAllowance = 15 * time.Minute
)

// SubjectLevelGetter resolves a subject ID to its level. Assignment
// payloads do not carry the subject's level, so the client asks the
// caller, which typically has a static subject dictionary.
type SubjectLevelGetter interface {
	LevelOf(subjectID int64) int
}

// Client calls the WaniKani v2 API on behalf of one user.
type Client struct {
	mu      sync.RWMutex
	token   string
	baseURL string
	client  *http.Client
	logger  *log.Logger
	bo      *backoff.Backoff

	// SubjectLevels, when set, fills Assignment.Level from subject data.
	SubjectLevels SubjectLevelGetter
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// Token is the user's API token.
	Token string

	// BaseURL overrides the production API endpoint, used in tests.
	BaseURL string

	// Timeout bounds each HTTP request. Zero means 30 seconds.
	Timeout time.Duration

	// Logger for request activity. Nil means a default stderr logger.
	Logger *log.Logger
}

// New creates a Client. The token must be a 36-character API token.
func New(cfg Config) (*Client, error) {
	if len(cfg.Token) != 36 {
		return nil, fmt.Errorf("bad length API token: %q", cfg.Token)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	return &Client{
		token:   cfg.Token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		bo: &backoff.Backoff{
			Factor: backoffFactor,
			Jitter: true,
			Min:    backoffMin,
			Max:    backoffMax,
		},
	}, nil
}

// UpdateToken replaces the API token, used when the config is reloaded.
func (c *Client) UpdateToken(token string) error {
	if len(token) != 36 {
		return fmt.Errorf("bad length API token: %q", token)
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// resource is the envelope around every API object.
type resource struct {
	ID            int64           `json:"id"`
	Object        string          `json:"object"`
	DataUpdatedAt wkTime          `json:"data_updated_at"`
	Data          json.RawMessage `json:"data"`
}

// collection is the envelope around paginated responses.
type collection struct {
	Pages struct {
		PerPage int    `json:"per_page"`
		NextURL string `json:"next_url"`
	} `json:"pages"`
	TotalCount    int        `json:"total_count"`
	DataUpdatedAt string     `json:"data_updated_at"`
	Data          []resource `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// do runs one request, retrying 429 responses with jittered exponential
// backoff. Success is 200 or 201; any other status is mapped to a
// *StatusError with the server's error message when one was sent.
func (c *Client) do(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var reqBody []byte
	if body != nil {
		var err error
		if reqBody, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, rawURL, err)
		}
	}

	for i := 0; i < maxTries; i++ {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token token="+c.currentToken())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Printf("%s %s", method, rawURL)
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			return data, nil

		case http.StatusTooManyRequests:
			d := c.bo.ForAttempt(float64(i))
			c.logger.Printf("Request failed: %s, retrying after %s", resp.Status, d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			se := &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
			var apiErr errorResponse
			if err := json.Unmarshal(data, &apiErr); err == nil {
				se.Message = apiErr.Error
			}
			return nil, se
		}
	}
	return nil, fmt.Errorf("request for %s failed too many times", rawURL)
}

// get fetches rawURL and decodes the response into out.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	data, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{URL: rawURL, Err: err}
	}
	return nil
}

// pagedGet walks every page of a collection URL, invoking onPage with the
// resources of each page as it arrives. Returns the data_updated_at of
// the first page, which covers the whole result set.
func (c *Client) pagedGet(ctx context.Context, rawURL string, onPage func([]resource) error) (string, error) {
	updatedAt := ""
	next := rawURL
	for next != "" {
		var coll collection
		if err := c.get(ctx, next, &coll); err != nil {
			return updatedAt, err
		}
		if updatedAt == "" {
			updatedAt = coll.DataUpdatedAt
		}
		if err := onPage(coll.Data); err != nil {
			return updatedAt, err
		}
		next = coll.Pages.NextURL
	}
	return updatedAt, nil
}

// Assignments fetches assignments modified after the given cursor (all of
// them when the cursor is empty). onPage is called once per page with the
// decoded assignments; the returned string is the new cursor value.
func (c *Client) Assignments(ctx context.Context, updatedAfter string, onPage func([]*srs.Assignment) error) (string, error) {
	q := url.Values{}
	q.Set("unlocked", "true")
	q.Set("hidden", "false")
	if updatedAfter != "" {
		q.Set("updated_after", updatedAfter)
	}
	u := c.baseURL + "/assignments?" + q.Encode()

	return c.pagedGet(ctx, u, func(resources []resource) error {
		assignments := make([]*srs.Assignment, 0, len(resources))
		for _, r := range resources {
			a, err := c.decodeAssignment(r)
			if err != nil {
				return &DecodeError{URL: u, Err: err}
			}
			if a != nil {
				assignments = append(assignments, a)
			}
		}
		return onPage(assignments)
	})
}

// assignmentData is the wire form of one assignment.
type assignmentData struct {
	SubjectID   int64  `json:"subject_id"`
	SubjectType string `json:"subject_type"`
	SRSStage    int    `json:"srs_stage"`
	UnlockedAt  wkTime `json:"unlocked_at"`
	StartedAt   wkTime `json:"started_at"`
	PassedAt    wkTime `json:"passed_at"`
	BurnedAt    wkTime `json:"burned_at"`
	AvailableAt wkTime `json:"available_at"`
}

func (c *Client) decodeAssignment(r resource) (*srs.Assignment, error) {
	var data assignmentData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, err
	}

	a := &srs.Assignment{
		ID:          r.ID,
		SubjectID:   data.SubjectID,
		SRSStage:    srs.Stage(data.SRSStage),
		UnlockedAt:  data.UnlockedAt.Time,
		StartedAt:   data.StartedAt.Time,
		PassedAt:    data.PassedAt.Time,
		BurnedAt:    data.BurnedAt.Time,
		AvailableAt: data.AvailableAt.Time,
		UpdatedAt:   r.DataUpdatedAt.Time,
	}
	if c.SubjectLevels != nil {
		a.Level = c.SubjectLevels.LevelOf(a.SubjectID)
	}

	switch data.SubjectType {
	case "radical":
		a.SubjectType = srs.SubjectRadical
	case "kanji":
		a.SubjectType = srs.SubjectKanji
	case "vocabulary", "kana_vocabulary":
		a.SubjectType = srs.SubjectVocabulary
	default:
		// Subject types added server-side after this client shipped.
		c.logger.Printf("Unknown assignment subject type: %q", data.SubjectType)
		return nil, nil
	}
	return a, nil
}

// StudyMaterials fetches study materials modified after the given cursor.
// onPage is called once per page; the returned string is the new cursor.
func (c *Client) StudyMaterials(ctx context.Context, updatedAfter string, onPage func([]*srs.StudyMaterial) error) (string, error) {
	u := c.baseURL + "/study_materials"
	if updatedAfter != "" {
		q := url.Values{}
		q.Set("updated_after", updatedAfter)
		u += "?" + q.Encode()
	}

	return c.pagedGet(ctx, u, func(resources []resource) error {
		materials := make([]*srs.StudyMaterial, 0, len(resources))
		for _, r := range resources {
			m, err := decodeStudyMaterial(r)
			if err != nil {
				return &DecodeError{URL: u, Err: err}
			}
			materials = append(materials, m)
		}
		return onPage(materials)
	})
}

// studyMaterialData is the wire form of one study material.
type studyMaterialData struct {
	SubjectID       int64    `json:"subject_id"`
	MeaningNote     string   `json:"meaning_note"`
	ReadingNote     string   `json:"reading_note"`
	MeaningSynonyms []string `json:"meaning_synonyms"`
}

func decodeStudyMaterial(r resource) (*srs.StudyMaterial, error) {
	var data studyMaterialData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, err
	}
	return &srs.StudyMaterial{
		ID:              r.ID,
		SubjectID:       data.SubjectID,
		MeaningNote:     data.MeaningNote,
		ReadingNote:     data.ReadingNote,
		MeaningSynonyms: data.MeaningSynonyms,
		UpdatedAt:       r.DataUpdatedAt.Time,
	}, nil
}

// StudyMaterial fetches the study material for one subject, or nil if the
// user has none.
func (c *Client) StudyMaterial(ctx context.Context, subjectID int64) (*srs.StudyMaterial, error) {
	u := fmt.Sprintf("%s/study_materials?subject_ids=%d", c.baseURL, subjectID)
	var coll collection
	if err := c.get(ctx, u, &coll); err != nil {
		return nil, err
	}
	if len(coll.Data) == 0 {
		return nil, nil
	}
	m, err := decodeStudyMaterial(coll.Data[0])
	if err != nil {
		return nil, &DecodeError{URL: u, Err: err}
	}
	return m, nil
}

// LevelProgressions fetches level progressions modified after the cursor.
func (c *Client) LevelProgressions(ctx context.Context, updatedAfter string) ([]*srs.LevelProgression, string, error) {
	u := c.baseURL + "/level_progressions"
	if updatedAfter != "" {
		q := url.Values{}
		q.Set("updated_after", updatedAfter)
		u += "?" + q.Encode()
	}

	var levels []*srs.LevelProgression
	updatedAt, err := c.pagedGet(ctx, u, func(resources []resource) error {
		for _, r := range resources {
			var data struct {
				Level       int    `json:"level"`
				CreatedAt   wkTime `json:"created_at"`
				UnlockedAt  wkTime `json:"unlocked_at"`
				StartedAt   wkTime `json:"started_at"`
				PassedAt    wkTime `json:"passed_at"`
				CompletedAt wkTime `json:"completed_at"`
				AbandonedAt wkTime `json:"abandoned_at"`
			}
			if err := json.Unmarshal(r.Data, &data); err != nil {
				return &DecodeError{URL: u, Err: err}
			}
			levels = append(levels, &srs.LevelProgression{
				ID:          r.ID,
				Level:       data.Level,
				CreatedAt:   data.CreatedAt.Time,
				UnlockedAt:  data.UnlockedAt.Time,
				StartedAt:   data.StartedAt.Time,
				PassedAt:    data.PassedAt.Time,
				CompletedAt: data.CompletedAt.Time,
				AbandonedAt: data.AbandonedAt.Time,
			})
		}
		return nil
	})
	return levels, updatedAt, err
}

// User fetches the logged-in user's info.
func (c *Client) User(ctx context.Context) (*srs.User, error) {
	u := c.baseURL + "/user"
	var resp struct {
		DataUpdatedAt wkTime `json:"data_updated_at"`
		Data          struct {
			Username     string `json:"username"`
			Level        int    `json:"level"`
			StartedAt    wkTime `json:"started_at"`
			VacationAt   wkTime `json:"current_vacation_started_at"`
			Subscription struct {
				Active          bool `json:"active"`
				MaxLevelGranted int  `json:"max_level_granted"`
			} `json:"subscription"`
		} `json:"data"`
	}
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &srs.User{
		Username:                      resp.Data.Username,
		Level:                         resp.Data.Level,
		MaxLevelGrantedBySubscription: resp.Data.Subscription.MaxLevelGranted,
		Subscribed:                    resp.Data.Subscription.Active,
		StartedAt:                     resp.Data.StartedAt.Time,
		VacationStartedAt:             resp.Data.VacationAt.Time,
		UpdatedAt:                     resp.DataUpdatedAt.Time,
	}, nil
}

// SendProgress submits one completed lesson or review. Lessons start the
// assignment; reviews create a review record with the wrong-answer
// counts.
func (c *Client) SendProgress(ctx context.Context, p *srs.Progress) error {
	if p.IsLesson {
		u := fmt.Sprintf("%s/assignments/%d/start", c.baseURL, p.AssignmentID)
		body := map[string]string{"started_at": formatTime(p.CreatedAt)}
		_, err := c.do(ctx, http.MethodPut, u, body)
		return err
	}

	type review struct {
		AssignmentID            int64  `json:"assignment_id"`
		IncorrectMeaningAnswers int    `json:"incorrect_meaning_answers"`
		IncorrectReadingAnswers int    `json:"incorrect_reading_answers"`
		CreatedAt               string `json:"created_at,omitempty"`
	}
	body := struct {
		Review review `json:"review"`
	}{Review: review{
		AssignmentID:            p.AssignmentID,
		IncorrectMeaningAnswers: p.MeaningWrongCount,
		IncorrectReadingAnswers: p.ReadingWrongCount,
	}}
	if time.Since(p.CreatedAt) > clockDriftAllowance {
		body.Review.CreatedAt = formatTime(p.CreatedAt)
	}
	_, err := c.do(ctx, http.MethodPost, c.baseURL+"/reviews", body)
	return err
}

// UpdateStudyMaterial creates or updates the study material for the
// subject, depending on whether the server already has one.
func (c *Client) UpdateStudyMaterial(ctx context.Context, m *srs.StudyMaterial) error {
	existing, err := c.StudyMaterial(ctx, m.SubjectID)
	if err != nil {
		return err
	}

	type studyMaterial struct {
		SubjectID       int64    `json:"subject_id,omitempty"`
		MeaningNote     string   `json:"meaning_note"`
		ReadingNote     string   `json:"reading_note"`
		MeaningSynonyms []string `json:"meaning_synonyms"`
	}
	body := struct {
		StudyMaterial studyMaterial `json:"study_material"`
	}{StudyMaterial: studyMaterial{
		MeaningNote:     m.MeaningNote,
		ReadingNote:     m.ReadingNote,
		MeaningSynonyms: m.MeaningSynonyms,
	}}

	if existing != nil {
		u := fmt.Sprintf("%s/study_materials/%d", c.baseURL, existing.ID)
		_, err = c.do(ctx, http.MethodPut, u, body)
		return err
	}
	body.StudyMaterial.SubjectID = m.SubjectID
	_, err = c.do(ctx, http.MethodPost, c.baseURL+"/study_materials", body)
	return err
}
