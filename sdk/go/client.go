package dossierlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dossierline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  30 * time.Second,
	}
}

// Session is the API session model (partial).
type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProgramType string    `json:"program_type"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	ExamDate    string    `json:"exam_date"`
	Archived    bool      `json:"archived"`
	Trainees    []Trainee `json:"trainees"`
	Report      Report    `json:"report"`
}

// Report is the conformity summary of a session.
type Report struct {
	Total           int  `json:"total"`
	ConformCount    int  `json:"conform_count"`
	NonConformCount int  `json:"non_conform_count"`
	SessionConform  bool `json:"session_conform"`
}

// Trainee is the API trainee model (partial).
type Trainee struct {
	ID                  string            `json:"id"`
	LastName            string            `json:"last_name"`
	FirstName           string            `json:"first_name"`
	Email               string            `json:"email"`
	Token               string            `json:"token,omitempty"`
	ConventionStatus    string            `json:"convention_status"`
	TestFrStatus        string            `json:"test_fr_status"`
	FundingStatus       string            `json:"funding_status"`
	ClearanceStatus     string            `json:"security_clearance_status"`
	AccommodationStatus string            `json:"accommodation_status"`
	DossierStatus       string            `json:"dossier_status"`
	LicenseWaiver       bool              `json:"license_waiver"`
	Profile             map[string]string `json:"profile"`
	Documents           []Slot            `json:"documents"`
	Deliverables        map[string]string `json:"deliverables"`
}

// Slot is one required document of a trainee.
type Slot struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Status  string   `json:"status"`
	Comment string   `json:"comment"`
	Files   []string `json:"files"`
}

// SlotResult is returned by document operations.
type SlotResult struct {
	Slot          Slot   `json:"slot"`
	DossierStatus string `json:"dossier_status"`
}

// FieldIssue is a profile field still missing or malformed.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ProfileResult is returned when profile fields are saved.
type ProfileResult struct {
	Profile       map[string]string `json:"profile"`
	Issues        []FieldIssue      `json:"issues"`
	DossierStatus string            `json:"dossier_status"`
}

// Portal is what a trainee sees behind their link.
type Portal struct {
	Session  Session      `json:"session"`
	Trainee  Trainee      `json:"trainee"`
	Issues   []FieldIssue `json:"issues"`
	Complete bool         `json:"complete"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSession creates a session.
func (c *Client) CreateSession(ctx context.Context, name, programType, startDate, endDate, examDate string) (Session, error) {
	body := map[string]any{
		"name":         name,
		"program_type": programType,
		"start_date":   startDate,
		"end_date":     endDate,
		"exam_date":    examDate,
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", body, &resp)
	return resp, err
}

// GetSession returns a session with its trainees and report.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "sessions/"+url.PathEscape(sessionID), nil, &resp)
	return resp, err
}

// AddTrainee enrolls a trainee. The returned trainee carries the portal token.
func (c *Client) AddTrainee(ctx context.Context, sessionID, lastName, firstName, email string) (Trainee, error) {
	body := map[string]any{
		"last_name":  lastName,
		"first_name": firstName,
		"email":      email,
	}
	var resp Trainee
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "trainees"), body, &resp)
	return resp, err
}

// UpdateTrainee applies a partial update, e.g. {"funding_status": "validated"}.
func (c *Client) UpdateTrainee(ctx context.Context, sessionID, traineeID string, fields map[string]any) (Trainee, error) {
	var resp Trainee
	err := c.do(ctx, http.MethodPatch, c.traineePath(sessionID, traineeID, ""), fields, &resp)
	return resp, err
}

// UploadDocument submits a file for a document slot.
func (c *Client) UploadDocument(ctx context.Context, sessionID, traineeID, key, filename string, content io.Reader) (SlotResult, error) {
	var resp SlotResult
	err := c.upload(ctx, c.traineePath(sessionID, traineeID, "documents/"+url.PathEscape(key)), filename, content, &resp)
	return resp, err
}

// ReviewDocument records a compliant or non_compliant verdict.
func (c *Client) ReviewDocument(ctx context.Context, sessionID, traineeID, key, verdict, comment string) (SlotResult, error) {
	body := map[string]any{"verdict": verdict, "comment": comment}
	var resp SlotResult
	err := c.do(ctx, http.MethodPost, c.traineePath(sessionID, traineeID, "documents/"+url.PathEscape(key)+"/review"), body, &resp)
	return resp, err
}

// ClearDocument resets a slot and deletes its files.
func (c *Client) ClearDocument(ctx context.Context, sessionID, traineeID, key string) (SlotResult, error) {
	var resp SlotResult
	err := c.do(ctx, http.MethodDelete, c.traineePath(sessionID, traineeID, "documents/"+url.PathEscape(key)), nil, &resp)
	return resp, err
}

// DownloadDocument returns the index-th file of a slot.
func (c *Client) DownloadDocument(ctx context.Context, sessionID, traineeID, key string, index int) ([]byte, error) {
	return c.download(ctx, c.traineePath(sessionID, traineeID, fmt.Sprintf("documents/%s/files/%d", url.PathEscape(key), index)))
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Portal returns the trainee view for a portal token. No credentials are sent.
func (c *Client) Portal(ctx context.Context, token string) (Portal, error) {
	var resp Portal
	err := c.do(ctx, http.MethodGet, "portal/"+url.PathEscape(token), nil, &resp)
	return resp, err
}

// PortalSaveProfile saves profile fields on behalf of the trainee.
func (c *Client) PortalSaveProfile(ctx context.Context, token string, fields map[string]string) (ProfileResult, error) {
	var resp ProfileResult
	err := c.do(ctx, http.MethodPut, "portal/"+url.PathEscape(token)+"/profile", fields, &resp)
	return resp, err
}

// PortalUpload submits a document on behalf of the trainee.
func (c *Client) PortalUpload(ctx context.Context, token, key, filename string, content io.Reader) (SlotResult, error) {
	var resp SlotResult
	err := c.upload(ctx, "portal/"+url.PathEscape(token)+"/documents/"+url.PathEscape(key), filename, content, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := c.newRequest(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) upload(ctx context.Context, endpoint, filename string, content io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req, out)
}

func (c *Client) download(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return nil, err
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
	}
	return apiErr
}

func (c *Client) client() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) sessionPath(sessionID, p string) string {
	return fmt.Sprintf("sessions/%s/%s", url.PathEscape(sessionID), strings.TrimLeft(p, "/"))
}

func (c *Client) traineePath(sessionID, traineeID, p string) string {
	out := c.sessionPath(sessionID, "trainees/"+url.PathEscape(traineeID))
	if p != "" {
		out += "/" + strings.TrimLeft(p, "/")
	}
	return out
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
