package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/engine"
	"dossierline/internal/fileref"
	"dossierline/internal/metrics"
	"dossierline/internal/repo"
	"dossierline/internal/storage"
)

// maxJSONBody caps non-multipart request bodies, which are buffered in full.
const maxJSONBody = 1 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unknown_document_key"`
	Message string         `json:"message" example:"unknown document key: driving_license for program APS"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type traineePath struct {
	SessionID string `path:"session_id"`
	TraineeID string `path:"trainee_id"`
}

type documentPath struct {
	SessionID string `path:"session_id"`
	TraineeID string `path:"trainee_id"`
	Key       string `path:"key"`
}

// New returns an HTTP handler exposing the admin API and the trainee portal.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cfg.Metrics.Middleware)
	router.Use(requestLogger(log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// uploads are streamed by their own handlers
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				next.ServeHTTP(w, r)
				return
			}
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "too_large",
						fmt.Sprintf("request body exceeds %d bytes", maxJSONBody), nil))
					return
				}
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "read request body", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Dossierline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerHealth(group)
	registerMe(group)
	registerCatalog(group)
	registerSessions(group, e)
	registerTrainees(group, e)
	registerDocuments(group, e)
	registerEvents(group, e)
	registerStore(group, e)
	registerAPIKeys(group, e)
	registerPortal(group, e)
	registerFiles(router, basePath, e)
	mountOpenAPI(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}

	return router, nil
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			switch {
			case ww.Status() >= 500:
				entry.Error("request failed")
			case r.URL.Path == "/metrics" || strings.HasSuffix(r.URL.Path, "/health"):
				entry.Debug("request")
			default:
				entry.Info("request")
			}
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	var fe *dossier.FieldError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, catalog.ErrUnknownDocumentKey):
		return newAPIError(http.StatusNotFound, "unknown_document_key", msg, nil)
	case errors.Is(err, fileref.ErrInvalidReference):
		return newAPIError(http.StatusBadRequest, "invalid_reference", msg, nil)
	case errors.Is(err, catalog.ErrUnsupportedContent):
		return newAPIError(http.StatusUnsupportedMediaType, "unsupported_content", msg, nil)
	case errors.Is(err, storage.ErrTooLarge):
		return newAPIError(http.StatusRequestEntityTooLarge, "too_large", msg, nil)
	case errors.As(err, &fe):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_profile_value", msg, map[string]any{"field": fe.Field})
	case errors.Is(err, dossier.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, domain.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, catalog.ErrUnknownProgram):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[WhoAmIResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return reply(WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}), nil
	})
}

func registerCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-programs",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Required documents for every program type",
	}, func(ctx context.Context, _ *struct{}) (*out[[]CatalogResponse], error) {
		items := []CatalogResponse{}
		for _, pt := range catalog.ProgramTypes() {
			items = append(items, catalogResponse(pt))
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog/{program_type}",
		Summary:     "Required documents for a program type",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProgramType string `path:"program_type"`
	}) (*out[CatalogResponse], error) {
		pt, err := catalog.ParseProgramType(input.ProgramType)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(catalogResponse(pt)), nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Create session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*out[SessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSession(ctx, engine.SessionInput{
			Name:        input.Body.Name,
			ProgramType: input.Body.ProgramType,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
			ExamDate:    input.Body.ExamDate,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions, newest first",
	}, func(ctx context.Context, input *struct {
		IncludeArchived bool `query:"include_archived"`
	}) (*out[SessionListResponse], error) {
		items, err := e.ListSessions(ctx, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(SessionListResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session with trainees",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*out[SessionResponse], error) {
		s, err := e.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-report",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/report",
		Summary:     "Session conformity report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*out[dossier.SessionReport], error) {
		s, err := e.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(e.EvaluateSession(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-session",
		Method:      http.MethodPatch,
		Path:        "/sessions/{session_id}",
		Summary:     "Update session",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string               `path:"session_id"`
		Body      UpdateSessionRequest `json:"body"`
	}) (*out[SessionResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSession(ctx, input.SessionID, engine.SessionPatch{
			Name:        input.Body.Name,
			ProgramType: input.Body.ProgramType,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
			ExamDate:    input.Body.ExamDate,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/archive",
		Summary:     "Archive or unarchive a session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string                `path:"session_id"`
		Body      ArchiveSessionRequest `json:"body"`
	}) (*out[SessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ArchiveSession(ctx, input.SessionID, input.Body.Archived, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Delete session and its stored content",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSession(ctx, input.SessionID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTrainees(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-trainee",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/trainees",
		Summary:       "Enroll a trainee",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string               `path:"session_id"`
		Body      CreateTraineeRequest `json:"body"`
	}) (*out[domain.Trainee], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddTrainee(ctx, input.SessionID, engine.TraineeInput{
			LastName:  input.Body.LastName,
			FirstName: input.Body.FirstName,
			Email:     input.Body.Email,
			Phone:     input.Body.Phone,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trainee",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/trainees/{trainee_id}",
		Summary:     "Get trainee",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *traineePath) (*out[domain.Trainee], error) {
		t, err := e.GetTrainee(ctx, input.SessionID, input.TraineeID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-trainee",
		Method:      http.MethodPatch,
		Path:        "/sessions/{session_id}/trainees/{trainee_id}",
		Summary:     "Update trainee statuses, contact details, waiver or comment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string               `path:"session_id"`
		TraineeID string               `path:"trainee_id"`
		Body      UpdateTraineeRequest `json:"body"`
	}) (*out[domain.Trainee], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, ok := rawBodyMap(ctx)["dossier_status"]; ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "dossier_status is derived and cannot be set", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := e.UpdateTrainee(ctx, input.SessionID, input.TraineeID, engine.TraineePatch{
			LastName:            b.LastName,
			FirstName:           b.FirstName,
			Email:               b.Email,
			Phone:               b.Phone,
			ConventionStatus:    b.ConventionStatus,
			TestFrStatus:        b.TestFrStatus,
			FundingStatus:       b.FundingStatus,
			QualificationStatus: b.QualificationStatus,
			ClearanceStatus:     b.ClearanceStatus,
			AccommodationStatus: b.AccommodationStatus,
			LicenseWaiver:       b.LicenseWaiver,
			Comment:             b.Comment,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-trainee",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}/trainees/{trainee_id}",
		Summary:       "Remove trainee and their stored content",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *traineePath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTrainee(ctx, input.SessionID, input.TraineeID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/trainees/{trainee_id}/profile",
		Summary:     "Save profile fields and return validation feedback",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string            `path:"session_id"`
		TraineeID string            `path:"trainee_id"`
		Body      map[string]string `json:"body"`
	}) (*out[engine.ProfileResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateProfile(ctx, input.SessionID, input.TraineeID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "review-document",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/trainees/{trainee_id}/documents/{key}/review",
		Summary:     "Record a reviewer verdict",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string                `path:"session_id"`
		TraineeID string                `path:"trainee_id"`
		Key       string                `path:"key"`
		Body      ReviewDocumentRequest `json:"body"`
	}) (*out[engine.SlotResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReviewDocument(ctx, input.SessionID, input.TraineeID, input.Key, input.Body.Verdict, input.Body.Comment, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-document",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/trainees/{trainee_id}/documents/{key}",
		Summary:     "Reset a document slot and delete its files",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *documentPath) (*out[engine.SlotResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ClearDocument(ctx, input.SessionID, input.TraineeID, input.Key, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID  string `query:"session_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"session,trainee,store"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, limit+1, cursorID, repo.EventFilter{
			SessionID:  input.SessionID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func registerStore(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-store",
		Method:      http.MethodGet,
		Path:        "/store",
		Summary:     "Canonical store document",
	}, func(ctx context.Context, _ *struct{}) (*out[domain.Store], error) {
		store, err := e.LoadCanonical(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(store), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "normalize-store",
		Method:      http.MethodPost,
		Path:        "/store/normalize",
		Summary:     "Rewrite the stored document in canonical form",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*out[NormalizeResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		changed, err := e.NormalizeStore(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(NormalizeResponse{Changed: changed}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-backups",
		Method:      http.MethodGet,
		Path:        "/store/backups",
		Summary:     "Payloads kept before an import or a corrupt overwrite",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Backup], error) {
		items, err := e.Repo.ListBackups(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*out[APIKeyResponse], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		k, plain, err := e.Repo.CreateAPIKey(ctx, input.Body.ActorID, input.Body.Name, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(apiKeyResponse(k, plain)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*out[[]APIKeyResponse], error) {
		keys, err := e.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			items = append(items, apiKeyResponse(k, ""))
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func portalActor(t domain.Trainee) string { return "portal:" + t.ID }

func registerPortal(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "portal-view",
		Method:      http.MethodGet,
		Path:        "/portal/{token}",
		Summary:     "Trainee view of their dossier",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*out[PortalResponse], error) {
		s, t, err := e.FindByToken(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(portalResponse(s, t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "portal-update-profile",
		Method:      http.MethodPut,
		Path:        "/portal/{token}/profile",
		Summary:     "Trainee saves profile fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Token string            `path:"token"`
		Body  map[string]string `json:"body"`
	}) (*out[engine.ProfileResult], error) {
		s, t, err := e.FindByToken(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.UpdateProfile(ctx, s.ID, t.ID, input.Body, portalActor(t))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
