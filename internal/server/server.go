package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"dealroom/internal/domain"
	"dealroom/internal/engine"
	"dealroom/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"negotiation is agreed, not active"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the deal room API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Dealroom API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDirectory(group, cfg.Engine)
	registerIntake(group, cfg.Engine)
	registerNegotiations(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	if len(cfg.CORSOrigins) == 0 {
		return router, nil
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Actor-Id"},
		AllowCredentials: true,
	})
	return c.Handler(router), nil
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

// handleError maps structured engine errors onto the envelope. Anything without a kind is
// an internal error whose message is not echoed back.
func handleError(err error) huma.StatusError {
	return handleErrorWithDetails(err, nil)
}

func handleErrorWithDetails(err error, details map[string]any) huma.StatusError {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case domain.KindValidation:
			return newAPIError(http.StatusBadRequest, string(de.Kind), de.Message, details)
		case domain.KindNotFound:
			return newAPIError(http.StatusNotFound, string(de.Kind), de.Message, details)
		case domain.KindConflict:
			return newAPIError(http.StatusConflict, string(de.Kind), de.Message, details)
		case domain.KindTransientStore:
			return newAPIError(http.StatusServiceUnavailable, string(de.Kind), de.Message, details)
		}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusServiceUnavailable:
		return "transient_store"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func requireBody(ctx context.Context) huma.StatusError {
	if len(bytes.TrimSpace(bodyBytes(ctx))) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dealroom API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-campaign",
		Method:      http.MethodPut,
		Path:        "/campaigns/{id}",
		Summary:     "Create or replace a campaign",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpsertCampaignRequest `json:"body"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpsertCampaign(ctx, domain.Campaign{
			ID:                  input.ID,
			Name:                input.Body.Name,
			Budget:              input.Body.Budget,
			DefaultDeliverables: input.Body.DefaultDeliverables,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-campaign",
		Method:      http.MethodGet,
		Path:        "/campaigns/{id}",
		Summary:     "Get campaign",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		c, err := e.GetCampaign(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-creator",
		Method:      http.MethodPut,
		Path:        "/creators/{id}",
		Summary:     "Create or replace a creator profile",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpsertCreatorRequest `json:"body"`
	}) (*struct {
		Body domain.CreatorProfile `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpsertCreator(ctx, domain.CreatorProfile{
			ID:             input.ID,
			DisplayName:    input.Body.DisplayName,
			EngagementRate: input.Body.EngagementRate,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CreatorProfile `json:"body"`
		}{Body: p}, nil
	})
}

func registerIntake(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "extract-terms",
		Method:      http.MethodPost,
		Path:        "/extract",
		Summary:     "Preview term extraction for a message",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ExtractRequest `json:"body"`
	}) (*struct {
		Body engine.ResponseOutcome `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		res := e.Preview(ctx, input.Body.CampaignID, input.Body.Content)
		return &struct {
			Body engine.ResponseOutcome `json:"body"`
		}{Body: engine.ResponseOutcome{Extraction: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-communication",
		Method:        http.MethodPost,
		Path:          "/communications",
		Summary:       "Record a creator reply and open a negotiation when it qualifies",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CommunicationRequest `json:"body"`
	}) (*struct {
		Status int
		Body   engine.ResponseOutcome `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.RecordCreatorResponse(ctx, communicationFromRequest(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if out.Created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   engine.ResponseOutcome `json:"body"`
		}{Status: status, Body: out}, nil
	})
}

func registerNegotiations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-negotiations",
		Method:      http.MethodGet,
		Path:        "/negotiations",
		Summary:     "List negotiations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CampaignID string `query:"campaign_id"`
		CreatorID  string `query:"creator_id"`
		Status     string `query:"status" enum:"active,agreed,declined,contracted"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body negotiationList `json:"body"`
	}, error) {
		items, err := e.ListNegotiations(ctx, repo.NegotiationFilter{
			CampaignID: input.CampaignID,
			CreatorID:  input.CreatorID,
			Status:     input.Status,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Negotiation{}
		}
		return &struct {
			Body negotiationList `json:"body"`
		}{Body: negotiationList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-negotiation",
		Method:      http.MethodGet,
		Path:        "/negotiations/{id}",
		Summary:     "Get negotiation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Negotiation `json:"body"`
	}, error) {
		n, err := e.GetNegotiation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Negotiation `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rounds",
		Method:      http.MethodGet,
		Path:        "/negotiations/{id}/rounds",
		Summary:     "List negotiation rounds in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body roundList `json:"body"`
	}, error) {
		rounds, err := e.ListRounds(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if rounds == nil {
			rounds = []domain.NegotiationRound{}
		}
		return &struct {
			Body roundList `json:"body"`
		}{Body: roundList{Items: rounds}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-counter-offer",
		Method:      http.MethodPost,
		Path:        "/negotiations/{id}/counter-offers",
		Summary:     "Submit a brand counter-offer",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CounterOfferRequest `json:"body"`
	}) (*struct {
		Body engine.CounterOutcome `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.SubmitCounterOffer(ctx, counterOfferInput(input.ID, actorID, input.Body))
		if err != nil {
			var details map[string]any
			if domain.KindOf(err) == domain.KindTransientStore {
				details = map[string]any{"analysis": out.Analysis}
			}
			return nil, handleErrorWithDetails(err, details)
		}
		return &struct {
			Body engine.CounterOutcome `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-negotiation",
		Method:      http.MethodPost,
		Path:        "/negotiations/{id}/resolution",
		Summary:     "Record the creator's final decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body ResolutionRequest `json:"body"`
	}) (*struct {
		Body domain.Negotiation `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ResolveNegotiation(ctx, engine.ResolveInput{
			NegotiationID: input.ID,
			Decision:      input.Body.Decision,
			Message:       derefString(input.Body.Message),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Negotiation `json:"body"`
		}{Body: n}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-contract",
		Method:        http.MethodPost,
		Path:          "/negotiations/{id}/contract",
		Summary:       "Generate the contract for an agreed negotiation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GenerateContract(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contract `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{id}",
		Summary:     "Get contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		c, err := e.GetContract(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contract `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-contract",
		Method:      http.MethodPost,
		Path:        "/contracts/{id}/signatures",
		Summary:     "Record a party's signature",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SignatureRequest `json:"body"`
	}) (*struct {
		Body domain.Contract `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Sign(ctx, engine.SignInput{
			ContractID: input.ID,
			Signer:     input.Body.Signer,
			Signature:  input.Body.Signature,
			Metadata:   input.Body.Metadata,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contract `json:"body"`
		}{Body: c}, nil
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
		CampaignID string `query:"campaign_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"campaign,creator,communication,negotiation,contract,collaboration"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.LatestEvents(ctx, repo.EventFilter{
			CampaignID: input.CampaignID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
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
