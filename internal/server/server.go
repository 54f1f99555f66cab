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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sergeytimoshin/aut-contracts/internal/engine"
	"github.com/sergeytimoshin/aut-contracts/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_member"`
	Message string         `json:"message" example:"only DAO members allowed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the AutDAO API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("AutDAO API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDAOs(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerRegistry(group, cfg.Engine)
	registerDAOPlugins(group, cfg.Engine)
	registerQuests(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	switch {
	case errors.Is(err, engine.ErrNotMember):
		return newAPIError(http.StatusForbidden, "not_member", err.Error(), nil)
	case errors.Is(err, engine.ErrNotAdmin):
		return newAPIError(http.StatusForbidden, "not_admin", err.Error(), nil)
	case errors.Is(err, engine.ErrNotOrgAdmin):
		return newAPIError(http.StatusForbidden, "not_dao_admin", err.Error(), nil)
	case errors.Is(err, engine.ErrNoSuchProposal),
		errors.Is(err, engine.ErrNoSuchQuest),
		errors.Is(err, engine.ErrUnknownPluginType),
		errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyVoted):
		return newAPIError(http.StatusConflict, "already_voted", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyMember):
		return newAPIError(http.StatusConflict, "already_member", err.Error(), nil)
	case errors.Is(err, engine.ErrOutsideVotingWindow):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_voting_time", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidPlugin):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_plugin", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidWindow):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	devLoginPath := path.Join("/", basePath, "auth/dev/login")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>AutDAO API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerDAOs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dao",
		Method:        http.MethodPost,
		Path:          "/daos",
		Summary:       "Create DAO",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDAORequest `json:"body"`
	}) (*struct {
		Body DAOResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDAO(ctx, input.Body.ID, input.Body.Name, stringOrEmpty(input.Body.MetadataURI), intOrZero(input.Body.Market), identity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DAOResponse `json:"body"`
		}{Body: daoResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-daos",
		Method:      http.MethodGet,
		Path:        "/daos",
		Summary:     "List DAOs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DAOResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDAOs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DAOResponse `json:"body"`
		}{Body: mapDAOs(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dao",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}",
		Summary:     "Get DAO",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
	}) (*struct {
		Body DAOResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDAO(ctx, input.DAOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DAOResponse `json:"body"`
		}{Body: daoResponse(d)}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "mint-membership",
		Method:        http.MethodPost,
		Path:          "/daos/{dao_id}/members",
		Summary:       "Mint membership",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string            `path:"dao_id"`
		Body  MintMemberRequest `json:"body"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.MintMembership(ctx, engine.MintOptions{
			DAOID:       input.DAOID,
			Identity:    identity,
			Username:    stringOrEmpty(input.Body.Username),
			MetadataURI: stringOrEmpty(input.Body.MetadataURI),
			Role:        input.Body.Role,
			Commitment:  input.Body.Commitment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: memberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/members",
		Summary:     "List members",
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
	}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMembers(ctx, input.DAOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: mapMembers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-member",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/members/{identity}",
		Summary:     "Get member",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DAOID    string `path:"dao_id"`
		Identity string `path:"identity"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		m, err := e.Repo.GetMember(ctx, input.DAOID, input.Identity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: memberResponse(m)}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/daos/{dao_id}/proposals",
		Summary:       "Create proposal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string                `path:"dao_id"`
		Body  CreateProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := e.CreateProposal(ctx, input.DAOID, identity, input.Body.StartTime, input.Body.EndTime, input.Body.MetadataRef)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProposal(ctx, input.DAOID, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/proposals",
		Summary:     "List proposals",
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
	}) (*struct {
		Body []ProposalResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProposals(ctx, input.DAOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProposalResponse `json:"body"`
		}{Body: mapProposals(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-proposals",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/proposals/active",
		Summary:     "Active proposal ids",
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
	}) (*struct {
		Body ActiveProposalsResponse `json:"body"`
	}, error) {
		ids, err := e.ActiveProposalIDs(ctx, input.DAOID)
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []uint64{}
		}
		return &struct {
			Body ActiveProposalsResponse `json:"body"`
		}{Body: ActiveProposalsResponse{IDs: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/proposals/{id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
		ID    uint64 `path:"id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := e.GetProposal(ctx, input.DAOID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "vote",
		Method:      http.MethodPost,
		Path:        "/daos/{dao_id}/proposals/{id}/votes",
		Summary:     "Cast vote",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string      `path:"dao_id"`
		ID    uint64      `path:"id"`
		Body  VoteRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Vote(ctx, input.DAOID, identity, input.ID, input.Body.Support); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProposal(ctx, input.DAOID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})
}

func registerRegistry(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-plugin-definition",
		Method:        http.MethodPost,
		Path:          "/registry/plugins",
		Summary:       "Add plugin definition",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AddPluginDefinitionRequest `json:"body"`
	}) (*struct {
		Body PluginDefinitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ImplAddress == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "impl_address is required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := e.AddPluginDefinition(ctx, identity, input.Body.ImplAddress, input.Body.BaseURI, input.Body.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.GetPluginDefinition(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginDefinitionResponse `json:"body"`
		}{Body: definitionResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plugin-definitions",
		Method:      http.MethodGet,
		Path:        "/registry/plugins",
		Summary:     "List plugin definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PluginDefinitionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPluginDefinitions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PluginDefinitionResponse `json:"body"`
		}{Body: mapDefinitions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plugin-definition",
		Method:      http.MethodGet,
		Path:        "/registry/plugins/{plugin_type_id}",
		Summary:     "Get plugin definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PluginTypeID uint64 `path:"plugin_type_id"`
	}) (*struct {
		Body PluginDefinitionResponse `json:"body"`
	}, error) {
		d, err := e.GetPluginDefinition(ctx, input.PluginTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginDefinitionResponse `json:"body"`
		}{Body: definitionResponse(d)}, nil
	})
}

func registerDAOPlugins(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-plugin",
		Method:        http.MethodPost,
		Path:          "/daos/{dao_id}/plugins",
		Summary:       "Attach plugin to DAO",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string              `path:"dao_id"`
		Body  AttachPluginRequest `json:"body"`
	}) (*struct {
		Body PluginInstanceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.PluginTypeID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "plugin_type_id is required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		instID, err := e.AddPluginToDAO(ctx, identity, input.DAOID, input.Body.ImplAddress, input.Body.PluginTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginInstanceResponse `json:"body"`
		}{Body: PluginInstanceResponse{
			DAOID:        input.DAOID,
			InstanceID:   instID,
			PluginTypeID: input.Body.PluginTypeID,
			ImplAddress:  input.Body.ImplAddress,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dao-plugins",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/plugins",
		Summary:     "List DAO plugin instances",
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
	}) (*struct {
		Body []PluginInstanceResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPluginInstances(ctx, input.DAOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PluginInstanceResponse `json:"body"`
		}{Body: mapInstances(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plugin-registered",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/plugins/types/{plugin_type_id}",
		Summary:     "Check plugin type registration",
	}, func(ctx context.Context, input *struct {
		DAOID        string `path:"dao_id"`
		PluginTypeID uint64 `path:"plugin_type_id"`
	}) (*struct {
		Body PluginRegisteredResponse `json:"body"`
	}, error) {
		ok, err := e.IsPluginRegisteredForDAO(ctx, input.DAOID, input.PluginTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginRegisteredResponse `json:"body"`
		}{Body: PluginRegisteredResponse{
			DAOID:        input.DAOID,
			PluginTypeID: input.PluginTypeID,
			Registered:   ok,
		}}, nil
	})
}

func registerQuests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-quest",
		Method:        http.MethodPost,
		Path:          "/daos/{dao_id}/quests",
		Summary:       "Create quest",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string             `path:"dao_id"`
		Body  CreateQuestRequest `json:"body"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := e.CreateQuest(ctx, input.DAOID, identity, input.Body.RequiredRole, input.Body.MetadataRef)
		if err != nil {
			return nil, handleError(err)
		}
		q, err := e.GetQuest(ctx, input.DAOID, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quests",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/quests",
		Summary:     "List quests",
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
	}) (*struct {
		Body []QuestResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListQuests(ctx, input.DAOID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QuestResponse `json:"body"`
		}{Body: mapQuests(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quest",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/quests/{id}",
		Summary:     "Get quest",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
		ID    uint64 `path:"id"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		q, err := e.GetQuest(ctx, input.DAOID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quest-tasks",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/quests/{id}/tasks",
		Summary:     "List quest task refs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DAOID string `path:"dao_id"`
		ID    uint64 `path:"id"`
	}) (*struct {
		Body []TaskRefResponse `json:"body"`
	}, error) {
		refs, err := e.TasksPerQuest(ctx, input.DAOID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskRefResponse `json:"body"`
		}{Body: mapTaskRefs(refs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-quest-tasks",
		Method:      http.MethodPost,
		Path:        "/daos/{dao_id}/quests/{id}/tasks",
		Summary:     "Add task refs to quest",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string                  `path:"dao_id"`
		ID    uint64                  `path:"id"`
		Body  MutateQuestTasksRequest `json:"body"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddTasks(ctx, input.DAOID, identity, input.ID, taskRefsFromRequest(input.Body.Refs)); err != nil {
			return nil, handleError(err)
		}
		q, err := e.GetQuest(ctx, input.DAOID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-quest-tasks",
		Method:      http.MethodPost,
		Path:        "/daos/{dao_id}/quests/{id}/tasks/remove",
		Summary:     "Remove task refs from quest",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string                  `path:"dao_id"`
		ID    uint64                  `path:"id"`
		Body  MutateQuestTasksRequest `json:"body"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveTasks(ctx, input.DAOID, identity, input.ID, taskRefsFromRequest(input.Body.Refs)); err != nil {
			return nil, handleError(err)
		}
		q, err := e.GetQuest(ctx, input.DAOID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-quest-task",
		Method:        http.MethodPost,
		Path:          "/daos/{dao_id}/quests/{id}/tasks/create",
		Summary:       "Create task and link it to quest",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DAOID string                 `path:"dao_id"`
		ID    uint64                 `path:"id"`
		Body  CreateQuestTaskRequest `json:"body"`
	}) (*struct {
		Body PluginTaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.PluginTypeID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "plugin_type_id is required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateQuestTask(ctx, engine.TaskCreateOptions{
			DAOID:        input.DAOID,
			Caller:       identity,
			QuestID:      input.ID,
			PluginTypeID: input.Body.PluginTypeID,
			Role:         input.Body.Role,
			URI:          input.Body.URI,
			StartTime:    input.Body.StartTime,
			EndTime:      input.Body.EndTime,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PluginTaskResponse `json:"body"`
		}{Body: pluginTaskResponse(t)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/daos/{dao_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DAOID      string `path:"dao_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"dao,member,proposal,plugin_definition,plugin_instance,quest,task"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, input.DAOID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapEvents(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

type WhoAmIResponse struct {
	Identity string   `json:"identity"`
	Roles    []string `json:"roles"`
	Source   string   `json:"source"`
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.Identity == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles := p.Roles
		if roles == nil {
			roles = []string{}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{Identity: p.Identity, Roles: roles, Source: p.Source}}, nil
	})
}

type DevLoginRequest struct {
	Identity string   `json:"identity"`
	Roles    []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity := strings.TrimSpace(input.Body.Identity)
		if identity == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "identity is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, identity, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func signDevToken(secret, identity string, roles []string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
