package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

const (
	bearerScheme = "bearer"
	apiKeyScheme = "apiKey"
)

// openAPIDoc renders the API description once, after every route is
// registered. Operations mounted on chi directly are described by hand.
type openAPIDoc struct {
	api      huma.API
	basePath string

	once sync.Once
	body []byte
	err  error
}

func mountOpenAPI(r chi.Router, api huma.API, basePath string) {
	doc := &openAPIDoc{api: api, basePath: basePath}
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, req *http.Request) {
		body, err := doc.render()
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, docsPage, html.EscapeString(specPath))
	})
}

func (d *openAPIDoc) render() ([]byte, error) {
	d.once.Do(func() {
		oas := d.api.OpenAPI()
		d.describeFileRoutes(oas)
		decorate(oas, d.basePath)
		d.body, d.err = json.Marshal(oas)
	})
	return d.body, d.err
}

// decorate adds the error envelope to every operation lacking a default
// response and marks admin operations as requiring a bearer token or API key.
func decorate(oas *huma.OpenAPI, basePath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes[bearerScheme] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes[apiKeyScheme] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}

	var errSchema *huma.Schema
	if oas.Components.Schemas != nil {
		errSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "Error")
	}
	portal := path.Join(basePath, "portal") + "/"
	public := map[string]bool{path.Join(basePath, "health"): true}

	for p, item := range oas.Paths {
		open := public[p] || strings.HasPrefix(p, portal)
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			if _, ok := op.Responses["default"]; !ok {
				resp := &huma.Response{Description: "Error"}
				if errSchema != nil {
					resp.Content = map[string]*huma.MediaType{"application/json": {Schema: errSchema}}
				}
				op.Responses["default"] = resp
			}
			if !open && op.Security == nil {
				op.Security = []map[string][]string{{bearerScheme: {}}, {apiKeyScheme: {}}}
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch, item.Head, item.Options} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func (d *openAPIDoc) describeFileRoutes(oas *huma.OpenAPI) {
	admin := path.Join(d.basePath, "sessions/{session_id}/trainees/{trainee_id}")
	portal := path.Join(d.basePath, "portal/{token}")
	adminParams := []string{"session_id", "trainee_id"}
	portalParams := []string{"token"}

	oas.AddOperation(uploadOp("submitDocument", "Submit a file to a document slot", "Documents", admin+"/documents/{key}", append(adminParams, "key")))
	oas.AddOperation(downloadOp("downloadDocument", "Download a stored document file", "Documents", admin+"/documents/{key}/files/{index}", append(adminParams, "key", "index")))
	oas.AddOperation(uploadOp("attachDeliverable", "Attach a deliverable", "Deliverables", admin+"/deliverables/{kind}", append(adminParams, "kind")))
	oas.AddOperation(downloadOp("downloadDeliverable", "Download a deliverable", "Deliverables", admin+"/deliverables/{kind}", append(adminParams, "kind")))
	oas.AddOperation(uploadOp("portalSubmitDocument", "Submit a file from the trainee portal", "Portal", portal+"/documents/{key}", append(portalParams, "key")))
	oas.AddOperation(downloadOp("portalDownloadDocument", "Download an own document file", "Portal", portal+"/documents/{key}/files/{index}", append(portalParams, "key", "index")))
}

func pathParams(names []string) []*huma.Param {
	params := make([]*huma.Param, 0, len(names))
	for _, name := range names {
		typ := "string"
		if name == "index" {
			typ = "integer"
		}
		params = append(params, &huma.Param{Name: name, In: "path", Required: true, Schema: &huma.Schema{Type: typ}})
	}
	return params
}

func uploadOp(id, summary, tag, p string, params []string) *huma.Operation {
	return &huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        p,
		Summary:     summary,
		Tags:        []string{tag},
		Parameters:  pathParams(params),
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{"multipart/form-data": {Schema: &huma.Schema{
				Type:       "object",
				Required:   []string{"file"},
				Properties: map[string]*huma.Schema{"file": {Type: "string", Format: "binary"}},
			}}},
		},
		Responses: map[string]*huma.Response{
			"201": {Description: "Stored"},
		},
	}
}

func downloadOp(id, summary, tag, p string, params []string) *huma.Operation {
	return &huma.Operation{
		OperationID: id,
		Method:      http.MethodGet,
		Path:        p,
		Summary:     summary,
		Tags:        []string{tag},
		Parameters:  pathParams(params),
		Responses: map[string]*huma.Response{
			"200": {Description: "File content", Content: map[string]*huma.MediaType{
				"application/octet-stream": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
			}},
		},
	}
}

const docsPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Dossierline API</title>
<link rel="stylesheet" href="https://unpkg.com/@stoplight/elements/styles.min.css">
<script src="https://unpkg.com/@stoplight/elements/web-components.min.js"></script>
</head>
<body style="height:100vh">
<elements-api apiDescriptionUrl="%s" router="hash" layout="sidebar"></elements-api>
</body>
</html>
`
