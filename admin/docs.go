package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
)

// DocsInstance is the swag registry name of the admin API document.
const DocsInstance = "habitcache-admin"

// Docs describes the admin routes. Host is left empty so the UI calls
// whatever address served it.
var Docs = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "habitcache admin API",
	Description:      "Inspect and invalidate the cache of a running habitcache process.",
	InfoInstanceName: DocsInstance,
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(Docs.InstanceName(), Docs)
}

func (s *Server) docsRoutes(r *gin.Engine) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.InstanceName(DocsInstance),
		ginSwagger.DeepLinking(true),
	))
	r.GET("/openapi.json", func(c *gin.Context) {
		doc, err := swag.ReadDoc(DocsInstance)
		if err != nil {
			handleError(c, s.log, ErrDocsUnavailable.Wrap(err))
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
	})
}

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "produces": ["application/json"],
    "paths": {
        "/healthz": {
            "get": {
                "summary": "Aggregated health of the engine and its durable store",
                "responses": {
                    "200": {"description": "healthy or degraded"},
                    "503": {"description": "unhealthy"}
                }
            }
        },
        "/stats": {
            "get": {
                "summary": "Engine counters and hit ratio",
                "responses": {"200": {"description": "stats snapshot"}}
            }
        },
        "/entries": {
            "get": {
                "summary": "List cached keys",
                "responses": {"200": {"description": "key list"}}
            },
            "delete": {
                "summary": "Invalidate by substring pattern or by kind",
                "parameters": [
                    {"name": "pattern", "in": "query", "type": "string"},
                    {"name": "kind", "in": "query", "type": "string"},
                    {"name": "param", "in": "query", "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"}
                ],
                "responses": {
                    "200": {"description": "number of removed keys"},
                    "400": {"description": "neither or both of pattern and kind"}
                }
            }
        },
        "/entries/{key}": {
            "get": {
                "summary": "One entry with its metadata",
                "parameters": [{"name": "key", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "entry"},
                    "404": {"description": "not cached"}
                }
            },
            "delete": {
                "summary": "Remove one key from both tiers",
                "parameters": [{"name": "key", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "removed flag"}}
            }
        },
        "/sweep": {
            "post": {
                "summary": "Evict expired and outdated entries now",
                "responses": {"200": {"description": "number of evicted entries"}}
            }
        }
    }
}`
