// Package docs registers the OpenAPI document served at /swagger/doc.json.
// Regenerate with: swag init -g cmd/unified-se/main.go -o internal/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {"tags": ["Health"], "summary": "Health check", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}}}}
        },
        "/ready": {
            "get": {"tags": ["Health"], "summary": "Readiness check", "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.StatusResponse"}}
                }}
        },
        "/api/v1/consents": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Consents"], "summary": "List consents",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Consent"}}}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["Consents"], "summary": "Create consent",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/driving.CreateConsentRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Consent"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "403": {"description": "Consent limit reached", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }}
        },
        "/api/v1/consents/{id}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Consents"], "summary": "Get consent",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Consent"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }},
            "patch": {"security": [{"BearerAuth": []}], "tags": ["Consents"], "summary": "Update consent",
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"type": "string", "in": "header", "name": "If-Match"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Consent"}},
                    "412": {"description": "Stale etag", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }},
            "delete": {"security": [{"BearerAuth": []}], "tags": ["Consents"], "summary": "Delete consent",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"204": {"description": "No Content"}}}
        },
        "/api/v1/consents/{id}/one-time-codes": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Consents"], "summary": "Issue onboarding code",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.OneTimeCode"}}}}
        },
        "/api/v1/onboarding/{code}": {
            "post": {"tags": ["Onboarding"], "summary": "Redeem onboarding code",
                "parameters": [{"type": "string", "in": "path", "name": "code", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.SessionToken"}}}}
        },
        "/api/v1/consents/{id}/sync": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Sync"], "summary": "Sync consent resources",
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"in": "body", "name": "request", "schema": {"$ref": "#/definitions/driving.SyncRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.SyncResult"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/domain.SyncRun"}},
                    "409": {"description": "A lease is held", "schema": {"$ref": "#/definitions/http.ConflictResponse"}}
                }}
        },
        "/api/v1/consents/{id}/sync/status": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Sync"], "summary": "Sync status",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.SyncStatusReport"}}}}
        },
        "/api/v1/consents/{id}/records": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Sync"], "summary": "List synced records",
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"type": "string", "in": "query", "name": "resourceType", "required": true},
                    {"type": "integer", "in": "query", "name": "limit"},
                    {"type": "integer", "in": "query", "name": "offset"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.RecordPage"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }}
        },
        "/api/v1/providers": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Provider auth"], "summary": "List providers",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.ProviderDescription"}}}}}
        },
        "/api/v1/auth/{provider}/url": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Provider auth"], "summary": "Start OAuth flow",
                "parameters": [
                    {"enum": ["fortnox", "visma"], "type": "string", "in": "path", "name": "provider", "required": true},
                    {"type": "string", "in": "query", "name": "consentId", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/driving.AuthorizeResponse"}}}}
        },
        "/api/v1/auth/{provider}/exchange": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Provider auth"], "summary": "Exchange provider credentials",
                "parameters": [
                    {"type": "string", "in": "path", "name": "provider", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/driving.ExchangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Consent"}},
                    "502": {"description": "Provider rejected the exchange", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }}
        },
        "/api/v1/auth/{provider}/refresh": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Provider auth"], "summary": "Refresh provider token",
                "parameters": [{"type": "string", "in": "path", "name": "provider", "required": true}],
                "responses": {"204": {"description": "No Content"}}}
        },
        "/api/v1/auth/{provider}/revoke": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Provider auth"], "summary": "Revoke provider token",
                "parameters": [{"type": "string", "in": "path", "name": "provider", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Consent"}}}}
        },
        "/api/v1/api-keys": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["API keys"], "summary": "Issue API key",
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/http.IssueAPIKeyResponse"}}}}
        },
        "/api/v1/api-keys/{id}": {
            "delete": {"security": [{"BearerAuth": []}], "tags": ["API keys"], "summary": "Revoke API key",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"204": {"description": "No Content"}}}
        }
    },
    "definitions": {
        "domain.Consent": {"type": "object", "properties": {
            "id": {"type": "string"}, "tenantId": {"type": "string"}, "name": {"type": "string"},
            "status": {"type": "string", "enum": ["Created", "Accepted", "Revoked", "Inactive"]},
            "provider": {"type": "string"}, "orgNumber": {"type": "string"}, "companyName": {"type": "string"},
            "providerSettingsId": {"type": "string"}, "etag": {"type": "string"},
            "createdAt": {"type": "string"}, "updatedAt": {"type": "string"}, "expiresAt": {"type": "string"}
        }},
        "domain.OneTimeCode": {"type": "object", "properties": {
            "code": {"type": "string"}, "consentId": {"type": "string"}, "expiresAt": {"type": "string"}
        }},
        "domain.SessionToken": {"type": "object", "properties": {
            "token": {"type": "string"}, "expiresAt": {"type": "string"}, "consentId": {"type": "string"}
        }},
        "domain.SyncResult": {"type": "object", "properties": {
            "consentId": {"type": "string"}, "runId": {"type": "string"}, "status": {"type": "string"},
            "totalRecordsSynced": {"type": "integer"}, "durationSeconds": {"type": "number"}
        }},
        "domain.SyncRun": {"type": "object", "properties": {
            "runId": {"type": "string"}, "consentId": {"type": "string"}, "taskId": {"type": "string"},
            "resourceTypes": {"type": "array", "items": {"type": "string"}}
        }},
        "domain.SyncStatusReport": {"type": "object", "properties": {
            "consentId": {"type": "string"}, "overall": {"type": "string"}
        }},
        "domain.RecordPage": {"type": "object", "properties": {
            "consentId": {"type": "string"}, "resourceType": {"type": "string"},
            "limit": {"type": "integer"}, "offset": {"type": "integer"}, "total": {"type": "integer"},
            "records": {"type": "array", "items": {"type": "object", "properties": {
                "externalId": {"type": "string"}, "data": {"type": "string", "format": "byte"}, "syncedAt": {"type": "string"}
            }}}
        }},
        "domain.ProviderDescription": {"type": "object", "properties": {
            "type": {"type": "string"}, "name": {"type": "string"}, "variant": {"type": "string"},
            "resources": {"type": "array", "items": {"type": "string"}},
            "capabilities": {"type": "object", "properties": {
                "authUrl": {"type": "boolean"}, "exchange": {"type": "boolean"},
                "refresh": {"type": "boolean"}, "revoke": {"type": "boolean"}
            }}
        }},
        "driving.CreateConsentRequest": {"type": "object", "properties": {
            "name": {"type": "string", "example": "Acme AB"}, "provider": {"type": "string", "example": "fortnox"},
            "orgNumber": {"type": "string"}, "companyName": {"type": "string"}, "companyId": {"type": "string"}
        }},
        "driving.SyncRequest": {"type": "object", "properties": {
            "resourceTypes": {"type": "array", "items": {"type": "string"}}, "async": {"type": "boolean"}
        }},
        "driving.AuthorizeResponse": {"type": "object", "properties": {
            "url": {"type": "string"}, "state": {"type": "string"}, "expiresAt": {"type": "string"}
        }},
        "driving.ExchangeRequest": {"type": "object", "properties": {
            "consentId": {"type": "string"}, "code": {"type": "string"}, "state": {"type": "string"},
            "applicationToken": {"type": "string"}, "apiToken": {"type": "string"}, "companyId": {"type": "string"}
        }},
        "http.ErrorResponse": {"type": "object", "properties": {
            "error": {"type": "string"}, "code": {"type": "string"}
        }},
        "http.ConflictResponse": {"type": "object", "properties": {
            "error": {"type": "string"}, "code": {"type": "string"},
            "held": {"type": "array", "items": {"type": "string"}}
        }},
        "http.StatusResponse": {"type": "object", "properties": {
            "status": {"type": "string"}, "checks": {"type": "object", "additionalProperties": {"type": "string"}}
        }},
        "http.IssueAPIKeyResponse": {"type": "object", "properties": {
            "key": {"type": "string"}
        }}
    },
    "securityDefinitions": {
        "BearerAuth": {"description": "API key or session token. Format: \"Bearer {token}\"", "type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Unified SE API",
	Description:      "Consent, provider token and resource sync API for Swedish accounting systems.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
