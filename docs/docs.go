// Package docs holds the OpenAPI description served at /swagger when
// SWAGGER_ENABLED is set. Regenerate with `swag init -g cmd/server/main.go`
// after changing handler annotations.
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
        "/auth/register": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Register an account",
                "operationId": "register",
                "parameters": [
                    {"description": "Account", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.UserSummary"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Username taken", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Exchange credentials for a bearer token",
                "operationId": "login",
                "parameters": [
                    {"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TokenResponse"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/password": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["Auth"],
                "summary": "Change the caller's password",
                "operationId": "changePassword",
                "parameters": [
                    {"description": "Passwords", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ChangePasswordRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "List other registered users",
                "operationId": "listUsers",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UsersResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List the caller's chat partners",
                "operationId": "listChats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ChatsResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Fetch a conversation, oldest first",
                "operationId": "getHistory",
                "parameters": [
                    {"type": "string", "name": "username1", "in": "query", "required": true},
                    {"type": "string", "name": "username2", "in": "query", "required": true},
                    {"type": "integer", "name": "limit", "in": "query", "description": "Newest N messages (max 1000)"},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HistoryResponse"}},
                    "304": {"description": "Not Modified"},
                    "403": {"description": "Not a party to the conversation", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a direct message",
                "operationId": "sendMessage",
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header", "description": "Idempotency key for safe retries"},
                    {"description": "Message payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Stored", "schema": {"$ref": "#/definitions/handlers.SendMessageResponse"}},
                    "200": {"description": "Replay of an earlier send", "schema": {"$ref": "#/definitions/handlers.SendMessageResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Storage unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/files": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/octet-stream"],
                "produces": ["application/json"],
                "tags": ["Files"],
                "summary": "Upload an attachment",
                "operationId": "uploadFile",
                "parameters": [
                    {"type": "string", "name": "name", "in": "query", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.UploadResponse"}},
                    "413": {"description": "Too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/files/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/octet-stream"],
                "tags": ["Files"],
                "summary": "Download an attachment",
                "operationId": "downloadFile",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Deleted", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Files"],
                "summary": "Delete an attachment",
                "operationId": "deleteFile",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Not the uploader", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Already deleted", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/profile/visible-name": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Profile"],
                "summary": "Get a visible name",
                "operationId": "getVisibleName",
                "parameters": [
                    {"type": "string", "name": "username", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.VisibleNameResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["Profile"],
                "summary": "Set the caller's visible name",
                "operationId": "setVisibleName",
                "parameters": [
                    {"description": "Name", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.VisibleNameRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/profile/picture": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["image/png", "image/jpeg"],
                "tags": ["Profile"],
                "summary": "Get a profile picture",
                "operationId": "getPicture",
                "parameters": [
                    {"type": "string", "name": "username", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "No picture", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["image/png", "image/jpeg", "image/gif"],
                "tags": ["Profile"],
                "summary": "Set the caller's profile picture",
                "operationId": "setPicture",
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Not an image", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Profile"],
                "summary": "Remove the caller's profile picture",
                "operationId": "deletePicture",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "bad_request"},
                "message": {"type": "string"}
            }
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "required": ["username", "email", "password"],
            "properties": {
                "username": {"type": "string", "example": "alice"},
                "email": {"type": "string", "example": "alice@example.com"},
                "password": {"type": "string"}
            }
        },
        "handlers.LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string", "example": "alice"},
                "password": {"type": "string"}
            }
        },
        "handlers.ChangePasswordRequest": {
            "type": "object",
            "required": ["old_password", "new_password"],
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string"}
            }
        },
        "handlers.TokenResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "token_type": {"type": "string", "example": "Bearer"},
                "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.UserSummary": {
            "type": "object",
            "properties": {
                "username": {"type": "string", "example": "bob"},
                "visible_name": {"type": "string", "example": "Bob"}
            }
        },
        "handlers.UsersResponse": {
            "type": "object",
            "properties": {
                "users": {"type": "array", "items": {"$ref": "#/definitions/handlers.UserSummary"}}
            }
        },
        "handlers.ChatsResponse": {
            "type": "object",
            "properties": {
                "partners": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "required": ["recipient"],
            "properties": {
                "recipient": {"type": "string", "example": "bob"},
                "body": {"type": "string", "example": "see attached"},
                "file_id": {"type": "integer", "example": 3}
            }
        },
        "handlers.SendMessageResponse": {
            "type": "object",
            "properties": {
                "message": {"$ref": "#/definitions/domain.MessageRecord"},
                "delivery": {"type": "string", "enum": ["delivered", "queued"]},
                "replayed": {"type": "boolean"}
            }
        },
        "handlers.HistoryResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.HistoryEntry"}}
            }
        },
        "handlers.UploadResponse": {
            "type": "object",
            "properties": {
                "file_id": {"type": "integer"},
                "filename": {"type": "string"},
                "size": {"type": "integer"}
            }
        },
        "handlers.VisibleNameRequest": {
            "type": "object",
            "required": ["visible_name"],
            "properties": {
                "visible_name": {"type": "string", "example": "Alice A."}
            }
        },
        "handlers.VisibleNameResponse": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "visible_name": {"type": "string"}
            }
        },
        "domain.MessageRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "sender": {"type": "string"},
                "recipient": {"type": "string"},
                "body": {"type": "string"},
                "file_id": {"type": "integer"},
                "file_name": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "domain.HistoryEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "body": {"type": "string"},
                "sender": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "file_id": {"type": "integer"},
                "file_name": {"type": "string"},
                "file_status": {"type": "string", "enum": ["available", "gone"]}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Direct Messaging API",
	Description:      "One-to-one messaging with realtime delivery over WebSocket.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
