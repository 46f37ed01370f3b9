// Package swagger registers the OpenAPI document served at /swagger/.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "description": "Returns service health status and loop tick times",
                "produces": ["application/json"],
                "summary": "Health check",
                "responses": {"200": {"description": "Health status", "schema": {"type": "object"}}}
            }
        },
        "/api/hosts": {
            "get": {
                "description": "Lists every host with its most recent backup",
                "produces": ["application/json"],
                "summary": "Host list",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.hostStatus"}}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "string"}}
                }
            }
        },
        "/api/hosts/{hostname}/backups": {
            "get": {
                "description": "Lists backup records of one host, newest first",
                "produces": ["application/json"],
                "summary": "Host backups",
                "parameters": [
                    {"type": "string", "description": "Host name", "name": "hostname", "in": "path", "required": true},
                    {"type": "integer", "default": 50, "description": "Maximum records (1-1000)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.Backup"}}},
                    "404": {"description": "Host not found", "schema": {"type": "string"}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "string"}}
                }
            }
        },
        "/api/runs": {
            "get": {
                "description": "Returns active and recently finished harness runs",
                "produces": ["application/json"],
                "summary": "Harness runs",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.runsResponse"}}}
            }
        },
        "/api/alerts": {
            "get": {
                "description": "Returns the most recent alert log entries",
                "produces": ["application/json"],
                "summary": "Alert log",
                "parameters": [
                    {"type": "integer", "default": 50, "description": "Maximum entries (1-500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.Alert"}}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "string"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "description": "Prometheus exposition of nab metrics",
                "produces": ["text/plain"],
                "summary": "Metrics",
                "responses": {"200": {"description": "Metrics", "schema": {"type": "string"}}}
            }
        },
        "/": {
            "get": {
                "description": "Full HTML status page",
                "produces": ["text/html"],
                "summary": "Status page",
                "responses": {"200": {"description": "HTML page", "schema": {"type": "string"}}}
            }
        }
    },
    "definitions": {
        "api.hostStatus": {
            "type": "object",
            "properties": {
                "host": {"$ref": "#/definitions/model.Host"},
                "last_backup": {"$ref": "#/definitions/model.Backup"},
                "last_success": {"$ref": "#/definitions/model.Backup"}
            }
        },
        "api.runsResponse": {
            "type": "object",
            "properties": {
                "active": {"type": "array", "items": {"$ref": "#/definitions/model.Run"}},
                "finished": {"type": "array", "items": {"$ref": "#/definitions/model.Run"}}
            }
        },
        "model.Host": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "backup_server_id": {"type": "integer"},
                "hostname": {"type": "string"},
                "ip_address": {"type": "string"},
                "active": {"type": "boolean"},
                "next_backup": {"type": "string"},
                "window_start": {"type": "integer"},
                "window_end": {"type": "integer"},
                "last_rsync_checksum": {"type": "string"}
            }
        },
        "model.Backup": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "host_id": {"type": "integer"},
                "storage_id": {"type": "integer"},
                "run_id": {"type": "string"},
                "generation": {"type": "string", "enum": ["daily", "weekly", "monthly"]},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "backup_pid": {"type": "integer"},
                "successful": {"type": "boolean"},
                "was_checksum_run": {"type": "boolean"},
                "harness_returncode": {"type": "integer"},
                "snapshot_location": {"type": "string"}
            }
        },
        "model.Run": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "host": {"type": "string"},
                "backup_id": {"type": "integer"},
                "generation": {"type": "string"},
                "state": {"type": "string"},
                "reason": {"type": "string"},
                "started": {"type": "string"},
                "finished": {"type": "string"},
                "exit_code": {"type": "integer"},
                "snapshot": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "model.Alert": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "ts": {"type": "string"},
                "alert_type": {"type": "string"},
                "host": {"type": "string"},
                "message": {"type": "string"},
                "severity": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "nab API",
	Description:      "Backup status, harness runs and alert history of a nab backup server.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
