package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Studio API",
        "description": "Credit ledger and attendance backend for a pilates studio",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Students", "description": "Roster management"},
        {"name": "Credits", "description": "Balance mutations and ledger history"},
        {"name": "Attendance", "description": "Check-ins against class occurrences"},
        {"name": "Classes", "description": "Class offerings, weekly slots and enrollments"},
        {"name": "Alerts", "description": "Derived low and zero credit listings"},
        {"name": "Reports", "description": "CSV and PDF exports"},
        {"name": "Notifications", "description": "Manual notification triggers"}
    ],
    "paths": {
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Register student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student detail with credit balances",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Students"],
                "summary": "Update student profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/credits": {
            "get": {
                "tags": ["Credits"],
                "summary": "Get a student's current balances",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/credits/audit": {
            "get": {
                "tags": ["Credits"],
                "summary": "Verify a student's ledger against their balances",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Get a student's attendance history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/credits/adjust": {
            "post": {
                "tags": ["Credits"],
                "summary": "Apply a credit balance change",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AdjustBalanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"}
                }
            }
        },
        "/credits/ledger": {
            "get": {
                "tags": ["Credits"],
                "summary": "Query the balance history",
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/mark": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Mark a student's attendance for a class occurrence",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List attendance records",
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "schedule_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes": {
            "get": {
                "tags": ["Classes"],
                "summary": "List class offerings",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Classes"],
                "summary": "Create a class offering",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateClassRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes/{id}": {
            "get": {
                "tags": ["Classes"],
                "summary": "Get a class with its weekly slots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules": {
            "post": {
                "tags": ["Classes"],
                "summary": "Add a weekly slot to a class",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateScheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{scheduleId}/roster": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Get the sheet for one class occurrence",
                "parameters": [
                    {"name": "scheduleId", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{scheduleId}/enrollments": {
            "post": {
                "tags": ["Classes"],
                "summary": "Enroll a student into a weekly slot",
                "parameters": [
                    {"name": "scheduleId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollmentRequest"}}
                ],
                "responses": {
                    "204": {"description": "No content"}
                }
            }
        },
        "/schedules/{scheduleId}/enrollments/{studentId}": {
            "delete": {
                "tags": ["Classes"],
                "summary": "Remove a student from a weekly slot",
                "parameters": [
                    {"name": "scheduleId", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No content"}
                }
            }
        },
        "/alerts/low-credits": {
            "get": {
                "tags": ["Alerts"],
                "summary": "List students with low combined credits",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/alerts/zero-credits": {
            "get": {
                "tags": ["Alerts"],
                "summary": "List students with no credits left",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/export": {
            "post": {
                "tags": ["Reports"],
                "summary": "Export a report as CSV or PDF",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/download": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download an exported report",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        },
        "/notifications/low-credit-digest": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Send the low-credit reminder emails now",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateStudentRequest": {
            "type": "object",
            "required": ["name", "email"],
            "properties": {
                "name": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "language": {"type": "string", "enum": ["pt", "en"]}
            }
        },
        "UpdateStudentRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "language": {"type": "string", "enum": ["pt", "en"]},
                "active": {"type": "boolean"}
            }
        },
        "AdjustBalanceRequest": {
            "type": "object",
            "required": ["student_id", "credit_type", "change_amount", "description"],
            "properties": {
                "student_id": {"type": "string"},
                "credit_type": {"type": "string", "enum": ["individual", "duo", "group"]},
                "change_amount": {"type": "integer"},
                "description": {"type": "string"},
                "payment_method": {"type": "string"},
                "amount_paid": {"type": "number"}
            }
        },
        "MarkRequest": {
            "type": "object",
            "required": ["student_id", "schedule_id", "date", "status"],
            "properties": {
                "student_id": {"type": "string"},
                "schedule_id": {"type": "string"},
                "date": {"type": "string", "example": "2024-03-04"},
                "status": {"type": "string", "enum": ["pending", "present", "absent_unnotified", "absent_notified"]},
                "credit_type": {"type": "string", "enum": ["individual", "duo", "group"], "description": "Pool a consuming mark debits; defaults to the class kind"}
            }
        },
        "CreateClassRequest": {
            "type": "object",
            "required": ["name", "kind", "capacity"],
            "properties": {
                "name": {"type": "string"},
                "kind": {"type": "string", "enum": ["individual", "duo", "group"]},
                "capacity": {"type": "integer"}
            }
        },
        "CreateScheduleRequest": {
            "type": "object",
            "required": ["class_id", "start_time", "end_time"],
            "properties": {
                "class_id": {"type": "string"},
                "weekday": {"type": "integer", "minimum": 0, "maximum": 6},
                "start_time": {"type": "string", "example": "08:00"},
                "end_time": {"type": "string", "example": "09:00"}
            }
        },
        "EnrollmentRequest": {
            "type": "object",
            "required": ["student_id"],
            "properties": {
                "student_id": {"type": "string"}
            }
        },
        "ExportRequest": {
            "type": "object",
            "required": ["report", "format", "from_date", "to_date"],
            "properties": {
                "report": {"type": "string", "enum": ["attendance", "credit_history", "financial"]},
                "format": {"type": "string", "enum": ["csv", "pdf"]},
                "from_date": {"type": "string", "example": "2024-03-01"},
                "to_date": {"type": "string", "example": "2024-03-31"},
                "student_id": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
