package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Bimbel ADP API",
        "description": "Tuition center payments, payroll and disbursement reconciliation",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Payments", "description": "Inbound tuition and enrollment fee collection"},
        {"name": "Billing", "description": "Monthly billing periods and vouchers"},
        {"name": "Payroll", "description": "Attendance-driven teacher payroll"},
        {"name": "Disbursements", "description": "Outbound salary transfers"},
        {"name": "Webhooks", "description": "Payment gateway callbacks"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/billing-periods/batch-pay": {
            "post": {
                "tags": ["Payments"],
                "summary": "Pay several billing periods with one payment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PayPeriodsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Amount does not cover the selected periods", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/billing-periods/{id}/pay": {
            "post": {
                "tags": ["Payments"],
                "summary": "Pay one billing period",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PayPeriodRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/payrolls/generate": {
            "post": {
                "tags": ["Payroll"],
                "summary": "Generate payroll for one teacher and period",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GeneratePayrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Payroll already finalized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/disbursements/batch": {
            "post": {
                "tags": ["Disbursements"],
                "summary": "Disburse several payroll records in one gateway batch",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBatchDisbursementRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/webhooks/invoice": {
            "post": {
                "tags": ["Webhooks"],
                "summary": "Invoice status callback",
                "parameters": [
                    {"name": "X-Callback-Token", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Acknowledged"},
                    "401": {"description": "Invalid signature"}
                }
            }
        },
        "/webhooks/disbursement": {
            "post": {
                "tags": ["Webhooks"],
                "summary": "Disbursement status callback",
                "parameters": [
                    {"name": "X-Callback-Token", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Acknowledged"},
                    "401": {"description": "Invalid signature"}
                }
            }
        }
    },
    "definitions": {
        "PayPeriodsRequest": {
            "type": "object",
            "properties": {
                "billing_period_ids": {"type": "array", "items": {"type": "string"}},
                "method": {"type": "string"},
                "amount": {"type": "integer"},
                "payer_email": {"type": "string"}
            },
            "required": ["billing_period_ids", "method", "amount"]
        },
        "PayPeriodRequest": {
            "type": "object",
            "properties": {
                "method": {"type": "string"},
                "amount": {"type": "integer"},
                "payer_email": {"type": "string"}
            },
            "required": ["method", "amount"]
        },
        "GeneratePayrollRequest": {
            "type": "object",
            "properties": {
                "teacher_id": {"type": "string"},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "incentive": {"type": "integer"},
                "deduction": {"type": "integer"}
            },
            "required": ["teacher_id", "month", "year"]
        },
        "CreateBatchDisbursementRequest": {
            "type": "object",
            "properties": {
                "payroll_ids": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["payroll_ids"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
