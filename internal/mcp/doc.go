// Package mcp implements the Model Context Protocol (MCP) server for the commerce core.
//
// The MCP server exposes order and payment operations as tools so an
// assistant or operator console can drive the lifecycle:
//   - create_order, get_order, update_order_status, cancel_order
//   - create_payment, process_payment, refund_payment
//   - checkout: create an order and pay for it in one step
//   - get_status: counts by status and database health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The binary runs the MCP server when AUDIRA_MODE=mcp:
//
//	AUDIRA_MODE=mcp audira
//
// # Tool: checkout
//
//	Request:
//	{
//	  "name": "checkout",
//	  "arguments": {
//	    "user_id": 1,
//	    "items": [{"itemType": "SONG", "itemId": 1, "quantity": 2, "unitPrice": "1.50"}],
//	    "shipping_address": "221B Baker Street",
//	    "payment_method": "CREDIT_CARD",
//	    "idempotency_key": "c0ffee"
//	  }
//	}
//
//	Response:
//	{
//	  "order": {"id": 7, "orderNumber": "ORD-20240101120000-0042", "status": "PROCESSING", ...},
//	  "payment": {"id": 3, "status": "COMPLETED", "transactionId": "TXN-1A2B3C4D5E6F7A8B", ...}
//	}
//
// Amounts travel as decimal strings so they are never rounded through
// floating point.
//
// # Error Handling
//
// Domain errors are returned as MCPError values:
//   - -32602: invalid params (validation, unknown status or method, amount mismatch)
//   - -32603: internal error (database)
//   - -32001: order or payment not found
//   - -32002: illegal status transition
//   - -32003: conflict (open payment exists, idempotency key in flight)
//   - -32004: gateway failure; data carries the FAILED payment
//
// # Logging
//
// The MCP server logs to stderr (stdout is reserved for MCP protocol).
package mcp
