package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	orderStatuses   = []string{"PENDING", "PROCESSING", "SHIPPED", "DELIVERED", "CANCELLED"}
	paymentMethods  = []string{"CREDIT_CARD", "DEBIT_CARD", "PAYPAL", "STRIPE", "APPLE_PAY", "GOOGLE_PAY", "BANK_TRANSFER"}
	lineItemsSchema = map[string]interface{}{
		"type":        "array",
		"description": "Priced line items as supplied by the catalog",
		"minItems":    1,
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"itemType": map[string]interface{}{
					"type": "string",
					"enum": []string{"SONG", "ALBUM", "MERCHANDISE"},
				},
				"itemId": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
				},
				"quantity": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
				},
				"unitPrice": map[string]interface{}{
					"type":        "string",
					"description": "Exact decimal price, e.g. \"1.50\"",
				},
			},
			"required": []string{"itemType", "itemId", "quantity", "unitPrice"},
		},
	}
)

func idProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     1,
	}
}

// createOrderTool returns the tool definition for create_order
func createOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_order",
		Description: "Create a PENDING order from priced line items",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": idProperty("Buyer user id"),
				"items":   lineItemsSchema,
				"shipping_address": map[string]interface{}{
					"type":        "string",
					"description": "Delivery address",
				},
			},
			Required: []string{"user_id", "items", "shipping_address"},
		},
	}
}

// getOrderTool returns the tool definition for get_order
func getOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_order",
		Description: "Fetch an order and its payment attempts by id or order number",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idProperty("Order id"),
				"order_number": map[string]interface{}{
					"type":        "string",
					"description": "Order number such as ORD-20240101120000-0042; used when order_id is absent",
				},
			},
		},
	}
}

// updateOrderStatusTool returns the tool definition for update_order_status
func updateOrderStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_order_status",
		Description: "Move an order along PENDING -> PROCESSING -> SHIPPED -> DELIVERED; CANCELLED compensates payments first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idProperty("Order id"),
				"status": map[string]interface{}{
					"type": "string",
					"enum": orderStatuses,
				},
			},
			Required: []string{"order_id", "status"},
		},
	}
}

// cancelOrderTool returns the tool definition for cancel_order
func cancelOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_order",
		Description: "Cancel an order, failing open payments and refunding completed ones",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idProperty("Order id"),
			},
			Required: []string{"order_id"},
		},
	}
}

// createPaymentTool returns the tool definition for create_payment
func createPaymentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_payment",
		Description: "Create a PENDING payment for the full total of a PENDING order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idProperty("Order id"),
				"user_id":  idProperty("Order owner"),
				"amount": map[string]interface{}{
					"type":        "string",
					"description": "Exact decimal amount; must equal the order total",
				},
				"payment_method": map[string]interface{}{
					"type": "string",
					"enum": paymentMethods,
				},
			},
			Required: []string{"order_id", "user_id", "amount", "payment_method"},
		},
	}
}

// processPaymentTool returns the tool definition for process_payment
func processPaymentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "process_payment",
		Description: "Charge a PENDING payment through the configured gateway",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"payment_id": idProperty("Payment id"),
				"transaction_id": map[string]interface{}{
					"type":        "string",
					"description": "External transaction id to record instead of the generated one",
				},
			},
			Required: []string{"payment_id"},
		},
	}
}

// refundPaymentTool returns the tool definition for refund_payment
func refundPaymentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "refund_payment",
		Description: "Refund a COMPLETED payment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"payment_id": idProperty("Payment id"),
			},
			Required: []string{"payment_id"},
		},
	}
}

// checkoutTool returns the tool definition for checkout
func checkoutTool() mcp.Tool {
	return mcp.Tool{
		Name:        "checkout",
		Description: "Create an order and pay for it in one step",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": idProperty("Buyer user id"),
				"items":   lineItemsSchema,
				"shipping_address": map[string]interface{}{
					"type":        "string",
					"description": "Delivery address",
				},
				"payment_method": map[string]interface{}{
					"type": "string",
					"enum": paymentMethods,
				},
				"idempotency_key": map[string]interface{}{
					"type":        "string",
					"description": "Repeating a key returns the first outcome instead of checking out again",
				},
			},
			Required: []string{"user_id", "items", "shipping_address", "payment_method"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report order and payment counts by status and database health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
