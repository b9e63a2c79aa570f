package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "audira-commerce"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Config wires the tools to the services
type Config struct {
	Storage     storage.Storage
	Orders      *orders.Service
	Payments    *payments.Service
	Coordinator *checkout.Coordinator
	Logger      *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp         *server.MCPServer
	storage     storage.Storage
	orders      *orders.Service
	payments    *payments.Service
	coordinator *checkout.Coordinator
	logger      *slog.Logger
}

// NewServer creates a new MCP server instance. The caller owns the storage.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Storage == nil || cfg.Orders == nil || cfg.Payments == nil || cfg.Coordinator == nil {
		return nil, fmt.Errorf("mcp server requires storage, orders, payments and coordinator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:         server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		storage:     cfg.Storage,
		orders:      cfg.Orders,
		payments:    cfg.Payments,
		coordinator: cfg.Coordinator,
		logger:      logger,
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until stdin closes or ctx is done
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Orders
	s.mcp.AddTool(createOrderTool(), s.handleCreateOrder)
	s.mcp.AddTool(getOrderTool(), s.handleGetOrder)
	s.mcp.AddTool(updateOrderStatusTool(), s.handleUpdateOrderStatus)
	s.mcp.AddTool(cancelOrderTool(), s.handleCancelOrder)

	// Payments
	s.mcp.AddTool(createPaymentTool(), s.handleCreatePayment)
	s.mcp.AddTool(processPaymentTool(), s.handleProcessPayment)
	s.mcp.AddTool(refundPaymentTool(), s.handleRefundPayment)

	// Workflows and status
	s.mcp.AddTool(checkoutTool(), s.handleCheckout)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
