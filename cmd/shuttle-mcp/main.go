// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// shuttle-mcp is a demonstration MCP endpoint built on the shuttle protocol
// core. `serve` exposes a small sample server over stdio, SSE+POST, or
// WebSocket; `probe` connects as a client, runs the handshake, and lists the
// server's tools.
//
// Usage:
//
//	shuttle-mcp serve --transport stdio
//	shuttle-mcp serve --transport sse --addr 127.0.0.1:8456
//	shuttle-mcp probe --transport sse --url http://127.0.0.1:8456/sse
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/teradata-labs/shuttle/internal/log"
	"github.com/teradata-labs/shuttle/pkg/mcp/client"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"github.com/teradata-labs/shuttle/pkg/mcp/server"
	"github.com/teradata-labs/shuttle/pkg/mcp/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const binaryVersion = "0.1.0"

var (
	flagTransport string
	flagAddr      string
	flagURL       string
	flagCommand   string
	flagLogLevel  string
	flagLogFile   string
)

func main() {
	root := &cobra.Command{
		Use:           "shuttle-mcp",
		Short:         "Demonstration MCP server and client probe",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			_, err := log.Setup(flagLogLevel, flagLogFile)
			return err
		},
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Log file path (defaults to stderr)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sample MCP server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagTransport, "transport", "stdio", "Transport: stdio, sse, or ws")
	serveCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:8456", "Listen address for sse and ws transports")

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to an MCP server, initialize, and list its tools",
		RunE:  runProbe,
	}
	probeCmd.Flags().StringVar(&flagTransport, "transport", "sse", "Transport: stdio, sse, or ws")
	probeCmd.Flags().StringVar(&flagURL, "url", "", "Server URL for sse (http...) and ws (ws...) transports")
	probeCmd.Flags().StringVar(&flagCommand, "command", "", "Server command for the stdio transport")

	root.AddCommand(serveCmd, probeCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newSampleServer builds the demo server instance wired to one connection.
func newSampleServer(logger *zap.Logger) *server.Server {
	s := server.New(server.Config{
		Name:    "shuttle-sample",
		Version: binaryVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools:     &protocol.ToolsCapability{},
			Prompts:   &protocol.PromptsCapability{},
			Resources: &protocol.ResourcesCapability{Subscribe: true},
			Logging:   &protocol.LoggingCapability{},
		},
		Logger: logger,
	})

	mustRegister := func(err error) {
		if err != nil {
			logger.Fatal("sample registration failed", zap.Error(err))
		}
	}

	mustRegister(s.RegisterTool(protocol.Tool{
		Name:        "echo",
		Description: "Echoes its input back as text",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
		text, _ := args["text"].(string)
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(text)}}, nil
	}))

	mustRegister(s.RegisterTool(protocol.Tool{
		Name:        "add",
		Description: "Adds two numbers",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"a": map[string]interface{}{"type": "number"},
				"b": map[string]interface{}{"type": "number"},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		sum := strconv.FormatFloat(a+b, 'f', -1, 64)
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(sum)}}, nil
	}))

	mustRegister(s.RegisterPrompt(protocol.Prompt{
		Name:        "greet",
		Description: "A greeting prompt",
		Arguments:   []protocol.PromptArgument{{Name: "name", Required: true}},
	}, func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{
				Role:    "user",
				Content: protocol.TextContent("Say hello to " + args["name"]),
			}},
		}, nil
	}))

	mustRegister(s.RegisterResource(protocol.Resource{
		URI:      "shuttle://sample/motd",
		Name:     "Message of the day",
		MimeType: "text/plain",
	}, func(ctx context.Context) ([]protocol.ResourceContents, error) {
		return []protocol.ResourceContents{{
			URI:      "shuttle://sample/motd",
			MimeType: "text/plain",
			Text:     "shuttle is running",
		}}, nil
	}))

	return s
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := log.Logger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch flagTransport {
	case "stdio":
		return serveStdio(ctx, logger)
	case "sse":
		return serveSSE(ctx, logger)
	case "ws":
		return serveWS(ctx, logger)
	default:
		return fmt.Errorf("unknown transport %q", flagTransport)
	}
}

func serveStdio(ctx context.Context, logger *zap.Logger) error {
	s := newSampleServer(logger)
	tr := transport.NewStdioServerTransport(logger)
	if err := s.Connect(ctx, tr); err != nil {
		return err
	}
	logger.Info("serving MCP over stdio")

	select {
	case <-ctx.Done():
	case <-tr.Done():
	}
	return s.Close()
}

func serveSSE(ctx context.Context, logger *zap.Logger) error {
	sseServer, err := transport.NewSSEServer(transport.SSEServerConfig{
		MessagePath: "/message",
		Logger:      logger,
		OnSession: func(t *transport.SSEServerTransport) {
			s := newSampleServer(logger)
			if err := s.Connect(context.Background(), t); err != nil {
				logger.Error("session connect failed", zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	return serveHTTP(ctx, logger, mux, "sse")
}

func serveWS(ctx context.Context, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		t, err := transport.UpgradeWebSocket(w, r, logger)
		if err != nil {
			logger.Warn("websocket upgrade rejected", zap.Error(err))
			return
		}
		s := newSampleServer(logger)
		if err := s.Connect(r.Context(), t); err != nil {
			logger.Error("session connect failed", zap.Error(err))
			_ = t.Close()
		}
	})

	return serveHTTP(ctx, logger, mux, "ws")
}

// serveHTTP runs an HTTP server until the context is cancelled.
func serveHTTP(ctx context.Context, logger *zap.Logger, handler http.Handler, kind string) error {
	srv := &http.Server{
		Addr:              flagAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving MCP over "+kind, zap.String("addr", flagAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runProbe(cmd *cobra.Command, _ []string) error {
	logger := log.Logger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tr transport.Transport
	switch flagTransport {
	case "sse":
		if flagURL == "" {
			return fmt.Errorf("--url is required for the sse transport")
		}
		t, err := transport.NewSSEClientTransport(transport.SSEClientConfig{URL: flagURL, Logger: logger})
		if err != nil {
			return err
		}
		tr = t

	case "ws":
		if flagURL == "" {
			return fmt.Errorf("--url is required for the ws transport")
		}
		t, err := transport.DialWebSocket(ctx, flagURL, nil, logger)
		if err != nil {
			return err
		}
		tr = t

	case "stdio":
		if flagCommand == "" {
			return fmt.Errorf("--command is required for the stdio transport")
		}
		tr = transport.NewCommandTransport(transport.CommandConfig{
			Command: flagCommand,
			Args:    []string{"serve", "--transport", "stdio"},
			Logger:  logger,
		})

	default:
		return fmt.Errorf("unknown transport %q", flagTransport)
	}

	c := client.New(client.Config{
		Name:           "shuttle-probe",
		Version:        binaryVersion,
		RequestTimeout: 30 * time.Second,
		Logger:         logger,
	})
	if err := c.Connect(ctx, tr); err != nil {
		return err
	}
	defer c.Close()

	info := c.ServerInfo()
	fmt.Printf("connected to %s %s (protocol %s)\n", info.Name, info.Version, c.NegotiatedVersion())

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Println("ping: ok")

	if c.ServerCapabilities().Tools != nil {
		tools, err := c.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		for _, tool := range tools {
			fmt.Printf("tool %s: %s\n", tool.Name, tool.Description)
		}
	}
	return nil
}
