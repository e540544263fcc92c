/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/PivotLLM/AIFlow/analysis"
	"github.com/PivotLLM/AIFlow/config"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/llm"
	"github.com/PivotLLM/AIFlow/logging"
	"github.com/PivotLLM/AIFlow/protocol"
	"github.com/PivotLLM/AIFlow/reporting"
	"github.com/PivotLLM/AIFlow/scheduler"
	"github.com/PivotLLM/AIFlow/templates"
)

// Server wraps the MCP server with our services
type Server struct {
	logger             *logging.Logger
	adapter            llm.Adapter
	renderer           *templates.Renderer
	scheduler          *scheduler.Scheduler
	engine             *analysis.Engine
	reporter           *reporting.Reporter
	validator          *protocol.Validator
	reader             *protocol.Serializer
	mcpServer          *server.MCPServer
	outputDir          string
	compress           bool
	stopTimeout        time.Duration
	markNonDestructive bool
}

// settings are the configuration values the handlers need
type settings struct {
	outputDir          string
	compress           bool
	stopTimeout        time.Duration
	markNonDestructive bool
}

// New creates a new server instance from the loaded configuration
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	adapter, err := llm.New(cfg.Model(), cfg.RateLimit(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model adapter: %w", err)
	}

	var registry *templates.Registry
	if dir := cfg.PromptsDir(); dir != "" {
		registry, err = templates.LoadRegistry(dir)
	} else {
		registry, err = templates.EmbeddedRegistry()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt registry: %w", err)
	}
	logger.Infof("Prompt registry %s (version %s) loaded", registry.Source(), registry.Version())
	renderer := templates.NewRenderer(registry, logger)

	sc := cfg.Scheduler()
	sched := scheduler.New(
		scheduler.WithMaxConcurrent(sc.MaxConcurrent),
		scheduler.WithMaxQueueSize(sc.MaxQueueSize),
		scheduler.WithLogger(logger),
	)

	ac := cfg.Analysis()
	engine := analysis.NewEngine(adapter, renderer,
		analysis.WithLogger(logger),
		analysis.WithValidation(ac.ShouldValidate()),
		analysis.WithFileTreeDepth(ac.FileTreeDepth),
		analysis.WithLanguageDetection(ac.DetectLanguage()),
		analysis.WithDocumentConversion(ac.ConvertDocuments),
		analysis.WithScheduler(sched),
	)

	return newServer(logger, adapter, renderer, sched, engine, settings{
		outputDir:          cfg.OutputDir(),
		compress:           ac.Compress,
		stopTimeout:        time.Duration(sc.StopTimeoutSeconds) * time.Second,
		markNonDestructive: cfg.MarkNonDestructive(),
	})
}

// newServer wires already constructed services into an MCP server and starts the scheduler
func newServer(logger *logging.Logger, adapter llm.Adapter, renderer *templates.Renderer,
	sched *scheduler.Scheduler, engine *analysis.Engine, set settings) (*Server, error) {

	mcpServer := server.NewMCPServer(
		global.ProgramName,
		global.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	srv := &Server{
		logger:             logger,
		adapter:            adapter,
		renderer:           renderer,
		scheduler:          sched,
		engine:             engine,
		reporter:           reporting.New(logger),
		validator:          engine.Validator(),
		reader:             protocol.NewSerializer(logger, protocol.WithValidation(false)),
		mcpServer:          mcpServer,
		outputDir:          set.outputDir,
		compress:           set.compress,
		stopTimeout:        set.stopTimeout,
		markNonDestructive: set.markNonDestructive,
	}

	if err := srv.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	if !sched.IsRunning() {
		if err := sched.Start(); err != nil {
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	return srv, nil
}

// readOnlyTool creates a tool with read-only annotations
// ReadOnly: true, Destructive: false, OpenWorld: false
func (s *Server) readOnlyTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(true),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// defaultTool creates a tool with default annotations (non-destructive)
// ReadOnly: false, Destructive: false, OpenWorld: false
func (s *Server) defaultTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// destructiveTool creates a tool with destructive annotations
// ReadOnly: false, Destructive: true (unless markNonDestructive config is set), OpenWorld: false
func (s *Server) destructiveTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	destructive := true
	if s.markNonDestructive {
		destructive = false
	}
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(destructive),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	// Job tools
	s.mcpServer.AddTool(
		s.defaultTool(global.ToolJobCreate,
			mcp.WithDescription("Create an analysis job for a project directory. The job is pending until job_run submits it."),
			mcp.WithString("project_path",
				mcp.Description("Path to the project directory (~ is expanded)"),
				mcp.Required(),
			),
			mcp.WithString("language",
				mcp.Description("Project language: python, javascript, typescript, go, java, or auto to detect it (default: auto)"),
			),
			mcp.WithString("project_name",
				mcp.Description("Display name for the project (default: directory name)"),
			),
		), s.handleJobCreate)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolJobRun,
			mcp.WithDescription("Submit a pending job to the scheduler. Stages run in order: project_understanding, structure_recognition, semantic_analysis, execution_inference, concurrency_detection."),
			mcp.WithString("job_id",
				mcp.Description("Job ID returned by job_create"),
				mcp.Required(),
			),
			mcp.WithString("priority",
				mcp.Description("LOW, NORMAL, HIGH or URGENT (default: NORMAL)"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Time limit for the whole job (default: 0 = no limit)"),
			),
			mcp.WithBoolean("wait",
				mcp.Description("Block until the job has finished (default: false)"),
			),
			mcp.WithNumber("wait_timeout_seconds",
				mcp.Description("How long to wait when wait=true (default: 0 = no limit). Expiry does not affect the job."),
			),
		), s.handleJobRun)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolJobGet,
			mcp.WithDescription("Get a job with its per-stage outcomes."),
			mcp.WithString("job_id",
				mcp.Description("Job ID"),
				mcp.Required(),
			),
			mcp.WithBoolean("include_data",
				mcp.Description("Include stage payloads and the merged report (default: false)"),
			),
		), s.handleJobGet)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolJobList,
			mcp.WithDescription("List jobs in creation order."),
			mcp.WithString("status",
				mcp.Description("Filter by status: pending, running, completed or failed (optional)"),
			),
		), s.handleJobList)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolJobSave,
			mcp.WithDescription("Write the merged report of a completed job to disk."),
			mcp.WithString("job_id",
				mcp.Description("Job ID"),
				mcp.Required(),
			),
			mcp.WithString("output_path",
				mcp.Description("Output file; relative paths are inside the output directory (default: analysis_<job_id>.json)"),
			),
			mcp.WithBoolean("compress",
				mcp.Description("Gzip the report and add .gz (default: from configuration)"),
			),
		), s.handleJobSave)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolJobReport,
			mcp.WithDescription("Summarise a job: status, failed stage, per-stage timings and token usage, and report counts."),
			mcp.WithString("job_id",
				mcp.Description("Job ID"),
				mcp.Required(),
			),
			mcp.WithString("format",
				mcp.Description("Output format: markdown (default) or json"),
			),
			mcp.WithString("output",
				mcp.Description("File path to save the summary; relative paths are inside the output directory (optional)"),
			),
		), s.handleJobReport)

	// Scheduler tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolTaskGet,
			mcp.WithDescription("Get a scheduler task."),
			mcp.WithString("task_id",
				mcp.Description("Task ID"),
				mcp.Required(),
			),
		), s.handleTaskGet)

	s.mcpServer.AddTool(
		s.destructiveTool(global.ToolTaskCancel,
			mcp.WithDescription("Cancel a task. A pending task never runs; a running job stops at the next stage boundary."),
			mcp.WithString("task_id",
				mcp.Description("Task ID"),
				mcp.Required(),
			),
		), s.handleTaskCancel)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolTaskAwait,
			mcp.WithDescription("Wait for a task to finish."),
			mcp.WithString("task_id",
				mcp.Description("Task ID"),
				mcp.Required(),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Maximum time to wait (default: 0 = no limit)"),
			),
		), s.handleTaskAwait)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolQueueStats,
			mcp.WithDescription("Scheduler statistics: counts per state, pending per priority, average wait and run time."),
		), s.handleQueueStats)

	// Report tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolReportValidate,
			mcp.WithDescription("Validate an analysis report against the schema, UUID, timestamp, reference and execution order rules. Provide either path or content."),
			mcp.WithString("path",
				mcp.Description("Report file (.json or .json.gz); relative paths are inside the output directory"),
			),
			mcp.WithString("content",
				mcp.Description("Report JSON"),
			),
			mcp.WithBoolean("stage",
				mcp.Description("Validate as a single stage payload rather than a full report (default: false)"),
			),
		), s.handleReportValidate)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolReportRead,
			mcp.WithDescription("Read a saved report, optionally one top-level section."),
			mcp.WithString("path",
				mcp.Description("Report file; relative paths are inside the output directory"),
				mcp.Required(),
			),
			mcp.WithString("section",
				mcp.Description("Top-level key such as code_structure or execution_trace (optional)"),
			),
		), s.handleReportRead)

	s.mcpServer.AddTool(
		s.destructiveTool(global.ToolReportUpdate,
			mcp.WithDescription("Deep-merge a JSON object into a saved report and rewrite it with the same compression."),
			mcp.WithString("path",
				mcp.Description("Report file; relative paths are inside the output directory"),
				mcp.Required(),
			),
			mcp.WithString("updates",
				mcp.Description("JSON object to merge. Nested objects merge key by key; other values replace."),
				mcp.Required(),
			),
		), s.handleReportUpdate)

	// Template and document tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolTemplateList,
			mcp.WithDescription("List prompt templates in the registry."),
			mcp.WithString("language",
				mcp.Description("Filter by language (optional)"),
			),
		), s.handleTemplateList)

	s.mcpServer.AddTool(
		s.defaultTool(global.ToolDocsConvert,
			mcp.WithDescription("Convert documents (PDF, DOCX, XLSX, PPTX, HTML) to Markdown next to the originals. Existing Markdown files are kept."),
			mcp.WithString("path",
				mcp.Description("File, or directory when recursive=true"),
				mcp.Required(),
			),
			mcp.WithBoolean("recursive",
				mcp.Description("Convert every supported file under the directory (default: false)"),
			),
		), s.handleDocsConvert)

	// System tools
	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolHealth,
			mcp.WithDescription("Report server health: version, model, scheduler state and template languages."),
			mcp.WithBoolean("check_model",
				mcp.Description("Also send a test request to the model (default: false)"),
			),
		), s.handleHealth)

	return nil
}

// Run starts the MCP server with graceful shutdown
func (s *Server) Run() error {
	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		// ServeStdio returns when stdin is closed (EOF) or on error
		errChan <- server.ServeStdio(s.mcpServer)
	}()

	s.logger.Infof("MCP server started successfully")

	select {
	case <-sigChan:
		s.logger.Info("Shutdown signal received")
		s.shutdown()
		s.logger.Info("Server stopped")
		if err := s.logger.Sync(); err != nil {
			s.logger.Warnf("Failed to flush logs on shutdown: %v", err)
		}
		return nil

	case err := <-errChan:
		if err != nil {
			s.logger.Errorf("Server error: %v", err)
			s.shutdown()
			return fmt.Errorf("server error: %w", err)
		}
		// nil error means stdin was closed (EOF) - normal exit
		s.logger.Info("Connection closed")
		s.shutdown()
		s.logger.Info("Server exiting")
		return nil
	}
}

// shutdown stops the scheduler, giving running jobs the configured drain
// time, and waits for their operations to return.
func (s *Server) shutdown() {
	if !s.scheduler.IsRunning() {
		return
	}
	s.logger.Infof("Stopping scheduler (drain timeout %s)", s.stopTimeout)
	if err := s.scheduler.Stop(s.stopTimeout); err != nil {
		s.logger.Warnf("Scheduler stop: %v", err)
	}
	s.scheduler.Wait()
	s.logger.Info("All scheduled tasks have returned")
}
