/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/PivotLLM/AIFlow/config"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
	"github.com/PivotLLM/AIFlow/server"
)

func main() {
	// Top-level panic recovery
	defer func() {
		if rec := recover(); rec != nil {
			_, _ = fmt.Fprintf(os.Stderr, "FATAL PANIC: %v\n", rec)
			os.Exit(2)
		}
	}()

	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", global.ProgramName, global.Version)
		return
	}

	if *help {
		showHelp()
		return
	}

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithConfigPath(*configPath))
	}
	cfg := config.New(opts...)

	// Load and validate configuration
	if err := cfg.Load(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogFile())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *logging.Logger) {
		// Ensure logs are flushed before exit
		_ = logger.Sync()
		_ = logger.Close()
	}(logger)

	logger.SetLevel(cfg.LogLevel())
	logger.Infof("%s v%s starting", global.ProgramName, global.Version)

	if cfg.IsFirstRun() {
		logger.Infof("First run detected - created default configuration at %s", cfg.ConfigPath())
		logger.Info("Please edit the configuration to set the model and API key")
	}

	model := cfg.Model()
	logger.Infof("Model: %s (%s), results in %s", model.Model, model.Provider, cfg.OutputDir())

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Run(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

func showHelp() {
	fmt.Printf(`%s v%s - MCP Server for AI Code Analysis

USAGE:
    %s [OPTIONS]

OPTIONS:
    --config PATH    Path to configuration file
                     (default: $%s or %s/%s)
    --version        Show version information
    --help           Show this help message

DESCRIPTION:
    %s analyses a source tree with a language model in five stages:

    1. project_understanding    project metadata
    2. structure_recognition    code graph of nodes and edges
    3. semantic_analysis        launch buttons
    4. execution_inference      step-by-step execution traces
    5. concurrency_detection    concurrent flows and sync points

    Stage outputs are validated and merged into one JSON report that
    can be saved, optionally gzip compressed, and updated in place.

CONFIGURATION:
    The JSON configuration file defines:

    - model: provider (openai or command), model, api_key (or env:NAME)
    - scheduler: max_concurrent, max_queue_size, stop_timeout_seconds
    - analysis: validate_results, file_tree_depth, compress,
                language_detection, convert_documents
    - rate_limit: max_requests per period_seconds
    - output_dir, prompts_dir, logging

    On first run, a default configuration is created in %s.
    Variables in %s/.env are loaded into the environment.

EXAMPLES:
    # Start with default config
    %s

    # Start with custom config
    %s --config /path/to/config.json

ENVIRONMENT:
    %s    Path to configuration file (if --config not used)
`, global.ProgramName, global.Version,
		global.ProgramName,
		global.ConfigEnvVar, global.DefaultBaseDir, global.DefaultConfigFileName,
		global.ProgramName,
		global.DefaultBaseDir,
		global.DefaultBaseDir,
		global.ProgramName,
		global.ProgramName,
		global.ConfigEnvVar)
}
