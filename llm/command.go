/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
)

// PromptPlaceholder is replaced by the prompt in command arguments unless Stdin is set
const PromptPlaceholder = "{{PROMPT}}"

// DefaultRateLimitPatterns are matched case-insensitively against command output
var DefaultRateLimitPatterns = []string{"rate limit", "too many requests", "429", "quota exceeded"}

// CommandConfig configures a CommandProvider
type CommandConfig struct {
	Command           string
	Args              []string
	Stdin             bool
	Model             string
	Timeout           time.Duration
	RateLimitPatterns []string
}

// CommandProvider runs a command-line model. The prompt is passed as an
// argument or piped to stdin, and stdout is the response content.
type CommandProvider struct {
	cfg    CommandConfig
	logger *logging.Logger
}

// NewCommandProvider validates cfg and creates a provider
func NewCommandProvider(cfg CommandConfig, logger *logging.Logger) (*CommandProvider, error) {
	if cfg.Command == "" {
		return nil, newError(KindInvalidRequest, nil, "command is required for provider %s", global.ProviderCommand)
	}
	if !cfg.Stdin && !hasPlaceholder(cfg.Args) {
		return nil, newError(KindInvalidRequest, nil, "args must contain %s unless stdin is enabled", PromptPlaceholder)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(global.DefaultTimeout) * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Command
	}
	if len(cfg.RateLimitPatterns) == 0 {
		cfg.RateLimitPatterns = DefaultRateLimitPatterns
	}
	return &CommandProvider{cfg: cfg, logger: logger}, nil
}

func hasPlaceholder(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, PromptPlaceholder) {
			return true
		}
	}
	return false
}

func (p *CommandProvider) Name() string      { return global.ProviderCommand }
func (p *CommandProvider) ModelName() string { return p.cfg.Model }

// Generate runs the command once
func (p *CommandProvider) Generate(ctx context.Context, prompt, systemPrompt string) (*Response, error) {
	promptText := prompt
	if systemPrompt != "" {
		promptText = systemPrompt + "\n\n" + prompt
	}

	var args []string
	if p.cfg.Stdin {
		args = p.cfg.Args
	} else {
		args = make([]string, len(p.cfg.Args))
		for i, arg := range p.cfg.Args {
			args[i] = strings.ReplaceAll(arg, PromptPlaceholder, promptText)
		}
	}

	p.logger.Debugf("Executing model command: %s (%d args, stdin: %v)", p.cfg.Command, len(args), p.cfg.Stdin)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	// Children that inherit stdout must not hold Run open after a kill
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if p.cfg.Stdin {
		cmd.Stdin = strings.NewReader(promptText)
	}

	start := time.Now()
	err := cmd.Run()
	latency := time.Since(start)

	output := strings.TrimSpace(stdout.String())
	stderrOutput := strings.TrimSpace(stderr.String())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindOther, nil, "command timed out after %s", p.cfg.Timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The command could not be started at all
			return nil, newError(KindInvalidRequest, err, "infrastructure failure")
		}

		if p.isRateLimited(output + "\n" + stderrOutput) {
			return nil, newError(KindRateLimited, nil, "command exited with code %d: %s", exitErr.ExitCode(), firstLine(stderrOutput))
		}
		return nil, newError(KindOther, nil, "command exited with code %d: %s", exitErr.ExitCode(), firstLine(stderrOutput))
	}

	p.logger.Debugf("Model command returned %d bytes in %s", len(output), latency)

	return &Response{
		Content:      output,
		Model:        p.cfg.Model,
		FinishReason: "stop",
		Latency:      latency,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (p *CommandProvider) isRateLimited(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range p.cfg.RateLimitPatterns {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "no output on stderr"
	}
	return s
}
