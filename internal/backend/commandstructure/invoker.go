package commandstructure

import (
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker runs a fixed sequence of commands, feeding each output into the next.
type CommandInvoker struct {
	commands []Command
}

func NewCommandInvoker(commands ...Command) *CommandInvoker {
	return &CommandInvoker{
		commands: commands,
	}
}

// NewCommandInvokerFromConfig creates every configured command up front so that
// configuration errors surface at startup instead of on the first request.
func NewCommandInvokerFromConfig(registry *CommandRegistry, configs []CommandConfig) (*CommandInvoker, error) {
	commands := make([]Command, 0, len(configs))
	for i, config := range configs {
		command, err := registry.Create(config.Name, config.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to create command at index %d (%s): %w", i, config.Name, err)
		}
		commands = append(commands, command)
	}
	return NewCommandInvoker(commands...), nil
}

// With returns a new invoker that runs the receiver's commands followed by extra.
func (i *CommandInvoker) With(extra ...Command) *CommandInvoker {
	commands := make([]Command, 0, len(i.commands)+len(extra))
	commands = append(commands, i.commands...)
	commands = append(commands, extra...)
	return NewCommandInvoker(commands...)
}

// Len returns the number of commands in the chain.
func (i *CommandInvoker) Len() int {
	return len(i.commands)
}

func (i *CommandInvoker) Execute(imageData []byte) ([]byte, error) {
	if len(i.commands) == 0 {
		slog.Debug("no commands to execute, returning original image")
		return imageData, nil
	}

	start := time.Now()
	currentData := imageData
	for idx, command := range i.commands {
		commandStart := time.Now()
		processedData, err := command.Execute(currentData)
		if err != nil {
			slog.Error("command execution failed",
				"index", idx,
				"command_name", command.Name(),
				"error", err,
				"input_size_bytes", len(currentData))
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}

		slog.Debug("command completed",
			"index", idx,
			"command_name", command.Name(),
			"duration_ms", time.Since(commandStart).Milliseconds(),
			"input_size_bytes", len(currentData),
			"output_size_bytes", len(processedData))
		currentData = processedData
	}

	slog.Info("image processing chain completed",
		"total_duration_ms", time.Since(start).Milliseconds(),
		"command_count", len(i.commands),
		"final_size_bytes", len(currentData))
	return currentData, nil
}
