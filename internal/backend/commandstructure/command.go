package commandstructure

// Command is a single step of an image processing chain.
// It receives encoded image bytes and returns encoded image bytes.
type Command interface {
	Name() string
	Execute(imageData []byte) ([]byte, error)
}

// CommandFactory builds a command from its configuration parameters.
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig names a registered command and carries its parameters.
type CommandConfig struct {
	Name   string
	Params map[string]any
}
