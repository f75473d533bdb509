package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rbx/ODC/types"
)

// batchLine is the JSON shape the plugin binary is expected to write, one
// object per line, on stdout: a worker-batch descriptor.
type batchLine struct {
	Host  string            `json:"host"`
	Slots int               `json:"slots"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Invoker resolves a named resource-plugin executable and runs it,
// decoding its stdout into worker-batch descriptors.
type Invoker struct {
	// lookup maps a plugin name to the path of its executable, mirroring
	// the original ODC server's --rp <name>:<path> registration.
	lookup map[string]string
}

var _ types.PluginInvoker = (*Invoker)(nil)

// New builds an Invoker over a plugin-name-to-executable-path map.
func New(pluginPaths map[string]string) *Invoker {
	paths := make(map[string]string, len(pluginPaths))
	for k, v := range pluginPaths {
		paths[k] = v
	}
	return &Invoker{lookup: paths}
}

// Invoke runs the named plugin's executable with resources as its sole
// argument and decodes its stdout as newline-delimited worker-batch
// descriptors.
func (i *Invoker) Invoke(ctx context.Context, plugin, resources string) ([]types.WorkerBatchDescriptor, error) {
	path, ok := i.lookup[plugin]
	if !ok {
		return nil, types.NewError(types.CodeResourcePluginFailed, fmt.Sprintf("resource plugin %q is not registered", plugin))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, resources)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, types.NewError(types.CodeResourcePluginFailed,
			fmt.Sprintf("plugin %q exited: %v: %s", plugin, err, strings.TrimSpace(stderr.String())))
	}

	batches, err := decodeBatches(stdout.Bytes())
	if err != nil {
		return nil, types.NewError(types.CodeResourcePluginFailed,
			fmt.Sprintf("plugin %q produced unparsable output: %v", plugin, err))
	}
	return batches, nil
}

func decodeBatches(out []byte) ([]types.WorkerBatchDescriptor, error) {
	var batches []types.WorkerBatchDescriptor
	for lineNo, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var b batchLine
		if err := json.Unmarshal([]byte(line), &b); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		if b.Host == "" {
			return nil, fmt.Errorf("line %d: missing host", lineNo+1)
		}
		if b.Slots <= 0 {
			return nil, fmt.Errorf("line %d: slots must be positive, got %d", lineNo+1, b.Slots)
		}
		batches = append(batches, types.WorkerBatchDescriptor{Host: b.Host, Slots: b.Slots, Attrs: b.Attrs})
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("no worker-batch descriptors produced")
	}
	return batches, nil
}
