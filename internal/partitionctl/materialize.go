package partitionctl

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rbx/ODC/types"
)

// materializeTopology turns a TopologySource into a concrete file on disk
// plus its raw bytes (spec §4.2 Activate: "materialize the topology
// description (inline content, file path, or script output) to a file").
// Exactly one of TopologyFile/Content/Script must be set; the caller
// validates CountSet() before calling this.
func (c *Controller) materializeTopology(ctx context.Context, src types.TopologySource) (path string, data []byte, err error) {
	switch {
	case src.TopologyFile != "":
		data, err := os.ReadFile(src.TopologyFile)
		if err != nil {
			return "", nil, types.NewError(types.CodeDDSActivateTopologyFailed, fmt.Sprintf("read topology file: %v", err))
		}
		return src.TopologyFile, data, nil

	case src.Content != "":
		path, err := c.writeTempTopology([]byte(src.Content))
		if err != nil {
			return "", nil, err
		}
		return path, []byte(src.Content), nil

	case src.Script != "":
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", src.Script)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", nil, types.NewError(types.CodeDDSActivateTopologyFailed,
				fmt.Sprintf("topology script failed: %v: %s", err, strings.TrimSpace(stderr.String())))
		}
		path, err := c.writeTempTopology(stdout.Bytes())
		if err != nil {
			return "", nil, err
		}
		return path, stdout.Bytes(), nil

	default:
		return "", nil, types.NewError(types.CodeTopologyFailed, "exactly one of topology file/content/script must be set")
	}
}

func (c *Controller) writeTempTopology(data []byte) (string, error) {
	f, err := os.CreateTemp(c.workDir, fmt.Sprintf("topology-%s-*.xml", c.partitionID))
	if err != nil {
		return "", types.NewError(types.CodeDDSActivateTopologyFailed, fmt.Sprintf("create topology file: %v", err))
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", types.NewError(types.CodeDDSActivateTopologyFailed, fmt.Sprintf("write topology file: %v", err))
	}
	return f.Name(), nil
}

// writeReducedTopology persists a recovery-synthesized topology description
// to a uniquely named temporary file (spec §4.4 step 4 "persist to a
// uniquely named temporary file").
func (c *Controller) writeReducedTopology(data []byte) (string, error) {
	path, err := c.writeTempTopology(data)
	if err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}
