package interactive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rbx/ODC/internal/partitionctl"
	"github.com/rbx/ODC/internal/registry"
	"github.com/rbx/ODC/types"
)

const defaultTimeoutS = 30

// Shell runs the line-protocol surface (spec §6 "Interactive surface")
// against a Registry. Each line is one command; blank lines and lines
// starting with "#" are ignored.
type Shell struct {
	reg *registry.Registry
	out io.Writer
}

// New builds a Shell over reg, writing replies to out.
func New(reg *registry.Registry, out io.Writer) *Shell {
	return &Shell{reg: reg, out: out}
}

// Run reads commands from r until EOF, ctx cancellation, or a .quit line.
func (s *Shell) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == ".quit" {
			return nil
		}
		s.dispatch(ctx, line)
	}
	return scanner.Err()
}

// RunFile executes a batch of commands from path (spec's .batch command).
func (s *Shell) RunFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open batch file %s: %w", path, err)
	}
	defer f.Close()
	return s.Run(ctx, f)
}

func (s *Shell) dispatch(ctx context.Context, line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case ".help":
		s.printHelp()
	case ".init":
		s.cmdInit(ctx, args)
	case ".submit":
		s.cmdSubmit(ctx, args)
	case ".activate":
		s.cmdActivate(ctx, args, false)
	case ".update":
		s.cmdActivate(ctx, args, true)
	case ".run":
		s.cmdRun(ctx, args)
	case ".config":
		s.cmdTransition(ctx, args, (*partitionctl.Controller).Configure)
	case ".start":
		s.cmdTransition(ctx, args, (*partitionctl.Controller).Start)
	case ".stop":
		s.cmdTransition(ctx, args, (*partitionctl.Controller).Stop)
	case ".reset":
		s.cmdTransition(ctx, args, (*partitionctl.Controller).Reset)
	case ".term":
		s.cmdTransition(ctx, args, (*partitionctl.Controller).Terminate)
	case ".state":
		s.cmdTransition(ctx, args, (*partitionctl.Controller).GetState)
	case ".prop":
		s.cmdSetProperties(ctx, args)
	case ".down":
		s.cmdShutdown(ctx, args)
	case ".status":
		s.cmdStatus(args)
	case ".batch":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: .batch <file>")
			return
		}
		if err := s.RunFile(ctx, args[0]); err != nil {
			fmt.Fprintf(s.out, "batch %s: %v\n", args[0], err)
		}
	case ".sleep":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: .sleep <duration>")
			return
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(s.out, "bad duration %q: %v\n", args[0], err)
			return
		}
		time.Sleep(d)
	default:
		fmt.Fprintf(s.out, "unknown command %q, try .help\n", cmd)
	}
}

func kvArgs(fields []string) map[string]string {
	kv := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		kv[k] = v
	}
	return kv
}

func timeoutFrom(kv map[string]string) float64 {
	if v, ok := kv["timeout"]; ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return secs
		}
	}
	return defaultTimeoutS
}

func header(partitionID string, kv map[string]string) types.Header {
	return types.Header{PartitionID: partitionID, TimeoutS: timeoutFrom(kv)}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `commands:
  .init <partition> [session=<id>] [timeout=<s>]
  .submit <partition> plugin=<name> resources=<str> [timeout=<s>]
  .activate <partition> (file=<path>|content=<xml>|script=<path>) [timeout=<s>]
  .update <partition> (file=<path>|content=<xml>|script=<path>) [timeout=<s>]
  .run <partition> plugin=<name> resources=<str> (file=|content=|script=) [extract=true] [session=<id>] [timeout=<s>]
  .config|.start|.stop|.reset|.term|.state <partition> [path=<glob>] [detailed=true] [timeout=<s>]
  .prop <partition> [path=<glob>] key=value [key2=value2 ...]
  .down <partition> [timeout=<s>]
  .status [running=true]
  .batch <file>
  .sleep <duration>
  .help
  .quit`)
}
