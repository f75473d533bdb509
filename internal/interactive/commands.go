package interactive

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rbx/ODC/internal/partitionctl"
	"github.com/rbx/ODC/types"
)

func (s *Shell) cmdInit(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: .init <partition> [session=<id>]")
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	reply := s.reg.Initialize(ctx, partitionID, types.InitializeRequest{
		Header:    header(partitionID, kv),
		SessionID: kv["session"],
	})
	s.printGeneral(reply)
}

func (s *Shell) cmdSubmit(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: .submit <partition> plugin=<name> resources=<str>")
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	c, ok := s.reg.Get(partitionID)
	if !ok {
		fmt.Fprintf(s.out, "partition %s not initialized\n", partitionID)
		return
	}
	reply := c.Submit(ctx, types.SubmitRequest{
		Header:    header(partitionID, kv),
		Plugin:    kv["plugin"],
		Resources: kv["resources"],
	})
	s.printGeneral(reply)
}

func topologySourceFrom(kv map[string]string) types.TopologySource {
	return types.TopologySource{
		TopologyFile: kv["file"],
		Content:      kv["content"],
		Script:       kv["script"],
	}
}

func (s *Shell) cmdActivate(ctx context.Context, args []string, update bool) {
	usage := ".activate <partition> (file=|content=|script=)"
	if update {
		usage = ".update <partition> (file=|content=|script=)"
	}
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage:", usage)
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	c, ok := s.reg.Get(partitionID)
	if !ok {
		fmt.Fprintf(s.out, "partition %s not initialized\n", partitionID)
		return
	}
	req := types.ActivateRequest{Header: header(partitionID, kv), TopologySource: topologySourceFrom(kv)}
	var reply types.StateReply
	if update {
		reply = c.Update(ctx, req)
	} else {
		reply = c.Activate(ctx, req)
	}
	s.printState(reply, kv["detailed"] == "true")
}

func (s *Shell) cmdRun(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: .run <partition> plugin=<name> resources=<str> (file=|content=|script=) [session=<id>]")
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	c := s.reg.GetOrCreate(partitionID)
	h := header(partitionID, kv)
	reply := c.Run(ctx, types.RunRequest{
		Header:    h,
		SessionID: kv["session"],
		SubmitRequest: types.SubmitRequest{
			Header:    h,
			Plugin:    kv["plugin"],
			Resources: kv["resources"],
		},
		ActivateRequest: types.ActivateRequest{
			Header:         h,
			TopologySource: topologySourceFrom(kv),
		},
		ExtractTopoResources: kv["extract"] == "true",
	})
	if reply.Status == types.StatusSuccess {
		s.reg.PersistBestEffort()
	}
	s.printState(reply, kv["detailed"] == "true")
}

func (s *Shell) cmdTransition(ctx context.Context, args []string, op func(*partitionctl.Controller, context.Context, types.PathRequest) types.StateReply) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: <cmd> <partition> [path=<glob>] [detailed=true]")
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	c, ok := s.reg.Get(partitionID)
	if !ok {
		fmt.Fprintf(s.out, "partition %s not initialized\n", partitionID)
		return
	}
	req := types.PathRequest{
		Header:   header(partitionID, kv),
		Path:     kv["path"],
		Detailed: kv["detailed"] == "true",
	}
	reply := op(c, ctx, req)
	s.printState(reply, req.Detailed)
}

func (s *Shell) cmdSetProperties(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: .prop <partition> [path=<glob>] key=value [key2=value2 ...]")
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	c, ok := s.reg.Get(partitionID)
	if !ok {
		fmt.Fprintf(s.out, "partition %s not initialized\n", partitionID)
		return
	}

	var props []types.PropertyKV
	for k, v := range kv {
		if k == "path" || k == "timeout" {
			continue
		}
		props = append(props, types.PropertyKV{Key: k, Value: v})
	}

	reply := c.SetProperties(ctx, types.SetPropertiesRequest{
		Header:     header(partitionID, kv),
		Path:       kv["path"],
		Properties: props,
	})
	s.printGeneral(reply)
}

func (s *Shell) cmdShutdown(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: .down <partition>")
		return
	}
	partitionID, kv := args[0], kvArgs(args[1:])
	c, ok := s.reg.Get(partitionID)
	if !ok {
		fmt.Fprintf(s.out, "partition %s not initialized\n", partitionID)
		return
	}
	reply := c.Shutdown(ctx, header(partitionID, kv))
	s.printGeneral(reply)
	s.reg.Remove(ctx, partitionID)
}

func (s *Shell) cmdStatus(args []string) {
	kv := kvArgs(args)
	running := kv["running"] == "true"
	status := s.reg.Status(running)
	if len(status.Partitions) == 0 {
		fmt.Fprintln(s.out, "no partitions")
		return
	}
	for _, p := range status.Partitions {
		fmt.Fprintf(s.out, "%-16s session=%-24s status=%-8s state=%s\n", p.PartitionID, p.SessionID, p.SessionStatus, p.AggregatedState)
	}
}

func (s *Shell) printGeneral(r types.GeneralReply) {
	fmt.Fprintf(s.out, "[%s] %s partition=%s run=%d session=%s state=%s exectime=%dms",
		r.Status, r.Msg, r.PartitionID, r.RunNr, r.SessionID, r.State, r.ExecTimeMS)
	if r.Error != nil {
		fmt.Fprintf(s.out, " error=%s(%s)", r.Error.Code, r.Error.Details)
	}
	fmt.Fprintln(s.out)
	for _, h := range r.Hosts {
		fmt.Fprintf(s.out, "  host: %s\n", h.Host)
	}
}

func (s *Shell) printState(r types.StateReply, detailed bool) {
	s.printGeneral(r.GeneralReply)
	if !detailed {
		return
	}
	for _, d := range r.Devices {
		fmt.Fprintf(s.out, "  device %-24s state=%-24s subscribed=%s ignored=%s\n",
			d.TaskID, d.State, strconv.FormatBool(d.Subscribed), strconv.FormatBool(d.Ignored))
	}
	for _, c := range r.Collections {
		fmt.Fprintf(s.out, "  collection %-24s host=%s worker=%s\n", c.CollectionID, c.Host, c.WorkerID)
	}
}
