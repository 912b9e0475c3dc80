// Command heapscope-cli is the query/control front end for the heap
// observatory (spec.md §6's "CLI external collaborator"). Translated
// from original_source/frontend/src/main.rs's subcommand shape onto
// gopkg.in/urfave/cli.v1, the teacher's CLI framework.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/ntqbit/allocation-catcher/dispatch"
	"github.com/ntqbit/allocation-catcher/proto"
)

var (
	hostFlag = cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "observatory host"}
	portFlag = cli.IntFlag{Name: "port", Value: 9940, Usage: "observatory port"}

	verboseFlag = cli.BoolFlag{Name: "verbose, v", Usage: "dump full allocation detail (stack/back traces) via go-spew"}
)

func main() {
	app := cli.NewApp()
	app.Name = "heapscope-cli"
	app.Usage = "query and control a running heap observatory"
	app.Flags = []cli.Flag{hostFlag, portFlag}
	app.Commands = []cli.Command{
		{Name: "ping", Usage: "round-trip a number through the observatory", Action: cmdPing},
		{Name: "getcfg", Usage: "print the active trace configuration", Action: cmdGetConfig},
		{
			Name:  "setcfg",
			Usage: "update the trace configuration",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "stoff", Usage: "stack trace word offset"},
				cli.Uint64Flag{Name: "stsize", Usage: "stack trace word count"},
				cli.UintFlag{Name: "btskip", Usage: "backtrace frames to skip"},
				cli.UintFlag{Name: "btcount", Usage: "backtrace frames to capture"},
				cli.UintFlag{Name: "btsymbols", Usage: "symbols to resolve per frame"},
			},
			Action: cmdSetConfig,
		},
		{Name: "clear", Usage: "clear the allocation store", Action: cmdClear},
		{Name: "dump", Usage: "list every live allocation", Flags: []cli.Flag{verboseFlag}, Action: cmdDump},
		{Name: "find", Usage: "find <0xADDR>: look up one allocation", Flags: []cli.Flag{verboseFlag}, Action: cmdFind},
		{Name: "findrange", Usage: "findrange <0xLOWER> <0xUPPER>: list allocations in [lower, upper)", Flags: []cli.Flag{verboseFlag}, Action: cmdFindRange},
		{Name: "getstat", Usage: "print allocation statistics", Action: cmdGetStat},
		{Name: "resetstat", Usage: "zero every statistics counter", Action: cmdResetStat},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "heapscope-cli:", err)
		os.Exit(1)
	}
}

func connect(c *cli.Context) (*client, error) {
	return dial(c.GlobalString(hostFlag.Name), c.GlobalInt(portFlag.Name))
}

// parseAddress requires a 0x-prefixed hex address (spec.md §6).
func parseAddress(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("address %q must start with 0x", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

func cmdPing(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	const magic = uint32(0xC0FFEE)
	body, err := cl.request(dispatch.PacketPing, proto.PingRequest{Num: magic}.Marshal())
	if err != nil {
		return err
	}
	resp, err := proto.UnmarshalPingResponse(body)
	if err != nil {
		return err
	}

	fmt.Printf("pong: version=%d num=0x%X wordsize=%d\n", resp.Version, resp.Num, resp.Wordsize)
	if resp.Num != magic {
		return fmt.Errorf("ping echo mismatch: sent 0x%X got 0x%X", magic, resp.Num)
	}
	return nil
}

func cmdGetConfig(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	body, err := cl.request(dispatch.PacketGetConfiguration, nil)
	if err != nil {
		return err
	}
	resp, err := proto.UnmarshalGetConfigurationResponse(body)
	if err != nil {
		return err
	}

	printConfiguration(resp.Configuration)
	return nil
}

func printConfiguration(cfg proto.Configuration) {
	table := tablewriter.NewWriter(colorableStdout())
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"stack_trace_offset", fmt.Sprint(cfg.StackTraceOffset)})
	table.Append([]string{"stack_trace_size", fmt.Sprint(cfg.StackTraceSize)})
	table.Append([]string{"backtrace_frames_skip", fmt.Sprint(cfg.BacktraceFramesSkip)})
	table.Append([]string{"backtrace_frames_count", fmt.Sprint(cfg.BacktraceFramesCount)})
	table.Append([]string{"backtrace_resolve_symbols_count", fmt.Sprint(cfg.BacktraceResolveSymbolsCount)})
	table.Render()
}

func cmdSetConfig(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	cfg := proto.Configuration{
		StackTraceOffset:             c.Uint64("stoff"),
		StackTraceSize:               c.Uint64("stsize"),
		BacktraceFramesSkip:          uint32(c.Uint("btskip")),
		BacktraceFramesCount:         uint32(c.Uint("btcount")),
		BacktraceResolveSymbolsCount: uint32(c.Uint("btsymbols")),
	}

	_, err = cl.request(dispatch.PacketSetConfiguration, proto.SetConfigurationRequest{Configuration: cfg}.Marshal())
	if err != nil {
		return err
	}
	fmt.Println("configuration updated")
	return nil
}

func cmdClear(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	if _, err := cl.request(dispatch.PacketClearStorage, nil); err != nil {
		return err
	}
	fmt.Println("storage cleared")
	return nil
}

func cmdDump(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	req := proto.FindRequest{Records: []proto.FindRecord{{Id: 0, Filter: nil}}}
	body, err := cl.request(dispatch.PacketFind, req.Marshal())
	if err != nil {
		return err
	}
	resp, err := proto.UnmarshalFindResponse(body)
	if err != nil {
		return err
	}

	return printAllocations(c, allocationsOf(resp, 0))
}

func cmdFind(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("find requires exactly one address argument")
	}
	addr, err := parseAddress(c.Args().Get(0))
	if err != nil {
		return err
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	req := proto.FindRequest{Records: []proto.FindRecord{{Id: 0, Filter: &proto.Filter{Address: &addr}}}}
	body, err := cl.request(dispatch.PacketFind, req.Marshal())
	if err != nil {
		return err
	}
	resp, err := proto.UnmarshalFindResponse(body)
	if err != nil {
		return err
	}

	return printAllocations(c, allocationsOf(resp, 0))
}

func cmdFindRange(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("findrange requires exactly two address arguments: <lower> <upper>")
	}
	lower, err := parseAddress(c.Args().Get(0))
	if err != nil {
		return err
	}
	upper, err := parseAddress(c.Args().Get(1))
	if err != nil {
		return err
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	req := proto.FindRequest{Records: []proto.FindRecord{{Id: 0, Filter: &proto.Filter{Range: &proto.RangeFilter{Lower: lower, Upper: upper}}}}}
	body, err := cl.request(dispatch.PacketFind, req.Marshal())
	if err != nil {
		return err
	}
	resp, err := proto.UnmarshalFindResponse(body)
	if err != nil {
		return err
	}

	return printAllocations(c, allocationsOf(resp, 0))
}

func allocationsOf(resp proto.FindResponse, id uint32) []proto.Allocation {
	for _, a := range resp.Allocations {
		if a.Id == id {
			return a.Allocations
		}
	}
	return nil
}

func printAllocations(c *cli.Context, allocations []proto.Allocation) error {
	if c.Bool("verbose") {
		for _, a := range allocations {
			spew.Fdump(os.Stdout, a)
		}
		return nil
	}

	table := tablewriter.NewWriter(colorableStdout())
	table.SetHeader([]string{"address", "size", "heap", "stack words", "frames"})
	for _, a := range allocations {
		stackWords := 0
		if a.StackTrace != nil {
			stackWords = len(a.StackTrace.Trace)
		}
		frames := 0
		if a.BackTrace != nil {
			frames = len(a.BackTrace.Frames)
		}
		table.Append([]string{
			fmt.Sprintf("0x%X", a.BaseAddress),
			fmt.Sprint(a.Size),
			fmt.Sprintf("0x%X", a.HeapHandle),
			fmt.Sprint(stackWords),
			fmt.Sprint(frames),
		})
	}
	table.Render()
	fmt.Printf("%d allocation(s)\n", len(allocations))
	return nil
}

func cmdGetStat(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	body, err := cl.request(dispatch.PacketGetStatistics, nil)
	if err != nil {
		return err
	}
	resp, err := proto.UnmarshalGetStatisticsResponse(body)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(colorableStdout())
	table.SetHeader([]string{"counter", "value"})
	table.Append([]string{"total_allocations", fmt.Sprint(resp.Statistics.TotalAllocations)})
	table.Append([]string{"total_reallocations", fmt.Sprint(resp.Statistics.TotalReallocations)})
	table.Append([]string{"total_deallocations", fmt.Sprint(resp.Statistics.TotalDeallocations)})
	table.Append([]string{"total_deallocations_non_allocated", fmt.Sprint(resp.Statistics.TotalDeallocationsNonAllocated)})
	table.Append([]string{"allocated", fmt.Sprint(resp.Statistics.Allocated)})
	table.Render()
	return nil
}

func cmdResetStat(c *cli.Context) error {
	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	if _, err := cl.request(dispatch.PacketResetStatistics, nil); err != nil {
		return err
	}
	fmt.Println("statistics reset")
	return nil
}

// colorableStdout gives tablewriter a writer that renders ANSI color on
// Windows consoles too, falling back to plain stdout when the output
// isn't a terminal.
func colorableStdout() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return os.Stdout
}
