package main

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"rsbp/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", "/tmp/rsbp.sock", "Control socket path")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: rsbp-ctl [-s socket] press|status|shutdown\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdPress
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	resp, err := ipc.SendCommand(*socket, cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rsbp-daemon:", err)
		os.Exit(1)
	}

	switch cmd {
	case ipc.CmdStatus:
		fmt.Printf("state:  %s\nuptime: %s\n", resp.State, resp.Uptime)
		if resp.LastError != "" {
			fmt.Printf("last error: %s\n", resp.LastError)
		}
	case ipc.CmdPress:
		fmt.Println("pressed, state was", resp.State)
	default:
		fmt.Println("ok")
	}
}
