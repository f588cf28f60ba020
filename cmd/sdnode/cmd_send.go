package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/laizesuelia/sd-trabalho-final/pkg/server"
)

func (a *app) cmdSend(args []string) int {
	flags := flag.NewFlagSet("send", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "sdnode: send: usage: sdnode send <message>")
		return 1
	}
	msg := strings.Join(flags.Args(), " ")

	var resp server.SendResponse
	if err := a.postJSON("/send", server.SendRequest{Msg: &msg}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "sdnode: send: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(resp)
	} else {
		fmt.Printf("%s id=%s ts=%d\n", resp.Status, resp.ID, resp.TS)
	}
	return 0
}
