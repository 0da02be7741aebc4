package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagControlling bool
	flagLocalUfrag  string
	flagLocalPwd    string
	flagRemoteUfrag string
	flagRemotePwd   string
	flagListen      string
	flagTimeout     int
	flagHelp        bool
)

func init() {
	flag.BoolVarP(&flagControlling, "controlling", "c", false, "Take the controlling role (default: controlled)")
	flag.StringVarP(&flagLocalUfrag, "local-ufrag", "u", "", "Local ice-ufrag")
	flag.StringVarP(&flagLocalPwd, "local-pwd", "p", "", "Local ice-pwd")
	flag.StringVarP(&flagRemoteUfrag, "remote-ufrag", "U", "", "Remote ice-ufrag")
	flag.StringVarP(&flagRemotePwd, "remote-pwd", "P", "", "Remote ice-pwd")
	flag.StringVarP(&flagListen, "listen", "l", "0.0.0.0:0", "Local UDP address to bind the host candidate to")
	flag.IntVarP(&flagTimeout, "timeout", "t", 30, "Seconds to wait for a selected pair before giving up")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `iceprobe: run one ICE check list against a peer's candidates

Usage: iceprobe [OPTION]... < candidates.sdp

Reads remote "a=candidate:..." lines from stdin, one per line, pairs them
against a single locally-bound host candidate, and runs connectivity checks
until a pair is selected or the timeout elapses.

Role:
  -c, --controlling        Take the controlling role (default: controlled)

Credentials:
  -u, --local-ufrag=FRAG   Local ice-ufrag
  -p, --local-pwd=PWD      Local ice-pwd
  -U, --remote-ufrag=FRAG  Remote ice-ufrag
  -P, --remote-pwd=PWD     Remote ice-pwd

Network:
  -l, --listen=ADDR        Local UDP address to bind (default: 0.0.0.0:0)
  -t, --timeout=SECONDS    Give up after this many seconds (default: 30)

Miscellaneous:
  -h, --help               Prints this help message and exits`

func help() {
	b := color.New(color.FgCyan)
	b.Println("iceprobe")
	fmt.Println(helpString)
}
