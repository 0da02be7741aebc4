package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/iceagent/ice"
)

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if flagLocalUfrag == "" || flagLocalPwd == "" || flagRemoteUfrag == "" || flagRemotePwd == "" {
		fmt.Fprintln(os.Stderr, "iceprobe: -u, -p, -U, and -P are all required")
		os.Exit(1)
	}

	remotes, err := readRemoteCandidates(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iceprobe:", err)
		os.Exit(1)
	}
	if len(remotes) == 0 {
		fmt.Fprintln(os.Stderr, "iceprobe: no candidate lines read from stdin")
		os.Exit(1)
	}

	credentials, err := ice.NewCredentialsManager(flagLocalUfrag, flagLocalPwd, flagRemoteUfrag, flagRemotePwd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iceprobe:", err)
		os.Exit(1)
	}
	agent := ice.NewAgent(flagControlling, credentials, ice.DefaultStackConfig())
	defer agent.Shutdown()

	localAddr, err := net.ResolveUDPAddr("udp", flagListen)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iceprobe: resolving listen address:", err)
		os.Exit(1)
	}
	base, err := agent.Stack.AddUDPSocket(localAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iceprobe: binding UDP socket:", err)
		os.Exit(1)
	}
	log.Printf("Listening on %s", base)

	local := ice.NewHostCandidate(base, 1)
	cl := agent.AddStream("0")
	cl.AddCandidatePairs([]ice.Candidate{local}, remotes)
	agent.Run(20 * time.Millisecond)

	log.Printf("Formed %d candidate pair(s); checking...", len(cl.Pairs()))

	deadline := time.After(time.Duration(flagTimeout) * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p, ok := cl.Selected(1); ok {
				reportSelected(p)
				return
			}
			if cl.State() == ice.Failed {
				fmt.Fprintln(os.Stderr, "iceprobe: check list failed; no pair succeeded")
				os.Exit(1)
			}
		case <-deadline:
			fmt.Fprintln(os.Stderr, "iceprobe: timed out waiting for a selected pair")
			os.Exit(1)
		}
	}
}

func reportSelected(p *ice.CandidatePair) {
	fmt.Printf("selected pair: %s\n", p)
}

// readRemoteCandidates parses one ICE candidate SDP line per input line,
// skipping blanks and non-candidate lines so a full m-line block can be
// piped in unmodified.
func readRemoteCandidates(r *os.File) ([]ice.Candidate, error) {
	var out []ice.Candidate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.Contains(line, "candidate:") {
			continue
		}
		c, err := ice.ParseCandidateSDP(line)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, scanner.Err()
}
