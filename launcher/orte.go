package launcher

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/placement"
)

const orteDaemonizeFlag = "--daemonize"

// orteLauncher drives orterun with an echo rsh agent, so instead of
// ssh'ing to each node it prints "<host> <orted argv...>", one line per host.
type orteLauncher struct {
	*bridge
}

func (o *orteLauncher) Start(ctx context.Context, group *placement.HostGroup, perNode int) (*Launch, error) {
	hostfile, err := o.cfg.WorkDir.WriteTempFile("hostfile", Hostfile(group.Hosts(), perNode))
	if err != nil {
		return nil, errs.NewError(errors.Wrap(err, "writing hostfile"), errs.IOExitCode)
	}
	argv := []string{o.cfg.Binary,
		"-mca", "plm_rsh_no_tree_spawn", "true",
		"-mca", "plm_rsh_agent", "echo",
		"-npernode", strconv.Itoa(perNode),
		"-hostfile", hostfile,
		"--", o.cfg.Executable}
	argv = append(argv, o.cfg.Args...)

	l, err := o.spawn(argv)
	if err != nil {
		return nil, err
	}
	return o.parse(ctx, l, func(r lineReader) ([]DaemonCommand, error) {
		return ParseOrte(r, group)
	})
}

// Hostfile renders one "<host> max_slots=<perNode>" line per host.
func Hostfile(hosts []string, perNode int) []byte {
	var buf bytes.Buffer
	for _, h := range hosts {
		fmt.Fprintf(&buf, "%s max_slots=%d\n", h, perNode)
	}
	return buf.Bytes()
}

// ParseOrte reads exactly one line per host in group and returns the commands
// in group.Slots() order. Every slot on a host runs that host's daemon.
func ParseOrte(r lineReader, group *placement.HostGroup) ([]DaemonCommand, error) {
	want := group.NumHosts()
	byHost := make(map[string][]string, want)
	for i := 0; i < want; i++ {
		line, err := readLine(r, i, want)
		if err != nil {
			return nil, err
		}
		host, argv, err := parseOrteLine(line)
		if err != nil {
			return nil, err
		}
		if !group.Has(host) {
			return nil, errs.NewProtocolError(line, "host %s was not acquired", host)
		}
		if _, ok := byHost[host]; ok {
			return nil, errs.NewProtocolError(line, "second daemon for host %s", host)
		}
		byHost[host] = argv
		log.WithFields(log.Fields{"host": host, "command": strings.Join(argv, " ")}).Info("Parsed orte daemon command")
	}

	var cmds []DaemonCommand
	for _, s := range group.Slots() {
		cmds = append(cmds, DaemonCommand{Host: s.Host, Argv: append([]string(nil), byHost[s.Host]...)})
	}
	return cmds, nil
}

func parseOrteLine(line string) (string, []string, error) {
	line = strings.Replace(line, `"`, `\"`, -1)
	var argv []string
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return "", nil, errs.NewProtocolError(line, "empty daemon line")
	}
	for _, t := range tokens[1:] {
		if t != orteDaemonizeFlag {
			argv = append(argv, t)
		}
	}
	if len(argv) == 0 {
		return "", nil, errs.NewProtocolError(line, "no daemon command for host %s", tokens[0])
	}
	return tokens[0], anchor(argv), nil
}
