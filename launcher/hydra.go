package launcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/placement"
)

const (
	HydraMarker   = "HYDRA_LAUNCH:"
	HydraSentinel = "HYDRA_LAUNCH_END"
)

// hydraLauncher drives mpiexec with the manual launcher, which prints one
// "HYDRA_LAUNCH: <id> <proxy argv...>" line per slot and then HYDRA_LAUNCH_END.
type hydraLauncher struct {
	*bridge
}

func (h *hydraLauncher) Start(ctx context.Context, group *placement.HostGroup, perNode int) (*Launch, error) {
	argv := []string{h.cfg.Binary,
		"-launcher", "manual",
		"-hosts", HostList(group),
		"-n", strconv.Itoa(group.NumSlots()),
		h.cfg.Executable}
	argv = append(argv, h.cfg.Args...)

	l, err := h.spawn(argv)
	if err != nil {
		return nil, err
	}
	return h.parse(ctx, l, func(r lineReader) ([]DaemonCommand, error) {
		return ParseHydra(r, group)
	})
}

// HostList renders "<host>:<slots>,..." in Hosts() order, which makes the
// launcher emit proxies in Slots() order.
func HostList(group *placement.HostGroup) string {
	var parts []string
	for _, host := range group.Hosts() {
		parts = append(parts, fmt.Sprintf("%s:%d", host, len(group.SlotsOn(host))))
	}
	return strings.Join(parts, ",")
}

// ParseHydra reads one line per slot followed by the sentinel. Lines carry no
// host, the i-th line belongs to the i-th slot of group.Slots().
func ParseHydra(r lineReader, group *placement.HostGroup) ([]DaemonCommand, error) {
	slots := group.Slots()
	want := len(slots)
	cmds := make([]DaemonCommand, 0, want)
	for i, s := range slots {
		line, err := readLine(r, i, want+1)
		if err != nil {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 || tokens[0] != HydraMarker {
			return nil, errs.NewProtocolError(line, "expected %s line for slot %d", HydraMarker, i)
		}
		if len(tokens) < 3 {
			return nil, errs.NewProtocolError(line, "no proxy command for slot %d", i)
		}
		argv := anchor(append([]string(nil), tokens[2:]...))
		cmds = append(cmds, DaemonCommand{Host: s.Host, Argv: argv})
		log.WithFields(log.Fields{"slot": s.ID, "host": s.Host, "command": strings.Join(argv, " ")}).Info("Parsed hydra proxy command")
	}
	line, err := readLine(r, want, want+1)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(line) != HydraSentinel {
		return nil, errs.NewProtocolError(line, "expected %s after %d proxy lines", HydraSentinel, want)
	}
	return cmds, nil
}
