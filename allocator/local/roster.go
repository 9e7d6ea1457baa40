package local

import (
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	errs "github.com/twitter/mpilaunch/common/errors"
)

// Roster lists the simulated hosts and how many slots each can lease.
//
//	hosts:
//	- name: node0
//	  slots: 4
//	# Host names in the order slots are handed out, optional.
//	order: [node0, node1, node0]
type Roster struct {
	Hosts []Host   `yaml:"hosts"`
	Order []string `yaml:"order,omitempty"`
}

type Host struct {
	Name  string `yaml:"name"`
	Slots int    `yaml:"slots"`
}

// DefaultRoster has numHosts hosts named node0..node<numHosts-1>.
func DefaultRoster(numHosts, slotsPerHost int) *Roster {
	r := &Roster{}
	for i := 0; i < numHosts; i++ {
		r.Hosts = append(r.Hosts, Host{Name: fmt.Sprintf("node%d", i), Slots: slotsPerHost})
	}
	return r
}

func LoadRoster(path string) (*Roster, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errs.NewError(errors.Wrapf(err, "reading roster %s", path), errs.IOExitCode)
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) (*Roster, error) {
	r := &Roster{}
	if err := yaml.UnmarshalStrict(data, r); err != nil {
		return nil, errs.NewConfigError("bad roster: %v", err)
	}
	return r, r.Validate()
}

func (r *Roster) Validate() error {
	if len(r.Hosts) == 0 {
		return errs.NewConfigError("roster has no hosts")
	}
	seen := map[string]bool{}
	for _, h := range r.Hosts {
		if h.Name == "" || h.Slots < 1 {
			return errs.NewConfigError("bad roster host %+v", h)
		}
		if seen[h.Name] {
			return errs.NewConfigError("roster lists %s twice", h.Name)
		}
		seen[h.Name] = true
	}
	for _, name := range r.Order {
		if !seen[name] {
			return errs.NewConfigError("roster order names unknown host %s", name)
		}
	}
	return nil
}

func (r *Roster) Capacity() int {
	n := 0
	for _, h := range r.Hosts {
		n += h.Slots
	}
	return n
}
