// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package wsflags defines the command line flags that configure a
// wavestage session: where units are provisioned, how many units
// each machine hosts, and how transfers and status are reported.
package wsflags

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/wavestage/alloc"
	"github.com/grailbio/wavestage/exec"
	"github.com/grailbio/wavestage/unit"
)

var (
	mu        sync.Mutex
	providers = map[string]Provider{} // protected by mu
	profiles  = map[string]string{}   // protected by mu
)

// A Provider configures the unit system of a session from key=val
// options.
type Provider interface {
	Name() string
	Set(option string) error
	// ExecOption returns the session option that provisions units,
	// unitsPerMachine to a machine where machines are used.
	ExecOption(unitsPerMachine int) exec.Option
}

// RegisterSystemProvider registers a named unit system provider.
func RegisterSystemProvider(name string, provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("system %s is already registered", name)
	}
	providers[name] = provider
}

// RegisterSystemProfile registers name as shorthand for a system and
// its options, e.g. "big-units" for "ec2:instance=m5.24xlarge".
func RegisterSystemProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the registered providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

func noOptions(name string) error {
	return fmt.Errorf("the %s system provider does not support any configuration", name)
}

// Internal provisions units in the current process.
type Internal struct{}

func (*Internal) Name() string { return "internal" }
func (*Internal) Set(string) error { return noOptions("internal") }
func (*Internal) ExecOption(int) exec.Option { return exec.Local }

// Local provisions units on bigmachine processes on the local
// machine.
type Local struct{}

func (*Local) Name() string     { return "local" }
func (*Local) Set(string) error { return noOptions("local") }

func (*Local) ExecOption(unitsPerMachine int) exec.Option {
	return exec.Bigmachine(bigmachine.Local, unitsPerMachine)
}

// EC2 provisions units on EC2 machines through ec2system.
type EC2 struct {
	Instance  string
	Profile   string
	Dataspace uint
	Rootsize  uint
	OnDemand  bool
}

func (*EC2) Name() string { return "EC2" }

// Set sets one of the options instance, profile, dataspace (GiB),
// rootsize (GiB) or ondemand.
func (e *EC2) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("not in key=val format %q", v)
	}
	key, val := parts[0], parts[1]
	switch key {
	case "instance":
		e.Instance = val
	case "profile":
		e.Profile = val
	case "dataspace", "rootsize":
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: not a size: %v", key, val)
		}
		if key == "dataspace" {
			e.Dataspace = uint(n)
		} else {
			e.Rootsize = uint(n)
		}
	case "ondemand":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("ondemand: not a bool: %v", val)
		}
		e.OnDemand = b
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

func (e *EC2) ExecOption(unitsPerMachine int) exec.Option {
	system := &ec2system.System{
		Username:        "unknown",
		InstanceType:    e.Instance,
		InstanceProfile: e.Profile,
		Dataspace:       e.Dataspace,
		Diskspace:       e.Rootsize,
		OnDemand:        e.OnDemand,
	}
	if u, err := user.Current(); err == nil {
		system.Username = u.Username
	} else {
		log.Printf("ec2: get current user: %v", err)
	}
	return exec.Bigmachine(system, unitsPerMachine)
}

func init() {
	RegisterSystemProvider("internal", &Internal{})
	RegisterSystemProvider("local", &Local{})
	RegisterSystemProvider("ec2", &EC2{})
}

// SystemHelpShort summarizes the values accepted by a SystemFlag.
func SystemHelpShort(prefix string) string {
	return fmt.Sprintf("unit system: internal, local, ec2[:key=val,...] or a profile; see -%ssystem-help", prefix)
}

// SystemHelpLong documents the values accepted by a SystemFlag.
const SystemHelpLong = `A unit system is given as <system>[:key=val,...].

internal: units in the wavestage process (default).
local: units hosted by bigmachine processes on this machine,
	-units-per-machine to a process.
ec2: units hosted by EC2 machines, -units-per-machine to a machine.
	instance=<type>    EC2 instance type, e.g. m5.4xlarge
	dataspace=<GiB>    size of the data volume
	rootsize=<GiB>     size of the root volume
	ondemand=<bool>    use on-demand rather than spot instances
	profile=<arn>      instance profile

Applications may register profiles that name a system and options.
`

// SystemFlag is a flag.Value that selects a unit system provider.
type SystemFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

func (sys *SystemFlag) String() string {
	if sys.Provider == nil {
		return ""
	}
	if len(sys.Options) == 0 {
		return sys.Provider.Name()
	}
	return sys.Provider.Name() + ":" + strings.Join(sys.Options, ",")
}

// Set selects the provider named by v, or by the profile named by
// v, and applies its options.
func (sys *SystemFlag) Set(v string) error {
	name, options := splitSystem(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = splitSystem(profile)
		options = append(profileOptions, options...)
	}
	provider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("unsupported system or profile type: %v", name)
	}
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	sys.Provider = provider
	sys.Options = options
	sys.Specified = true
	return nil
}

func (sys *SystemFlag) Get() interface{} { return sys.String() }

func splitSystem(s string) (name string, options []string) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) > 1 {
		options = strings.Split(parts[1], ",")
	}
	return parts[0], options
}

// Flags holds the session flags of a wavestage command.
type Flags struct {
	System          SystemFlag
	SystemHelp      bool
	HTTPAddress     cmdutil.NetworkAddressFlag
	ConsoleStatus   bool
	Inflight        int
	UnitsPerMachine int
	TracePath       string
	fs              *flag.FlagSet
}

// Output returns the writer for usage and help messages.
func (wf *Flags) Output() io.Writer {
	if wf.fs != nil && wf.fs.Output() != nil {
		return wf.fs.Output()
	}
	return os.Stderr
}

// RegisterFlags registers the session flags on fs, each name
// prefixed by prefix.
func RegisterFlags(fs *flag.FlagSet, wf *Flags, prefix string) {
	fs.Var(&wf.System, prefix+"system", SystemHelpShort(prefix))
	wf.System.Set("internal")
	wf.System.Specified = false
	fs.Var(&wf.HTTPAddress, prefix+"http", "address of http status server")
	wf.HTTPAddress.Set(":3333")
	wf.HTTPAddress.Specified = false
	fs.BoolVar(&wf.ConsoleStatus, prefix+"console-status", false, "print status to stdout")
	fs.IntVar(&wf.Inflight, prefix+"inflight", unit.DefaultInflight, "maximum number of outstanding asynchronous transfers")
	fs.IntVar(&wf.UnitsPerMachine, prefix+"units-per-machine", alloc.DefaultUnitsPerMachine, "number of units hosted by each machine")
	fs.StringVar(&wf.TracePath, prefix+"trace", "", "path to which a trace of acquisition and run phases is written")
	fs.BoolVar(&wf.SystemHelp, prefix+"system-help", false, "describe unit systems and profiles")
	wf.fs = fs
}

// ExecOptions validates the flags and returns the session options
// they select.
func (wf *Flags) ExecOptions() ([]exec.Option, error) {
	if wf.Inflight <= 0 {
		return nil, fmt.Errorf("inflight must be positive, got %d", wf.Inflight)
	}
	if wf.UnitsPerMachine <= 0 {
		return nil, fmt.Errorf("units-per-machine must be positive, got %d", wf.UnitsPerMachine)
	}
	var st status.Status
	// Display machines first.
	_ = st.Group("machines")
	options := []exec.Option{
		exec.Status(&st),
		wf.System.Provider.ExecOption(wf.UnitsPerMachine),
		exec.Inflight(wf.Inflight),
	}
	if wf.TracePath != "" {
		options = append(options, exec.TracePath(wf.TracePath))
	}
	return options, nil
}
