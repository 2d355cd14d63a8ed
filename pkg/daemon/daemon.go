package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	utilwait "k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/config"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/debug"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/event"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/features"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/metrics"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/power"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/topology"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/utils"
)

const (
	// ClocktreeNamespace is where the board ConfigMap is looked up
	ClocktreeNamespace = "openshift-clocktree"
	// rateWindowSize is the number of rate samples kept per output
	rateWindowSize = 30
)

// Options are the runtime settings that do not come from the
// configuration file.
type Options struct {
	// StateFile is the state request file, watched for changes. Empty
	// disables state requests.
	StateFile string
	// UpdateInterval is the output rate sampling period.
	UpdateInterval time.Duration
	// KubeClient, when set, lets the board clock tree come from a ConfigMap.
	KubeClient kubernetes.Interface
	Namespace  string
	ConfigMap  string
}

// Daemon drives the clock tree of one board.
type Daemon struct {
	cfg  *config.Config
	opts Options

	board *topology.Board
	regs  *Registers

	// flash is nil when flash latency coordination is off
	flash *stm32.FlashLatency
	// hclkSources are the nodes whose steps can change the flash clock
	hclkSources map[clock.NodeID]bool

	periph *power.PeriphClocks
	backup *power.BackupDomain
	// backupOutputs are the outputs whose states need backup domain access
	backupOutputs map[string]bool

	notifier *event.StateNotifier
	monitor  *utils.RateMonitor
	tracker  *ReadyTracker

	// applyMu serialises state requests coming from the boot path and the
	// state file
	applyMu sync.Mutex
}

// New loads the board clock tree and builds its graph over the configured
// register backend. Nothing is programmed until Boot.
func New(ctx context.Context, cfg *config.Config, opts Options, tracker *ReadyTracker) (*Daemon, error) {
	tree, err := loadTree(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	_, family, err := topology.Validate(tree)
	if err != nil {
		return nil, fmt.Errorf("clock tree %s: %w", tree.Name, err)
	}
	if err = features.SetFlags(cfg.Features(), tree.Spec.EngineVersion, family); err != nil {
		return nil, err
	}
	features.Flags.Print()
	if err = tree.CheckTimerPrescaler(features.Flags.Board.TimerPrescaler); err != nil {
		return nil, fmt.Errorf("clock tree %s: %w", tree.Name, err)
	}

	regs, err := openRegisters(cfg, family, tree.RegisterBase(family))
	if err != nil {
		return nil, err
	}
	board, err := topology.Build(tree, regs.RCC, features.Flags.ClockOptions())
	if err != nil {
		regs.Close()
		return nil, err
	}

	dn := &Daemon{
		cfg:           cfg,
		opts:          opts,
		board:         board,
		regs:          regs,
		notifier:      event.NewStateNotifier(),
		monitor:       utils.NewRateMonitor(rateWindowSize),
		tracker:       tracker,
		backupOutputs: map[string]bool{},
	}
	if err = dn.setupPower(family); err != nil {
		regs.Close()
		return nil, err
	}
	if err = dn.setupFlashLatency(); err != nil {
		regs.Close()
		return nil, err
	}
	dn.installHooks()
	dn.subscribe()
	return dn, nil
}

func loadTree(ctx context.Context, cfg *config.Config, opts Options) (*topology.ClockTree, error) {
	topo := cfg.Topology
	if ext := filepath.Ext(topo); ext == ".yaml" || ext == ".yml" || filepath.IsAbs(topo) {
		return topology.LoadFile(topo)
	}
	var loader *topology.ConfigMapLoader
	if opts.KubeClient != nil {
		ns := opts.Namespace
		if ns == "" {
			ns = ClocktreeNamespace
		}
		loader = topology.NewConfigMapLoader(opts.KubeClient, ns, opts.ConfigMap)
	}
	return topology.Resolve(ctx, loader, topo)
}

func (dn *Daemon) setupPower(family *stm32.Family) error {
	if family == nil {
		return nil
	}
	dn.periph = power.NewPeriphClocks(family, dn.regs.RCC)
	if !dn.cfg.BackupDomain {
		return nil
	}
	if !features.Flags.Board.BackupDomain || dn.regs.PWR == nil {
		glog.Warningf("backup domain access is not available on %s", family.Name)
		return nil
	}
	backup, err := power.NewBackupDomain(family, dn.regs.PWR, dn.periph)
	if err != nil {
		return err
	}
	dn.backup = backup
	for _, o := range dn.board.Tree.Spec.BackupDomain {
		dn.backupOutputs[o] = true
	}
	return nil
}

func (dn *Daemon) setupFlashLatency() error {
	if !dn.cfg.FlashLatency || !features.Flags.Board.FlashLatency || dn.regs.Flash == nil {
		return nil
	}
	flash, err := dn.board.FlashLatency(dn.regs.Flash)
	if err != nil || flash == nil {
		return err
	}
	dn.flash = flash

	// every node upstream of HCLK
	g := dn.board.Graph
	dn.hclkSources = map[clock.NodeID]bool{}
	queue := []clock.NodeID{flash.HCLK}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if dn.hclkSources[id] {
			continue
		}
		dn.hclkSources[id] = true
		for _, p := range g.Node(id).Parents() {
			if p != clock.NoNode {
				queue = append(queue, p)
			}
		}
	}
	glog.Infof("flash latency follows %s", g.Name(flash.HCLK))
	return nil
}

// installHooks logs every system clock switch.
func (dn *Daemon) installHooks() {
	g := dn.board.Graph
	for id := clock.NodeID(0); int(id) < g.Len(); id++ {
		if len(g.Node(id).Parents()) < 2 {
			continue
		}
		name := g.Name(id)
		err := g.SetHooks(id, clock.Hooks{
			After: func(_ context.Context, v clock.View, step clock.Step) error {
				if step.Action == clock.ActionConfigure {
					glog.Infof("%s switched to input %d, now %d Hz", name, step.Value, v.Rate(step.Node))
				}
				return nil
			},
		})
		if err != nil {
			glog.Errorf("failed to install hooks on %s: %v", name, err)
		}
	}
}

// outputStates returns the state names of every output of g.
func outputStates(g *clock.Graph) map[string][]string {
	states := map[string][]string{}
	for _, name := range g.Outputs() {
		o, _ := g.Output(name)
		states[name] = []string{}
		for _, s := range o.States {
			states[name] = append(states[name], s.Name)
		}
	}
	return states
}

func (dn *Daemon) subscribe() {
	g := dn.board.Graph
	metrics.RegisterMetrics(dn.board.Name)
	dn.notifier.Register(&metrics.Subscriber{States: outputStates(g)})
	dn.notifier.Register(&debug.Printer{Graph: g})
	dn.notifier.Attach(g)
}

// Board returns the board the daemon drives.
func (dn *Daemon) Board() *topology.Board {
	return dn.board
}

// Registers returns the register blocks of the board.
func (dn *Daemon) Registers() *Registers {
	return dn.regs
}

// Close drops the metrics of the board and releases the register blocks.
func (dn *Daemon) Close() error {
	g := dn.board.Graph
	nodes := make([]string, 0, g.Len())
	for id := clock.NodeID(0); int(id) < g.Len(); id++ {
		nodes = append(nodes, g.Name(id))
	}
	metrics.DeleteClockRateMetrics(nodes)
	for name, states := range outputStates(g) {
		metrics.DeleteOutputMetrics(name, states)
	}
	return dn.regs.Close()
}

// Boot powers the shared peripheral clocks and applies the default state of
// every output having one. The daemon is ready once it returns nil.
func (dn *Daemon) Boot(ctx context.Context) error {
	if dn.periph != nil {
		for _, name := range []string{"PWR", "SYSCFG"} {
			if err := dn.periph.Enable(name); err != nil && !errors.Is(err, clock.ErrNotFound) {
				return fmt.Errorf("enable %s clock: %w", name, err)
			}
		}
	}

	g := dn.board.Graph
	for _, name := range g.Outputs() {
		o, _ := g.Output(name)
		if _, ok := o.State(dn.cfg.DefaultState); !ok {
			continue
		}
		if err := dn.ApplyState(ctx, name, dn.cfg.DefaultState); err != nil {
			return fmt.Errorf("boot state of %s: %w", name, err)
		}
	}
	g.Refresh()
	dn.updateClockRates()
	debug.PrintTree(g)
	dn.tracker.setBooted(true)
	return nil
}

// ApplyState applies state to output, coordinating the flash latency and
// the backup domain access it needs, and publishes the outcome.
func (dn *Daemon) ApplyState(ctx context.Context, output, state string) error {
	dn.applyMu.Lock()
	defer dn.applyMu.Unlock()

	g := dn.board.Graph
	err := dn.notifier.ApplyState(func() error {
		if dn.backupOutputs[output] {
			if err := dn.backup.EnableAccess(ctx); err != nil {
				return err
			}
			defer func() {
				if err := dn.backup.DisableAccess(ctx); err != nil {
					glog.Errorf("output %s: %v", output, err)
				}
			}()
		}
		if dn.flashAffected(output, state) {
			return dn.flash.Apply(ctx, g, output, state)
		}
		return g.ApplyState(ctx, output, state)
	}, g, output, state)
	if err != nil {
		return err
	}
	dn.monitor.Reset(output)
	return nil
}

// flashAffected tells whether applying state may change the flash clock.
func (dn *Daemon) flashAffected(output, state string) bool {
	if dn.flash == nil {
		return false
	}
	o, ok := dn.board.Graph.Output(output)
	if !ok {
		return false
	}
	s, ok := o.State(state)
	if !ok {
		return false
	}
	for _, step := range s.Steps {
		if dn.hclkSources[step.Node] {
			return true
		}
	}
	return false
}

func (dn *Daemon) updateClockRates() {
	g := dn.board.Graph
	for id := clock.NodeID(0); int(id) < g.Len(); id++ {
		metrics.UpdateClockRateMetrics(g.Name(id), g.Rate(id))
	}
}

// sample records the output rates and publishes their statistics.
func (dn *Daemon) sample() {
	for _, s := range dn.monitor.Sample(dn.board.Graph) {
		metrics.UpdateOutputRateMetrics(s.Output, s.Last)
		metrics.UpdateOutputRateStats(s.Output, s.Mean, s.StdDev)
		if s.Min != s.Max {
			glog.Warningf("output %s rate moved between %d and %d Hz over %d samples", s.Output, s.Min, s.Max, s.Samples)
		}
	}
	dn.updateClockRates()
}

// Run samples the output rates and serves state requests until stopCh is
// closed.
func (dn *Daemon) Run(stopCh <-chan struct{}) {
	glog.Infof("running clock tree of %s", dn.board.Name)
	interval := dn.opts.UpdateInterval
	if interval <= 0 {
		interval = time.Duration(config.DefaultUpdateInterval) * time.Second
	}
	go utilwait.Until(dn.sample, interval, stopCh)

	if dn.opts.StateFile == "" {
		<-stopCh
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()
	utilwait.Until(func() {
		if err := dn.watchStateFile(ctx); err != nil {
			glog.Errorf("state file watcher: %v", err)
		}
	}, time.Second, stopCh)
}

// String ...
func (dn *Daemon) String() string {
	g := dn.board.Graph
	return fmt.Sprintf("board %s, %d nodes, outputs %s", dn.board.Name, g.Len(), strings.Join(g.Outputs(), ","))
}
