package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"k8s.io/client-go/kubernetes"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/config"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/daemon"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/topology"
)

// Git commit of current build set at build time
var GitCommit = "Undefined"

type cliParams struct {
	updateInterval int
	configPath     string
	stateFile      string
	topology       string
	useConfigMap   bool
	configMapName  string
	readyAddress   string
	metricsAddress string
	listBoards     bool
}

// Parse Command line flags
func (cp *cliParams) flagInit() {
	flag.IntVar(&cp.updateInterval, "update-interval", config.DefaultUpdateInterval,
		"Interval to sample the clock output rates")
	flag.StringVar(&cp.configPath, "config", config.DefaultConfigPath,
		"daemon configuration file")
	flag.StringVar(&cp.stateFile, "state-file", config.DefaultStateFile,
		"state request file (output: state), empty to disable")
	flag.StringVar(&cp.topology, "topology", "",
		"board name or clock tree file, overrides the configuration file")
	flag.BoolVar(&cp.useConfigMap, "use-configmap", false,
		"Read board clock trees from a ConfigMap before the embedded ones")
	flag.StringVar(&cp.configMapName, "configmap", "clocktree-boards",
		"ConfigMap holding board clock trees")
	flag.StringVar(&cp.readyAddress, "ready-address", "0.0.0.0:8081",
		"bind address of the ready server")
	flag.StringVar(&cp.metricsAddress, "metrics-address", "0.0.0.0:9091",
		"bind address of the metrics server")
	flag.BoolVar(&cp.listBoards, "list-boards", false,
		"print the embedded boards and exit")
	flag.Parse()
	cp.debugPrint()
}

func (cp *cliParams) debugPrint() {
	glog.Infof("resync period set to: %d [s]", cp.updateInterval)
	glog.Infof("config file set to: %s", cp.configPath)
	glog.Infof("state file set to: %s", cp.stateFile)
	glog.Infof("use ConfigMap: %v (%s)", cp.useConfigMap, cp.configMapName)
}

func kubeClient() (kubernetes.Interface, error) {
	cfg, err := config.GetKubeConfig()
	if err != nil {
		return nil, fmt.Errorf("get kubeconfig failed: %w", err)
	}
	glog.Infof("successfully get kubeconfig")
	return kubernetes.NewForConfig(cfg)
}

func main() {
	fmt.Printf("Git commit: %s\n", GitCommit)
	cp := &cliParams{}
	cp.flagInit()

	if cp.listBoards {
		for _, b := range topology.Boards() {
			fmt.Println(b)
		}
		return
	}

	cfg, err := config.Load(cp.configPath)
	if err != nil {
		glog.Errorf("failed to load config: %v", err)
		return
	}
	if cp.topology != "" {
		cfg.Topology = cp.topology
	}
	cfg.Print()

	opts := daemon.Options{
		StateFile:      cp.stateFile,
		UpdateInterval: time.Second * time.Duration(cp.updateInterval),
		ConfigMap:      cp.configMapName,
		Namespace:      os.Getenv("POD_NAMESPACE"),
	}
	if cp.useConfigMap {
		client, kerr := kubeClient()
		if kerr != nil {
			glog.Errorf("cannot create kubeClient, using embedded clock trees: %v", kerr)
		} else {
			opts.KubeClient = client
		}
	}

	tracker := &daemon.ReadyTracker{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemonInstance, err := daemon.New(ctx, cfg, opts, tracker)
	if err != nil {
		glog.Errorf("failed to build clock tree: %v", err)
		return
	}
	defer daemonInstance.Close()
	glog.Info(daemonInstance.String())

	daemon.StartMetricsServer(cp.metricsAddress)
	daemon.StartReadyServer(cp.readyAddress, tracker)

	if err = daemonInstance.Boot(ctx); err != nil {
		glog.Fatalf("failed to apply boot clock states: %v", err)
	}

	stopCh := make(chan struct{})
	go daemonInstance.Run(stopCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	glog.Info("signal received, shutting down", sig)
	close(stopCh)
}
