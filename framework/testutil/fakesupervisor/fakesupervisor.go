// Package fakesupervisor is a stand-in for the devnet supervisor used by
// tests. A test binary calls RunIfRequested from TestMain and then points the
// launcher at itself via Settings:
//
//	func TestMain(m *testing.M) {
//		fakesupervisor.RunIfRequested()
//		os.Exit(m.Run())
//	}
//
// The fake understands the supervisor's "serve --config --data --base_port"
// contract: it reads the devnet YAML, writes <data>/<chain_id>/config.json and
// genesis.json, and forks one node process per validator into its own process
// group. Each node listens on its P2P, RPC, gRPC and EVM RPC ports until it
// receives SIGTERM.
//
// Per-chain keys steer failure modes:
//
//	fake_mode: exit      exit with code 3 right away
//	fake_mode: silent    write config files but never open ports
//	fake_mode: stubborn  ignore SIGTERM (nodes still exit)
//	fake_mode: crash     exit with code 4 after half a second, before any port opens
//	fake_mode: orphan    exit with code 0 a second after the nodes are up, leaving them running
//	fake_config_delay: 300ms  write config.json this long after the ports open
package fakesupervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// EnvRole selects what the re-executed test binary does.
const EnvRole = "DEVNET_FAKE_ROLE"

const (
	roleSupervisor = "supervisor"
	roleNode       = "node"

	// chainSpan separates the port ranges of multiple chains in one devnet config.
	chainSpan = 100

	crashDelay  = 500 * time.Millisecond
	orphanDelay = time.Second
)

// Env returns the environment entries that make a test binary act as the fake supervisor.
func Env() []string {
	return []string{EnvRole + "=" + roleSupervisor}
}

// Settings returns harness settings that launch the current test binary as the
// supervisor, with short timeouts suited to tests.
func Settings() (config.Settings, error) {
	self, err := os.Executable()
	if err != nil {
		return config.Settings{}, err
	}
	s := config.DefaultSettings()
	s.SupervisorBin = self
	s.SupervisorEnv = Env()
	s.ReadinessTimeout = 15 * time.Second
	s.TeardownGrace = 5 * time.Second
	return s, nil
}

// RunIfRequested turns the process into the fake supervisor or a fake node
// when the environment asks for it, and exits. Otherwise it returns.
func RunIfRequested() {
	switch os.Getenv(EnvRole) {
	case roleSupervisor:
		os.Exit(runSupervisor(os.Args[1:]))
	case roleNode:
		os.Exit(runNode(os.Args[1:]))
	}
}

type chainDef struct {
	Cmd         string           `yaml:"cmd"`
	Validators  []map[string]any `yaml:"validators"`
	Genesis     map[string]any   `yaml:"genesis"`
	FakeMode    string           `yaml:"fake_mode"`
	ConfigDelay string           `yaml:"fake_config_delay"`
}

type serveArgs struct {
	config   string
	data     string
	basePort int
}

// parseServeArgs parses the "serve" command line the launcher passes to the
// supervisor.
func parseServeArgs(args []string) (serveArgs, error) {
	var (
		out    serveArgs
		served bool
		quiet  bool
	)
	root := &cobra.Command{
		Use:           "pystarport",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd := &cobra.Command{
		Use:  "serve",
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			served = true
			return nil
		},
	}
	serveCmd.Flags().StringVar(&out.config, "config", "", "devnet config file")
	serveCmd.Flags().StringVar(&out.data, "data", "", "data directory")
	serveCmd.Flags().IntVar(&out.basePort, "base_port", 0, "base port of the first validator")
	serveCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress node output")
	for _, name := range []string{"config", "data", "base_port"} {
		_ = serveCmd.MarkFlagRequired(name)
	}
	root.AddCommand(serveCmd)
	root.SetArgs(append([]string{}, args...))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	if err := root.Execute(); err != nil {
		return out, err
	}
	if !served {
		return out, fmt.Errorf("expected serve sub-command, got %v", args)
	}
	if out.basePort <= 0 {
		return out, fmt.Errorf("invalid base_port %d", out.basePort)
	}
	return out, nil
}

func runSupervisor(args []string) int {
	sa, err := parseServeArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	bz, err := os.ReadFile(sa.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(bz, &doc); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	chainIDs := make([]string, 0, len(doc))
	defs := make(map[string]chainDef, len(doc))
	for id, node := range doc {
		if id == "dotenv" || node.Kind != yaml.MappingNode {
			continue
		}
		var def chainDef
		if err := node.Decode(&def); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if len(def.Validators) == 0 {
			def.Validators = []map[string]any{{}}
		}
		chainIDs = append(chainIDs, id)
		defs[id] = def
	}
	sort.Strings(chainIDs)

	for _, id := range chainIDs {
		switch defs[id].FakeMode {
		case "exit":
			fmt.Fprintf(os.Stderr, "chain %s refused to start\n", id)
			return 3
		case "crash":
			time.Sleep(crashDelay)
			fmt.Fprintf(os.Stderr, "chain %s crashed\n", id)
			return 4
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	// nodes are reaped as soon as they exit so none linger as zombies in the group.
	var nodes sync.WaitGroup
	for ci, id := range chainIDs {
		def := defs[id]
		if def.FakeMode == "stubborn" {
			signal.Ignore(syscall.SIGTERM)
		}

		chainDir := filepath.Join(sa.data, id)
		basePorts := make([]int, len(def.Validators))
		for i := range def.Validators {
			basePorts[i] = sa.basePort + ci*chainSpan + i*ports.NodeSpan
		}

		if err := writeGenesis(chainDir, id, def); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		delay, _ := time.ParseDuration(def.ConfigDelay)
		if delay == 0 {
			if err := writeRuntimeConfig(chainDir, id, def, basePorts); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}

		if def.FakeMode != "silent" {
			for i, bp := range basePorts {
				cmd, err := spawnNode(bp)
				if err != nil {
					fmt.Fprintf(os.Stderr, "node %d: %v\n", i, err)
					return 1
				}
				nodes.Add(1)
				go func() {
					defer nodes.Done()
					_ = cmd.Wait()
				}()
			}
		}

		if delay > 0 {
			go func(chainDir, id string, def chainDef, basePorts []int) {
				time.Sleep(delay)
				_ = writeRuntimeConfig(chainDir, id, def, basePorts)
			}(chainDir, id, def, basePorts)
		}
	}

	for _, id := range chainIDs {
		if defs[id].FakeMode == "orphan" {
			time.Sleep(orphanDelay)
			return 0
		}
	}

	<-sigs
	// nodes received the same group signal.
	nodes.Wait()
	return 0
}

func writeGenesis(chainDir, chainID string, def chainDef) error {
	if err := os.MkdirAll(chainDir, 0o755); err != nil {
		return err
	}
	genesis := map[string]any{"chain_id": chainID, "app_state": map[string]any{}}
	if appState, ok := def.Genesis["app_state"]; ok {
		genesis["app_state"] = appState
	}
	bz, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(chainDir, config.GenesisFile), bz, 0o644)
}

func writeRuntimeConfig(chainDir, chainID string, def chainDef, basePorts []int) error {
	validators := make([]map[string]any, len(basePorts))
	for i, bp := range basePorts {
		v := map[string]any{}
		for k, val := range def.Validators[i] {
			v[k] = val
		}
		v["base_port"] = bp
		v["hostname"] = "127.0.0.1"
		validators[i] = v
	}
	bz, err := json.MarshalIndent(map[string]any{
		"chain_id":   chainID,
		"cmd":        def.Cmd,
		"validators": validators,
	}, "", "  ")
	if err != nil {
		return err
	}
	// write-then-rename keeps readers from seeing a partial file.
	tmp := filepath.Join(chainDir, config.RuntimeConfigFile+".tmp")
	if err := os.WriteFile(tmp, bz, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(chainDir, config.RuntimeConfigFile))
}

func spawnNode(basePort int) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	var list []string
	for _, svc := range []ports.Service{ports.P2P, ports.RPC, ports.GRPC, ports.EVMRPC} {
		list = append(list, strconv.Itoa(ports.MustPort(basePort, svc)))
	}
	cmd := exec.Command(self, "node", "--ports", strings.Join(list, ","))
	cmd.Env = append(os.Environ(), EnvRole+"="+roleNode)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func runNode(args []string) int {
	if len(args) != 3 || args[0] != "node" || args[1] != "--ports" {
		fmt.Fprintf(os.Stderr, "usage: node --ports p1,p2,...; got %v\n", args)
		return 2
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	var listeners []net.Listener
	for _, p := range strings.Split(args[2], ",") {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", p))
		if err != nil {
			fmt.Fprintf(os.Stderr, "listen %s: %v\n", p, err)
			return 1
		}
		listeners = append(listeners, l)
		go serve(l)
	}

	<-sigs
	for _, l := range listeners {
		_ = l.Close()
	}
	return 0
}

func serve(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}
}
