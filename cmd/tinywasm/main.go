// Command tinywasm loads a WebAssembly module (binary or, with --wat,
// text format), instantiates it, and optionally invokes one exported
// function. Adapted from the teacher's root main.go (read file, build a
// VM, invoke an entry point) onto spf13/cobra for flag parsing -- the
// way grafana/k6 structures its CLI -- and sirupsen/logrus for
// diagnostics instead of the teacher's bare log.Fatalf calls.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tinywasm/tinywasm/spectest"
	"github.com/tinywasm/tinywasm/vm"
	"github.com/tinywasm/tinywasm/wat"
)

var (
	runName     string
	useWat      bool
	useSpectest bool
	gasLimit    uint64
	argsRaw     []string
)

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	root := &cobra.Command{
		Use:   "tinywasm <file>",
		Short: "Assemble/load and run a WebAssembly module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, args[0])
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&runName, "run", "", "exported function name to invoke")
	root.Flags().BoolVar(&useWat, "wat", false, "treat the input file as WebAssembly text format")
	root.Flags().BoolVar(&useSpectest, "spectest", false, "satisfy imports from the spectest host module")
	root.Flags().Uint64Var(&gasLimit, "gas", 0, "gas limit for execution (0 = unmetered)")
	root.Flags().StringSliceVar(&argsRaw, "arg", nil, "argument to pass to --run, repeatable")

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	policy := vm.DefaultPolicy()
	gas := &vm.Gas{}
	if gasLimit > 0 {
		gas.Limit = gasLimit
		policy.GasPolicy = &vm.SimpleGasPolicy{}
	}

	var importer vm.Importer = vm.EmptyImporter{}
	if useSpectest {
		importer = spectest.New(log)
	}

	var inst *vm.Instance
	if useWat {
		mod, err := wat.Assemble(string(data))
		if err != nil {
			return fmt.Errorf("assembling %s: %w", path, err)
		}
		inst, err = vm.Instantiate(mod, policy, gas, importer)
		if err != nil {
			return fmt.Errorf("instantiating %s: %w", path, err)
		}
	} else {
		var err error
		inst, err = vm.NewVM(data, policy, gas, importer)
		if err != nil {
			return fmt.Errorf("instantiating %s: %w", path, err)
		}
	}
	inst.Log = log

	if runName == "" {
		return nil
	}

	callArgs, err := parseArgs(argsRaw)
	if err != nil {
		return err
	}
	result, err := inst.Invoke(runName, callArgs...)
	if err != nil {
		return fmt.Errorf("invoking %s: %w", runName, err)
	}
	fmt.Fprintln(os.Stdout, result)
	return nil
}

func parseArgs(raw []string) ([]uint64, error) {
	out := make([]uint64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}
