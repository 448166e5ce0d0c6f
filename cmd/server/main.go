package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/leaf-api/internal/options"
)

func newRootCmd() *cobra.Command {
	opts := options.NewOptions()

	serve := newServeCmd(opts)

	root := &cobra.Command{
		Use:           "leaf-api",
		Short:         "Tomato leaf disease classification API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	opts.AddFlags(root.PersistentFlags())
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(serve)
	root.AddCommand(newPredictCmd(opts))

	return root
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	options.LoadEnv()

	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
}
