// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	crdtcli put --scope counters high-score 42       --server http://localhost:8080
//	crdtcli get --scope counters high-score          --server http://localhost:8080
//	crdtcli put --scope tags alice admin,beta-tester  --server http://localhost:8080
//	crdtcli get --scope tags alice                    --server http://localhost:8080
//	crdtcli ring get node2                             --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crdtstore/internal/client"
	"crdtstore/internal/crdt"
	"crdtstore/internal/crdt/crdtypes"
	"crdtstore/internal/ring"
	"crdtstore/internal/transport"
)

var (
	serverAddr string
	timeout    time.Duration
	scope      string
)

// registry binds the scopes this CLI operates on (counters, tags) to the
// same CRDT types cmd/server binds them to, rather than discovering the
// bindings over the wire. cmd/server's counter-maps scope is not bound
// here.
func registry() *crdt.Registry {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int64]](reg, "counters")
	crdt.Bind[crdtypes.Set[string]](reg, "tags")
	return reg
}

func main() {
	root := &cobra.Command{
		Use:   "crdtcli",
		Short: "CLI client for the distributed CRDT store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "CRDT store server address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")
	root.PersistentFlags().StringVar(&scope, "scope", "counters",
		"CRDT scope to operate on (counters, tags)")

	root.AddCommand(getCmd(), putCmd(), ringCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			reg := registry()
			switch scope {
			case "counters":
				c := client.New[crdtypes.Max[int64]](reg, serverAddr, scope, timeout)
				val, ok, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("key %q not found\n", args[0])
					return nil
				}
				prettyPrint(val)
			case "tags":
				c := client.New[crdtypes.Set[string]](reg, serverAddr, scope, timeout)
				val, ok, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("key %q not found\n", args[0])
					return nil
				}
				prettyPrint(val)
			default:
				return fmt.Errorf("unknown scope %q", scope)
			}
			return nil
		},
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Merge a value into a key (value meaning depends on --scope)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			reg := registry()
			switch scope {
			case "counters":
				n, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("counters scope expects an integer value: %w", err)
				}
				c := client.New[crdtypes.Max[int64]](reg, serverAddr, scope, timeout)
				merged, err := c.Put(ctx, args[0], crdtypes.Max[int64]{Value: n})
				if err != nil {
					return err
				}
				prettyPrint(merged)
			case "tags":
				tags := crdtypes.NewSet(strings.Split(args[1], ",")...)
				c := client.New[crdtypes.Set[string]](reg, serverAddr, scope, timeout)
				merged, err := c.Put(ctx, args[0], tags)
				if err != nil {
					return err
				}
				prettyPrint(merged)
			default:
				return fmt.Errorf("unknown scope %q", scope)
			}
			return nil
		},
	}
}

// ─── ring ─────────────────────────────────────────────────────────────────────

func ringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "Inspect a node's ring configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <node-id>",
		Short: "Print a node's current ring config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ni := ring.NetworkId(args[0])
			c := transport.NewClient(map[ring.NetworkId]string{ni: strings.TrimPrefix(serverAddr, "http://")})
			cfg, configured, err := c.GetRing(context.Background(), ni)
			if err != nil {
				return err
			}
			if !configured {
				fmt.Printf("node %q has not been configured yet\n", args[0])
				return nil
			}
			prettyPrint(cfg)
			return nil
		},
	})
	return cmd
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
