package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tipjar/cmd/internal/passphrase"
	"tipjar/crypto"
	"tipjar/rpc"
)

const (
	keyPassEnv     = "TIPJAR_KEY_PASS"
	defaultKeyFile = "wallet.keystore"
	callTimeout    = 30 * time.Second
)

type globals struct {
	rpcEndpoint string
	programID   string
	passphrase  func() (string, error)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	g := &globals{
		rpcEndpoint: defaultRPCEndpoint(),
		programID:   strings.TrimSpace(os.Getenv("TIPJAR_PROGRAM_ID")),
		passphrase:  passphrase.NewSource(keyPassEnv, "wallet keystore").Get,
	}
	args, err := g.applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "generate-key":
		return g.runGenerateKey(rest, stdout, stderr)
	case "address":
		return g.runAddress(rest, stdout, stderr)
	case "balance":
		return g.runBalance(rest, stdout, stderr)
	case "airdrop":
		return g.runAirdrop(rest, stdout, stderr)
	case "init":
		return g.runInit(rest, stdout, stderr)
	case "tip":
		return g.runTip(rest, stdout, stderr)
	case "withdraw":
		return g.runWithdraw(rest, stdout, stderr)
	case "jar":
		return g.runJar(rest, stdout, stderr)
	case "info":
		return g.runInfo(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8899"
}

func (g *globals) applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--program":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			g.setGlobal(arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--rpc="):
			g.setGlobal("--rpc", strings.TrimPrefix(arg, "--rpc="))
		case strings.HasPrefix(arg, "--program="):
			g.setGlobal("--program", strings.TrimPrefix(arg, "--program="))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func (g *globals) setGlobal(flag, value string) {
	if flag == "--rpc" {
		g.rpcEndpoint = value
		return
	}
	g.programID = value
}

func (g *globals) client() *rpc.Client {
	return rpc.NewClient(g.rpcEndpoint)
}

// program resolves the tip jar program id, asking the node when no
// --program override is set.
func (g *globals) program(ctx context.Context) (crypto.Address, error) {
	if g.programID != "" {
		return crypto.DecodeAddress(g.programID)
	}
	info, err := g.client().GetProgramInfo(ctx)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("discover program id: %w", err)
	}
	return crypto.DecodeAddress(info.ProgramID)
}

func (g *globals) loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultKeyFile
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore %s not found. run tipjar-cli generate-key first", path)
		}
		return nil, err
	}
	pass, err := g.passphrase()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func printJSON(w io.Writer, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%+v\n", v)
		return
	}
	fmt.Fprintln(w, string(data))
}

func handleRPCCallError(stderr io.Writer, err error) int {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Data != nil {
			fmt.Fprintf(stderr, "Error: %s (%v)\n", rpcErr.Message, rpcErr.Data)
		} else {
			fmt.Fprintf(stderr, "Error: %s\n", rpcErr.Message)
		}
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: tipjar-cli [--rpc URL] [--program ID] <command> [flags]

Commands:
  generate-key [--out FILE] [--light]          create an encrypted wallet keystore
  address      [--key FILE]                    print the wallet address
  balance      [ADDRESS | --key FILE]          show lamports and nonce
  airdrop      --lamports N [--to ADDRESS | --key FILE]
                                               request development lamports
  init         [--key FILE]                    create the tip jar of the wallet
  tip          --owner ADDRESS --lamports N [--key FILE]
                                               send a tip to the owner's jar
  withdraw     --lamports N [--key FILE]       withdraw from the wallet's jar
  jar          [--owner ADDRESS | --key FILE]  show a tip jar
  info                                         show program information

Keystores are unlocked with TIPJAR_KEY_PASS or an interactive prompt.`)
}
